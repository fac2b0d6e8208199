package status

import (
	"context"
	"sync"

	"github.com/go-git/go-git/v5/config"
	gogitplumbing "github.com/go-git/go-git/v5/plumbing"
	"golang.org/x/sync/errgroup"

	"github.com/kurobon/metarepo/internal/gitast"
	metaplumbing "github.com/kurobon/metarepo/internal/plumbing"
)

const gitmodulesPath = ".gitmodules"

// GetRepoStatus implements spec.md §4.D: derive a gitast.RepoStatus from
// a live repository. Submodule inspection runs one task per submodule,
// all joined on a barrier before assembly (spec.md §5).
func GetRepoStatus(ctx context.Context, repo *metaplumbing.Repo, opts Options) (*gitast.RepoStatus, error) {
	headHash, hasHead, err := repo.HeadCommit()
	if err != nil {
		return nil, err
	}
	branch, hasBranch, err := repo.CurrentBranch()
	if err != nil {
		return nil, err
	}

	seq, err := readSequencerState(repo)
	if err != nil {
		return nil, err
	}

	rs := &gitast.RepoStatus{
		Bare:       repo.Bare,
		Staged:     map[string]gitast.FileStatus{},
		Workdir:    map[string]gitast.FileStatus{},
		Submodules: map[string]*gitast.Submodule{},
		Sequencer:  seq,
		Rebase:     readRebaseState(repo),
	}
	if hasHead {
		rs.Head = headHash.String()
	}
	if hasBranch {
		rs.CurrentBranch = branch
	}

	if opts.ShowMetaChanges && !repo.Bare {
		bits, err := repo.StatusBits(nil)
		if err != nil {
			return nil, err
		}
		for path, b := range bits {
			if path == gitmodulesPath {
				continue
			}
			if staged, ok := classifyStaged(b); ok {
				rs.Staged[path] = staged
			}
			if wt, ok := classifyWorkdir(b); ok {
				rs.Workdir[path] = wt
			}
		}
		if !opts.ShowAllUntracked && opts.UntrackedFilesOption == UntrackedNormal {
			if err := collapseUntracked(repo, rs.Workdir); err != nil {
				return nil, err
			}
		}
	}

	headTreeSubs := map[string]gogitplumbing.Hash{}
	if hasHead {
		commit, err := repo.GetCommit(headHash)
		if err != nil {
			return nil, err
		}
		tree, err := repo.GetTree(commit)
		if err != nil {
			return nil, err
		}
		subs, err := repo.SubmodulePathsInTree(tree)
		if err != nil {
			return nil, err
		}
		headTreeSubs = subs
	}

	idx, err := repo.Index()
	if err != nil {
		return nil, err
	}
	indexSubs := idx.SubmodulePathsInIndex()

	gitmodules, _ := repo.GitmodulesInWorkdir()

	names := map[string]bool{}
	for n := range headTreeSubs {
		names[n] = true
	}
	for n := range indexSubs {
		names[n] = true
	}

	openSet := map[string]bool{}
	for n := range names {
		openSet[n] = repo.IsSubmoduleOpen(n)
	}

	_, subPathFilter := resolvePaths(opts.Paths, names)

	scope := make([]string, 0, len(names))
	for n := range names {
		if len(opts.Paths) > 0 {
			if _, ok := subPathFilter[n]; !ok {
				continue
			}
		}
		if !openSet[n] && !opts.IncludeClosedSubmodules {
			continue
		}
		scope = append(scope, n)
	}

	results := make(map[string]*gitast.Submodule, len(scope))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range scope {
		name := name
		g.Go(func() error {
			sub, err := computeSubmodule(gctx, repo, name, headTreeSubs[name], indexSubs[name], openSet[name], subPathFilter[name], gitmodules, opts)
			if err != nil {
				return err
			}
			mu.Lock()
			results[name] = sub
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for name, sub := range results {
		rs.Submodules[name] = sub
	}

	return rs, nil
}

func computeSubmodule(
	ctx context.Context,
	parent *metaplumbing.Repo,
	name string,
	commitHash, indexHash gogitplumbing.Hash,
	open bool,
	subPaths []string,
	gitmodules *config.Modules,
	opts Options,
) (*gitast.Submodule, error) {
	sub := &gitast.Submodule{Name: name, IndexShaRelation: gitast.RelUnknown, WorkdirShaRelation: gitast.RelUnknown}

	url := submoduleURL(gitmodules, name)

	hasCommit := commitHash != gogitplumbing.ZeroHash
	hasIndex := indexHash != gogitplumbing.ZeroHash

	if hasCommit {
		sub.Commit = &gitast.SubmoduleObservation{URL: url, SHA: commitHash.String()}
	}
	if hasIndex {
		sub.Index = &gitast.SubmoduleObservation{URL: url, SHA: indexHash.String()}
	}

	if !open {
		return sub, nil
	}

	child, err := parent.OpenSubmodule(name)
	if err != nil {
		return sub, nil
	}

	childHeadHash, hasChildHead, err := child.HeadCommit()
	if err != nil {
		return nil, err
	}
	if hasChildHead {
		sub.Workdir = &gitast.SubmoduleObservation{URL: url, SHA: childHeadHash.String()}
	}

	// Rel(x, y) reports x's position relative to y, so the staged pointer
	// is the first argument when asking "is the index ahead of the
	// recorded commit", and the live head when asking "is the child ahead
	// of what is staged".
	if hasCommit && hasIndex {
		sub.IndexShaRelation = child.Rel(indexHash, commitHash)
	}
	if hasIndex && hasChildHead {
		sub.WorkdirShaRelation = child.Rel(childHeadHash, indexHash)
	}

	childOpts := opts
	childOpts.Paths = subPaths
	childStatus, err := GetRepoStatus(ctx, child, childOpts)
	if err != nil {
		return nil, err
	}
	sub.Open = childStatus

	return sub, nil
}

func submoduleURL(mods *config.Modules, name string) string {
	if mods == nil {
		return ""
	}
	if sub, ok := mods.Submodules[name]; ok {
		return sub.URL
	}
	return ""
}
