package shorthand

import (
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/pkg/errors"

	"github.com/kurobon/metarepo/internal/gitast"
	metaplumbing "github.com/kurobon/metarepo/internal/plumbing"
)

// IDMap translates a RepoAST's logical commit ids to the backend commit
// hashes the writer actually created.
type IDMap map[string]plumbing.Hash

// URLMap translates a logical repo name (as used for clone-of bases and
// remote urls in the shorthand grammar) to the on-disk path it was
// written to.
type URLMap map[string]string

// WriteRAST materializes a single RepoAST into a live repository rooted
// at targetPath and returns the id map from logical commit id to backend
// hash. Commits are created in topological order (parents before
// children) as spec.md §4.B requires.
func WriteRAST(ast *gitast.RepoAST, targetPath string) (IDMap, error) {
	repo, err := metaplumbing.InitOnDisk(targetPath, ast.Bare)
	if err != nil {
		return nil, errors.Wrapf(err, "shorthand: init %s", targetPath)
	}
	return WriteIntoRepo(ast, repo)
}

// WriteIntoRepo is WriteRAST against an already-open repository, used
// directly by tests that write into an in-memory repo rather than a real
// path on disk.
func WriteIntoRepo(ast *gitast.RepoAST, repo *metaplumbing.Repo) (IDMap, error) {
	ids := IDMap{}
	sig := metaplumbing.DefaultSignature(time.Now())

	order, err := topoSortCommits(ast)
	if err != nil {
		return nil, err
	}

	treeOf := map[string]plumbing.Hash{}
	for _, id := range order {
		c, _ := ast.CommitByID(id)

		var parents []plumbing.Hash
		var baseTree plumbing.Hash
		if len(c.Parents) > 0 {
			for _, p := range c.Parents {
				ph, ok := ids[p]
				if !ok {
					return nil, errors.Errorf("shorthand: commit %q references unwritten parent %q", id, p)
				}
				parents = append(parents, ph)
			}
			baseTree = treeOf[c.Parents[0]]
		}

		changes := map[string]gitast.Change{}
		for path, ch := range c.Changes {
			changes[path] = resolveSubmoduleSHA(ch, ids)
		}
		tree, err := repo.WriteTree(baseTree, changes)
		if err != nil {
			return nil, errors.Wrapf(err, "shorthand: write tree for commit %q", id)
		}

		hash, err := repo.CreateCommit(parents, sig, sig, c.Message, tree)
		if err != nil {
			return nil, errors.Wrapf(err, "shorthand: create commit %q", id)
		}
		ids[id] = hash
		treeOf[id] = tree
	}

	for name, br := range ast.Branches {
		hash, ok := ids[br.Commit]
		if !ok {
			return nil, errors.Errorf("shorthand: branch %q references unknown commit %q", name, br.Commit)
		}
		refName := plumbing.NewBranchReferenceName(name)
		if err := repo.CreateRef(refName, hash, true, ""); err != nil {
			return nil, err
		}
	}

	for name, commitID := range ast.Refs {
		hash, ok := ids[commitID]
		if !ok {
			return nil, errors.Errorf("shorthand: ref %q references unknown commit %q", name, commitID)
		}
		refName := plumbing.ReferenceName(name)
		if !strings.HasPrefix(name, "refs/") {
			refName = plumbing.NewTagReferenceName(name)
		}
		if err := repo.CreateRef(refName, hash, true, ""); err != nil {
			return nil, err
		}
	}

	if err := writeNotes(repo, ast, ids); err != nil {
		return nil, err
	}

	for remoteName, rem := range ast.Remotes {
		if err := writeRemoteConfig(repo, remoteName, rem); err != nil {
			return nil, err
		}
		for branch, commitID := range rem.Branches {
			hash, ok := ids[commitID]
			if !ok {
				continue
			}
			refName := plumbing.NewRemoteReferenceName(remoteName, branch)
			if err := repo.CreateRef(refName, hash, true, ""); err != nil {
				return nil, err
			}
		}
	}

	if ast.CurrentBranchName != "" {
		if err := repo.Repository.Storer.SetReference(
			plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(ast.CurrentBranchName)),
		); err != nil {
			return nil, errors.Wrap(err, "shorthand: set HEAD symbolic")
		}
	} else if ast.Head != "" {
		hash, ok := ids[ast.Head]
		if !ok {
			return nil, errors.Errorf("shorthand: head references unknown commit %q", ast.Head)
		}
		if err := repo.Repository.Storer.SetReference(plumbing.NewHashReference(plumbing.HEAD, hash)); err != nil {
			return nil, errors.Wrap(err, "shorthand: set HEAD detached")
		}
	}

	if !ast.Bare && repo.Worktree != nil {
		wt, err := repo.Repository.Worktree()
		if err != nil {
			return nil, errors.Wrap(err, "shorthand: worktree")
		}
		// Checking out by hash would detach HEAD; go through the branch
		// when one is current so the symbolic HEAD survives.
		switch {
		case ast.CurrentBranchName != "":
			if err := wt.Checkout(&gogit.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(ast.CurrentBranchName), Force: true}); err != nil {
				return nil, errors.Wrap(err, "shorthand: checkout current branch")
			}
		case ast.Head != "":
			if err := wt.Checkout(&gogit.CheckoutOptions{Hash: ids[ast.Head], Force: true}); err != nil {
				return nil, errors.Wrap(err, "shorthand: checkout head")
			}
		}
	}

	return ids, nil
}

// writeNotes materializes ast.Notes: one flat tree per notes ref whose
// entries are named by the annotated commit's backend hash and hold the
// note message, committed parentless under refs/notes/<ref>. Logical
// target ids are translated through ids; already-hex targets pass
// through (a note on a commit living in another repo of the fixture).
func writeNotes(repo *metaplumbing.Repo, ast *gitast.RepoAST, ids IDMap) error {
	for ref, notes := range ast.Notes {
		if len(notes) == 0 {
			continue
		}
		changes := map[string]gitast.Change{}
		for target, message := range notes {
			name := target
			if hash, ok := ids[target]; ok {
				name = hash.String()
			}
			changes[name] = gitast.BlobChange(message)
		}
		tree, err := repo.WriteTree(plumbing.ZeroHash, changes)
		if err != nil {
			return errors.Wrapf(err, "shorthand: notes tree for %q", ref)
		}
		sig := metaplumbing.DefaultSignature(time.Now())
		hash, err := repo.CreateCommit(nil, sig, sig, "Notes added by 'git notes add'", tree)
		if err != nil {
			return errors.Wrapf(err, "shorthand: notes commit for %q", ref)
		}
		refName := plumbing.ReferenceName("refs/notes/" + ref)
		if strings.HasPrefix(ref, "refs/") {
			refName = plumbing.ReferenceName(ref)
		}
		if err := repo.CreateRef(refName, hash, true, ""); err != nil {
			return err
		}
	}
	return nil
}

// resolveSubmoduleSHA translates a ChangeSubmodule's logical sha (a
// commit id from the same shorthand universe) through ids, when it
// refers to one; submodule changes whose SubmoduleSHA is already a real
// hex hash (not defined anywhere in this AST's commit pool, e.g. a
// fixture pointing at a pre-existing external repo) pass through
// unchanged.
func resolveSubmoduleSHA(ch gitast.Change, ids IDMap) gitast.Change {
	if ch.Kind != gitast.ChangeSubmodule {
		return ch
	}
	if hash, ok := ids[ch.SubmoduleSHA]; ok {
		return gitast.SubmoduleChange(ch.SubmoduleURL, hash.String())
	}
	return ch
}

// topoSortCommits orders ast's commits parents-before-children, in
// first-insertion order among commits whose parents are already placed.
func topoSortCommits(ast *gitast.RepoAST) ([]string, error) {
	ids := ast.CommitIDs()
	placed := map[string]bool{}
	var order []string

	for len(order) < len(ids) {
		progressed := false
		for _, id := range ids {
			if placed[id] {
				continue
			}
			c, _ := ast.CommitByID(id)
			ready := true
			for _, p := range c.Parents {
				if !placed[p] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			order = append(order, id)
			placed[id] = true
			progressed = true
		}
		if !progressed {
			return nil, errors.New("shorthand: cyclic or missing-parent commit graph")
		}
	}
	return order, nil
}

func writeRemoteConfig(repo *metaplumbing.Repo, name string, rem gitast.Remote) error {
	cfg, err := repo.Repository.Storer.Config()
	if err != nil {
		return errors.Wrap(err, "shorthand: read config")
	}
	cfg.Remotes[name] = &config.RemoteConfig{
		Name: name,
		URLs: []string{rem.URL},
		Fetch: []config.RefSpec{
			config.RefSpec("+refs/heads/*:refs/remotes/" + name + "/*"),
		},
	}
	return errors.Wrap(repo.Repository.Storer.SetConfig(cfg), "shorthand: write config")
}

// WriteMultiRAST writes every repo in astMap under targetRoot/<name> and
// returns the combined commit-id map (namespaced by repo) and a url remap
// from logical repo name to on-disk path, so later repos' remote urls
// (which reference earlier repos by logical name) can be resolved to
// real paths by callers that need to re-point a clone's remote.
func WriteMultiRAST(order []string, astMap map[string]*gitast.RepoAST, targetRoot string) (map[string]IDMap, URLMap, error) {
	ids := map[string]IDMap{}
	urls := URLMap{}

	for _, name := range order {
		ast, ok := astMap[name]
		if !ok {
			continue
		}
		path := targetRoot + "/" + name
		idMap, err := WriteRAST(ast, path)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "shorthand: write repo %q", name)
		}
		ids[name] = idMap
		urls[name] = path
	}
	return ids, urls, nil
}
