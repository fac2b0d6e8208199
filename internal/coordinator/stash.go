package coordinator

import (
	"fmt"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"golang.org/x/sync/errgroup"

	"github.com/kurobon/metarepo/internal/gitast"
	metaplumbing "github.com/kurobon/metarepo/internal/plumbing"
)

// metaStashRef and subStashRefFmt are the reference names spec.md §6
// assigns this feature.
const (
	metaStashRef   = plumbing.ReferenceName("refs/meta-stash")
	subStashRefFmt = "refs/sub-stash/%s"
)

// StashSaveResult is what StashSave returns: the new meta-stash commit,
// and every submodule that got a per-sub stash entry (deletedSentinelSHA
// for a submodule that was closed-and-deleted rather than a real commit).
type StashSaveResult struct {
	MetaStashSHA string
	SubStashes   map[string]string
}

// subStashOutcome is stashSubmodule's per-submodule result: SHA=="" and
// Deleted==false together mean "nothing to stash, leave untouched".
type subStashOutcome struct {
	SHA     string
	Deleted bool
}

// StashSave implements spec.md §4.E.2.
//
// The per-submodule stash commit's parent list is this module's own,
// explicitly non-interoperable, invention (spec.md §9 flags the whole
// 4-parent scheme as "the source's invention... not interoperable with
// other tools"). The rule this implementation commits to, so save/apply
// round-trip deterministically:
//
//	parents[0] = the "base" — the child's live HEAD when the submodule is
//	             open, else the meta-recorded pointer (sub.Commit.SHA)
//	             when it is closed (there is no live HEAD to use).
//	parents[1] = a synthetic commit over parents[0] whose tree is the
//	             child's current index tree (the standard stash parent
//	             #2).
//	parents[2], parents[3] (present only when needed) = the
//	             meta-recorded commit pointer and the meta-recorded index
//	             sha, respectively, whenever either differs from
//	             parents[0] — this is what lets StashApply recover "what
//	             did the meta repo think this submodule pointed at"
//	             independently of the child's own, possibly-diverged,
//	             history. When neither differs the commit stays a plain
//	             2-parent stash.
//
// The one exception is a closed submodule whose commit and index shas
// differ (no live HEAD at all, nothing to rebase against later): spec.md
// §4.E.2 names this commit's parents literally as
// [subCommit, indexCommit, indexCommit, indexCommit], and this
// implementation reproduces that literally rather than going through the
// general rule above.
func StashSave(meta *metaplumbing.Repo, metaStatus *gitast.RepoStatus, message string) (*StashSaveResult, error) {
	entry := log.WithField("op", "stash-save")

	metaHead, hasHead, err := meta.HeadCommit()
	if err != nil {
		return nil, wrapBackend(err, "stash save: meta head")
	}
	if !hasHead {
		return nil, NewUserError("stash save: meta repository has no commits yet")
	}

	names := make([]string, 0, len(metaStatus.Submodules))
	for name := range metaStatus.Submodules {
		names = append(names, name)
	}
	outcomes := make([]subStashOutcome, len(names))

	var g errgroup.Group
	for i := range names {
		i, name := i, names[i]
		sub := metaStatus.Submodules[name]
		g.Go(func() error {
			out, err := stashSubmodule(meta, name, sub)
			if err != nil {
				return wrapBackend(err, "stash save: submodule %q", name)
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	subStashes := map[string]string{}
	treeChanges := map[string]gitast.Change{}
	for i, name := range names {
		out := outcomes[i]
		switch {
		case out.Deleted:
			subStashes[name] = deletedSentinelSHA
			treeChanges[name] = gitast.RemoveChange()
		case out.SHA != "":
			subStashes[name] = out.SHA
			url := ""
			if metaStatus.Submodules[name].Commit != nil {
				url = metaStatus.Submodules[name].Commit.URL
			}
			treeChanges[name] = gitast.SubmoduleChange(url, out.SHA)
		}
	}

	metaHeadCommit, err := meta.GetCommit(metaHead)
	if err != nil {
		return nil, wrapBackend(err, "stash save: meta head commit")
	}
	metaHeadTree, err := meta.GetTree(metaHeadCommit)
	if err != nil {
		return nil, wrapBackend(err, "stash save: meta head tree")
	}

	// The meta repo's own uncommitted files go into the stash tree too,
	// alongside the submodule pointers, or the hard reset below would
	// discard them with no way back.
	if !meta.Bare {
		metaFiles := map[string]gitast.FileStatus{}
		for p, fs := range metaStatus.Workdir {
			if _, isSub := metaStatus.Submodules[p]; isSub {
				continue
			}
			metaFiles[p] = fs
		}
		fileChanges, err := readWorkdirChanges(meta.Worktree, metaFiles)
		if err != nil {
			return nil, wrapBackend(err, "stash save: read meta workdir")
		}
		for p, ch := range fileChanges {
			treeChanges[p] = ch
		}
	}

	stashTree, err := meta.WriteTree(metaHeadTree.Hash, treeChanges)
	if err != nil {
		return nil, wrapBackend(err, "stash save: build meta-stash tree")
	}

	sig := metaplumbing.DefaultSignature(time.Now())
	parents := []plumbing.Hash{metaHead}
	if gitmodulesStaged(meta, metaHeadTree) {
		idx, err := meta.Index()
		if err != nil {
			return nil, wrapBackend(err, "stash save: meta index")
		}
		indexTree, err := idx.WriteTree()
		if err != nil {
			return nil, wrapBackend(err, "stash save: meta index tree")
		}
		indexCommit, err := meta.CreateCommit([]plumbing.Hash{metaHead}, sig, sig, "index on stash", indexTree)
		if err != nil {
			return nil, wrapBackend(err, "stash save: meta index commit")
		}
		parents = append(parents, indexCommit)
	}

	branch, _, _ := meta.CurrentBranch()
	stashMsg := message
	if stashMsg == "" {
		stashMsg = defaultStashMessage(branch, metaHead, metaHeadCommit.Message)
	}

	metaStashHash, err := meta.CreateCommit(parents, sig, sig, stashMsg, stashTree)
	if err != nil {
		return nil, wrapBackend(err, "stash save: create meta-stash commit")
	}

	if err := meta.CreateRef(metaStashRef, metaStashHash, true, stashMsg); err != nil {
		return nil, wrapBackend(err, "stash save: update refs/meta-stash")
	}

	if !meta.Bare {
		wt, err := meta.Repository.Worktree()
		if err != nil {
			return nil, wrapBackend(err, "stash save: meta worktree")
		}
		if err := wt.Reset(&gogit.ResetOptions{Mode: gogit.HardReset, Commit: metaHead}); err != nil {
			return nil, wrapBackend(err, "stash save: reset meta worktree")
		}
	}

	entry.WithField("meta-stash", metaStashHash.String()).Info("saved")
	return &StashSaveResult{MetaStashSHA: metaStashHash.String(), SubStashes: subStashes}, nil
}

func stashSubmodule(meta *metaplumbing.Repo, name string, sub *gitast.Submodule) (subStashOutcome, error) {
	if sub.Commit == nil {
		// New: no recorded commit observation at all. spec.md §9 directs
		// us to preserve the source's documented "safe" behavior here —
		// skip it entirely rather than attempt to include a pointer with
		// nothing to anchor it to.
		return subStashOutcome{}, nil
	}
	if sub.Index == nil {
		return subStashOutcome{SHA: deletedSentinelSHA, Deleted: true}, nil
	}

	sig := metaplumbing.DefaultSignature(time.Now())
	metaPtr := hashFromHex(sub.Commit.SHA)
	var metaIndexSHA plumbing.Hash
	hasMetaIndexSHA := sub.Index != nil
	if hasMetaIndexSHA {
		metaIndexSHA = hashFromHex(sub.Index.SHA)
	}

	if sub.Workdir == nil {
		// Closed.
		if sub.Commit.SHA == sub.Index.SHA {
			return subStashOutcome{}, nil
		}
		child, ok := openChildBestEffort(meta, name)
		if !ok {
			log.WithField("submodule", name).Debug("stash save: closed submodule unreachable, skipping")
			return subStashOutcome{}, nil
		}
		indexCommitObj, err := child.GetCommit(metaIndexSHA)
		if err != nil {
			return subStashOutcome{}, fmt.Errorf("stash save: resolve index commit for %q: %w", name, err)
		}
		tree := indexCommitObj.TreeHash
		indexCommit, err := child.CreateCommit([]plumbing.Hash{metaPtr}, sig, sig, stashMessageSub(name), tree)
		if err != nil {
			return subStashOutcome{}, err
		}
		parents := []plumbing.Hash{metaPtr, indexCommit, indexCommit, indexCommit}
		stashHash, err := child.CreateCommit(parents, sig, sig, stashMessageSub(name), tree)
		if err != nil {
			return subStashOutcome{}, err
		}
		if err := protectSubStash(child, stashHash); err != nil {
			return subStashOutcome{}, err
		}
		return subStashOutcome{SHA: stashHash.String()}, nil
	}

	// Open.
	child, ok := openChildBestEffort(meta, name)
	if !ok {
		log.WithField("submodule", name).Debug("stash save: open submodule unreachable, skipping")
		return subStashOutcome{}, nil
	}
	childHead := hashFromHex(sub.Workdir.SHA)
	dirty := sub.Open != nil && len(sub.Open.Workdir) > 0
	headDivergesFromMeta := childHead != metaPtr

	if !dirty && !headDivergesFromMeta {
		return subStashOutcome{}, nil
	}

	idxSnap, err := child.Index()
	if err != nil {
		return subStashOutcome{}, err
	}
	indexTreeHash, err := idxSnap.WriteTree()
	if err != nil {
		return subStashOutcome{}, err
	}

	var stashTreeHash plumbing.Hash
	if dirty {
		changes, err := readWorkdirChanges(child.Worktree, sub.Open.Workdir)
		if err != nil {
			return subStashOutcome{}, err
		}
		stashTreeHash, err = child.WriteTree(indexTreeHash, changes)
		if err != nil {
			return subStashOutcome{}, err
		}
	} else {
		headCommitObj, err := child.GetCommit(childHead)
		if err != nil {
			return subStashOutcome{}, err
		}
		stashTreeHash = headCommitObj.TreeHash
		indexTreeHash = stashTreeHash
	}

	indexCommit, err := child.CreateCommit([]plumbing.Hash{childHead}, sig, sig, stashMessageSub(name), indexTreeHash)
	if err != nil {
		return subStashOutcome{}, err
	}

	parents := buildStashParents(childHead, indexCommit, metaPtr, true, metaIndexSHA, hasMetaIndexSHA)
	stashHash, err := child.CreateCommit(parents, sig, sig, stashMessageSub(name), stashTreeHash)
	if err != nil {
		return subStashOutcome{}, err
	}
	if err := protectSubStash(child, stashHash); err != nil {
		return subStashOutcome{}, err
	}

	childWT, err := child.Repository.Worktree()
	if err != nil {
		return subStashOutcome{}, err
	}
	if err := childWT.Checkout(&gogit.CheckoutOptions{Hash: metaPtr, Force: true}); err != nil {
		return subStashOutcome{}, err
	}

	return subStashOutcome{SHA: stashHash.String()}, nil
}

// buildStashParents applies this module's 4-parent resolution rule
// (documented on StashSave) uniformly to both open-submodule branches.
func buildStashParents(base, indexCommit, metaPtr plumbing.Hash, hasMetaPtr bool, metaIndexSHA plumbing.Hash, hasMetaIndexSHA bool) []plumbing.Hash {
	parents := []plumbing.Hash{base, indexCommit}
	p3, p4 := indexCommit, indexCommit
	if hasMetaPtr {
		p3 = metaPtr
	}
	if hasMetaIndexSHA {
		p4 = metaIndexSHA
	}
	needExt := (hasMetaPtr && metaPtr != base) || (hasMetaIndexSHA && metaIndexSHA != base)
	if needExt {
		parents = append(parents, p3, p4)
	}
	return parents
}

func protectSubStash(child *metaplumbing.Repo, stashHash plumbing.Hash) error {
	name := plumbing.ReferenceName(fmt.Sprintf(subStashRefFmt, stashHash.String()))
	return child.CreateRef(name, stashHash, true, "")
}

func openChildBestEffort(meta *metaplumbing.Repo, name string) (*metaplumbing.Repo, bool) {
	child, err := meta.OpenSubmodule(name)
	if err != nil {
		return nil, false
	}
	return child, true
}

const metaGitmodulesPath = ".gitmodules"

func gitmodulesStaged(meta *metaplumbing.Repo, headTree *object.Tree) bool {
	idx, err := meta.Index()
	if err != nil {
		return false
	}
	indexEntry := idx.GetByPath(metaGitmodulesPath)
	headEntry, _ := meta.EntryByPath(headTree, metaGitmodulesPath)
	switch {
	case indexEntry == nil && headEntry == nil:
		return false
	case indexEntry == nil || headEntry == nil:
		return true
	default:
		return indexEntry.Hash != headEntry.Hash
	}
}

func defaultStashMessage(branch string, head plumbing.Hash, subject string) string {
	if branch == "" {
		branch = "(no branch)"
	}
	short := head.String()
	if len(short) > 7 {
		short = short[:7]
	}
	return fmt.Sprintf("WIP on %s: %s %s", branch, short, strings.SplitN(subject, "\n", 2)[0])
}

func stashMessageSub(name string) string {
	return "metarepo-private-sub-stash: " + name
}
