package coordinator

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"

	"github.com/kurobon/metarepo/internal/gitast"
	metaplumbing "github.com/kurobon/metarepo/internal/plumbing"
)

// refStashName is the per-submodule ref a stash apply sets to the commit
// it just applied, mirroring plain git's own refs/stash convention so a
// reader already familiar with it recognizes the pattern.
const refStashName = plumbing.ReferenceName("refs/stash")

// StashListEntry is one line of StashList's output, newest first
// (stash@{0} is the most recently saved stash).
type StashListEntry struct {
	Index   int
	SHA     string
	Message string
}

// StashList implements spec.md §4.E.3's "list" form: the meta-stash
// reflog read back out in stash@{N} order (newest first).
func StashList(meta *metaplumbing.Repo) ([]StashListEntry, error) {
	reflog, err := meta.ReadReflog(metaStashRef)
	if err != nil {
		return nil, wrapBackend(err, "stash list: read reflog")
	}
	// reflog is oldest-first; stash@{0} is the most recent entry.
	out := make([]StashListEntry, len(reflog))
	for i := range out {
		src := reflog[len(reflog)-1-i]
		out[i] = StashListEntry{Index: i, SHA: src.New.String(), Message: src.Message}
	}
	return out, nil
}

func resolveStashSHA(meta *metaplumbing.Repo, index int) (plumbing.Hash, error) {
	reflog, err := meta.ReadReflog(metaStashRef)
	if err != nil {
		return plumbing.ZeroHash, wrapBackend(err, "stash: read reflog")
	}
	if index < 0 || index >= len(reflog) {
		return plumbing.ZeroHash, NewUserError("stash: no stash at index %d", index)
	}
	return reflog[len(reflog)-1-index].New, nil
}

// StashDrop implements spec.md §4.E.3's "drop" form: remove the Nth
// reflog entry and, if that was the top entry, advance refs/meta-stash to
// the new top (or delete the ref entirely when the stack is now empty).
func StashDrop(meta *metaplumbing.Repo, index int) error {
	if _, err := resolveStashSHA(meta, index); err != nil {
		return err
	}
	if err := meta.DropReflogEntry(metaStashRef, index); err != nil {
		return wrapBackend(err, "stash drop: rewrite reflog")
	}
	if index != 0 {
		return nil
	}
	remaining, err := meta.ReadReflog(metaStashRef)
	if err != nil {
		return wrapBackend(err, "stash drop: read reflog")
	}
	if len(remaining) == 0 {
		return wrapBackend(meta.RemoveRef(metaStashRef), "stash drop: remove refs/meta-stash")
	}
	top := remaining[len(remaining)-1].New
	return wrapBackend(meta.CreateRef(metaStashRef, top, true, ""), "stash drop: advance refs/meta-stash")
}

// StashApply implements spec.md §4.E.3's "apply" form: replay a
// previously saved stash back onto the meta repository and every
// submodule it touched, without removing the stash entry itself. When
// reinstateIndex is set, each touched submodule's index is restored to
// the stash's own synthetic index tree rather than its current HEAD
// (mirroring plain git's `stash apply --index`). Failures on individual
// submodules (the stash commit, or the submodule itself, no longer being
// reachable locally) are collected and reported together as a
// StateConflict; everything that did apply is left applied.
func StashApply(meta *metaplumbing.Repo, index int, reinstateIndex bool) (map[string]string, error) {
	entry := log.WithField("op", "stash-apply").WithField("index", index)

	stashSHA, err := resolveStashSHA(meta, index)
	if err != nil {
		return nil, err
	}
	stashCommit, err := meta.GetCommit(stashSHA)
	if err != nil {
		return nil, wrapBackend(err, "stash apply: resolve meta-stash commit")
	}
	if len(stashCommit.ParentHashes) == 0 {
		return nil, NewInternal(errors.New("stash apply: meta-stash commit has no parents"))
	}

	parentCommit, err := meta.GetCommit(stashCommit.ParentHashes[0])
	if err != nil {
		return nil, wrapBackend(err, "stash apply: resolve pre-stash meta commit")
	}
	parentTree, err := meta.GetTree(parentCommit)
	if err != nil {
		return nil, wrapBackend(err, "stash apply: pre-stash meta tree")
	}
	stashTree, err := meta.GetTree(stashCommit)
	if err != nil {
		return nil, wrapBackend(err, "stash apply: meta-stash tree")
	}

	subsInParent, err := meta.SubmodulePathsInTree(parentTree)
	if err != nil {
		return nil, wrapBackend(err, "stash apply: submodules in pre-stash tree")
	}
	subsInStash, err := meta.SubmodulePathsInTree(stashTree)
	if err != nil {
		return nil, wrapBackend(err, "stash apply: submodules in meta-stash tree")
	}
	subsInIndexParent := subsInParent
	if len(stashCommit.ParentHashes) > 1 {
		indexCommit, err := meta.GetCommit(stashCommit.ParentHashes[1])
		if err != nil {
			return nil, wrapBackend(err, "stash apply: resolve meta index commit")
		}
		indexTree, err := meta.GetTree(indexCommit)
		if err != nil {
			return nil, wrapBackend(err, "stash apply: meta index tree")
		}
		subsInIndexParent, err = meta.SubmodulePathsInTree(indexTree)
		if err != nil {
			return nil, wrapBackend(err, "stash apply: submodules in meta index tree")
		}
	}

	idx, err := meta.Index()
	if err != nil {
		return nil, wrapBackend(err, "stash apply: meta index")
	}
	idxDirty := false

	if !meta.Bare {
		gmEntry, err := meta.EntryByPath(stashTree, metaGitmodulesPath)
		if err != nil {
			return nil, wrapBackend(err, "stash apply: locate .gitmodules in stash tree")
		}
		if gmEntry != nil {
			blob, err := meta.Repository.BlobObject(gmEntry.Hash)
			if err != nil {
				return nil, wrapBackend(err, "stash apply: .gitmodules blob")
			}
			rd, err := blob.Reader()
			if err != nil {
				return nil, wrapBackend(err, "stash apply: read .gitmodules blob")
			}
			data, err := io.ReadAll(rd)
			rd.Close()
			if err != nil {
				return nil, wrapBackend(err, "stash apply: read .gitmodules blob")
			}
			if err := writeFileToFS(meta.Worktree, metaGitmodulesPath, data); err != nil {
				return nil, wrapBackend(err, "stash apply: write .gitmodules")
			}
			idx.AddByPath(metaGitmodulesPath, gmEntry.Hash, gmEntry.Mode)
			idxDirty = true
		}
	}

	if !meta.Bare {
		// Restore the meta repo's own stashed files (the submodule
		// pointers and .gitmodules are handled separately below).
		metaChanges, err := meta.DiffTrees(parentTree.Hash, stashTree.Hash)
		if err != nil {
			return nil, wrapBackend(err, "stash apply: diff meta trees")
		}
		for p, ch := range metaChanges {
			_, subBefore := subsInParent[p]
			_, subAfter := subsInStash[p]
			if p == metaGitmodulesPath || ch.Kind == gitast.ChangeSubmodule || subBefore || subAfter {
				delete(metaChanges, p)
			}
		}
		if err := applyChangesToFS(meta.Worktree, metaChanges); err != nil {
			return nil, wrapBackend(err, "stash apply: restore meta workdir")
		}
	}

	for name := range subsInParent {
		if _, staged := subsInIndexParent[name]; !staged {
			// Absent from the index-parent tree: the removal was staged at
			// stash time, so it comes back as an index-level removal.
			idx.Remove(name)
			idxDirty = true
		}
		if _, ok := subsInStash[name]; ok {
			continue
		}
		// Present before the stash, absent from the stash tree: the
		// submodule was workdir-deleted at stash time.
		if !meta.Bare {
			if err := removeAllFS(meta.Worktree, name); err != nil {
				return nil, wrapBackend(err, "stash apply: remove %q", name)
			}
		}
		idx.Remove(name)
		idxDirty = true
	}

	var failures []string
	subSHAs := map[string]string{}

	for name, stashSubSHA := range subsInStash {
		if parentSHA, had := subsInParent[name]; had && parentSHA == stashSubSHA {
			continue
		}

		child, ok := openChildBestEffort(meta, name)
		if !ok {
			failures = append(failures, fmt.Sprintf("%s: submodule is not open locally", name))
			continue
		}
		subStashCommit, err := child.GetCommit(stashSubSHA)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: stash commit %s not found locally", name, stashSubSHA))
			continue
		}
		if len(subStashCommit.ParentHashes) == 0 {
			failures = append(failures, fmt.Sprintf("%s: malformed stash commit", name))
			continue
		}

		if len(subStashCommit.ParentHashes) > 2 {
			// Extra parents record what the save-side encoding (see
			// StashSave) captured: parents[0] is the child's pre-stash
			// HEAD, parents[2] the meta-recorded pointer. The stash save
			// left the child checked out at the meta pointer, so commits
			// the child carried beyond it live only in parents[0] — replay
			// the chain (parents[2]..parents[0]] onto the current HEAD
			// before restoring the workdir, so those commits are not lost.
			_, conflict, err := rebaseStashChain(child, subStashCommit.ParentHashes[2], subStashCommit.ParentHashes[0])
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: rebase stashed commits: %v", name, err))
				continue
			}
			if conflict != "" {
				failures = append(failures, fmt.Sprintf("%s: %s", name, conflict))
				continue
			}
		}

		childIdx, err := child.Index()
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: read index: %v", name, err))
			continue
		}
		childIndexTree, err := childIdx.WriteTree()
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: build index tree: %v", name, err))
			continue
		}
		changes, err := child.DiffTrees(childIndexTree, subStashCommit.TreeHash)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: diff stash tree: %v", name, err))
			continue
		}
		if err := applyChangesToFS(child.Worktree, changes); err != nil {
			failures = append(failures, fmt.Sprintf("%s: apply to worktree: %v", name, err))
			continue
		}

		var targetTree *object.Tree
		if reinstateIndex && len(subStashCommit.ParentHashes) > 1 {
			indexCommitObj, err := child.GetCommit(subStashCommit.ParentHashes[1])
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: resolve stash index commit: %v", name, err))
				continue
			}
			targetTree, err = child.GetTree(indexCommitObj)
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: stash index tree: %v", name, err))
				continue
			}
		} else if headHash, hasHead, _ := child.HeadCommit(); hasHead {
			headCommitObj, err := child.GetCommit(headHash)
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: resolve HEAD: %v", name, err))
				continue
			}
			targetTree, err = child.GetTree(headCommitObj)
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: HEAD tree: %v", name, err))
				continue
			}
		} else {
			targetTree, err = child.GetTree(subStashCommit)
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: stash tree: %v", name, err))
				continue
			}
		}
		if err := setIndexFromTree(child, targetTree); err != nil {
			failures = append(failures, fmt.Sprintf("%s: rewrite index: %v", name, err))
			continue
		}

		if err := child.CreateRef(refStashName, subStashCommit.Hash, true, ""); err != nil {
			failures = append(failures, fmt.Sprintf("%s: set refs/stash: %v", name, err))
			continue
		}

		subSHAs[name] = stashSubSHA.String()
		// A 4-parent stash additionally recorded what the meta index held
		// for this submodule at stash time; reinstate exactly that
		// pointer. A plain 2-parent stash carried no meta-index facet, so
		// the meta index stays untouched.
		if len(subStashCommit.ParentHashes) == 4 {
			idx.AddByPath(name, subStashCommit.ParentHashes[3], filemode.Submodule)
			idxDirty = true
		}
	}

	if idxDirty {
		if err := idx.Write(); err != nil {
			return subSHAs, wrapBackend(err, "stash apply: write meta index")
		}
	}

	if len(failures) > 0 {
		return subSHAs, NewStateConflict("resolve the listed submodules manually, then stash drop if appropriate", "stash apply: %s", strings.Join(failures, "; "))
	}

	entry.Info("applied")
	return subSHAs, nil
}

// StashPop implements spec.md §4.E.3's "pop" form: apply, then drop the
// entry and each touched submodule's protective refs/sub-stash/<sha> —
// but only once the apply reported no failures, so a conflicted pop
// leaves the stash entry (and the protection refs) in place for a retry.
func StashPop(meta *metaplumbing.Repo, index int, reinstateIndex bool) (map[string]string, error) {
	subSHAs, err := StashApply(meta, index, reinstateIndex)
	if err != nil {
		return subSHAs, err
	}
	if err := StashDrop(meta, index); err != nil {
		return subSHAs, err
	}
	for name, sha := range subSHAs {
		child, ok := openChildBestEffort(meta, name)
		if !ok {
			continue
		}
		refName := plumbing.ReferenceName(fmt.Sprintf(subStashRefFmt, sha))
		if err := child.RemoveRef(refName); err != nil {
			return subSHAs, wrapBackend(err, "stash pop: drop sub-stash ref in %q", name)
		}
	}
	return subSHAs, nil
}
