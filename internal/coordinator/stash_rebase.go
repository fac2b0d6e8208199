package coordinator

import (
	"fmt"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	metaplumbing "github.com/kurobon/metarepo/internal/plumbing"
)

// rebaseStashChain replays the linear commit chain (base..tip] onto the
// child's current HEAD, used by StashApply when a stash commit carries
// more than two parents: those extra parents encode commits the submodule
// had at stash time that its current HEAD may no longer contain. Returns
// the new tip (HEAD itself when the chain is empty) and a non-empty
// conflict description when a chain commit's changes collide with changes
// HEAD already made to the same path — in that case a rebase-merge state
// directory is left behind so a later status call reports the rebase as
// in progress, matching what a user would see after a conflicted rebase.
func rebaseStashChain(child *metaplumbing.Repo, base, tip plumbing.Hash) (plumbing.Hash, string, error) {
	head, hasHead, err := child.HeadCommit()
	if err != nil {
		return plumbing.ZeroHash, "", err
	}
	if !hasHead {
		return plumbing.ZeroHash, "no HEAD to rebase onto", nil
	}

	chain, err := child.RevWalkRange(head, tip)
	if err != nil {
		return plumbing.ZeroHash, "", err
	}
	if len(chain) == 0 {
		return head, "", nil
	}
	// RevWalkRange walks tip-first; replay oldest-first. Commits already
	// behind base are not part of the stash chain.
	baseAncestors := map[plumbing.Hash]bool{}
	if walk, err := child.RevWalkRange(plumbing.ZeroHash, base); err == nil {
		for _, h := range walk {
			baseAncestors[h] = true
		}
	}
	ordered := make([]plumbing.Hash, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		if baseAncestors[chain[i]] {
			continue
		}
		ordered = append(ordered, chain[i])
	}

	headCommit, err := child.GetCommit(head)
	if err != nil {
		return plumbing.ZeroHash, "", err
	}
	onto := head
	ontoTree := headCommit.TreeHash

	for _, h := range ordered {
		c, err := child.GetCommit(h)
		if err != nil {
			return plumbing.ZeroHash, "", err
		}
		var parentTree plumbing.Hash
		if len(c.ParentHashes) > 0 {
			p, err := child.GetCommit(c.ParentHashes[0])
			if err != nil {
				return plumbing.ZeroHash, "", err
			}
			parentTree = p.TreeHash
		}

		chainChanges, err := child.DiffTrees(parentTree, c.TreeHash)
		if err != nil {
			return plumbing.ZeroHash, "", err
		}
		ontoChanges, err := child.DiffTrees(parentTree, ontoTree)
		if err != nil {
			return plumbing.ZeroHash, "", err
		}
		for p, ch := range chainChanges {
			if oc, collided := ontoChanges[p]; collided && oc != ch {
				if err := leaveRebaseInProgress(child, head, onto); err != nil {
					return plumbing.ZeroHash, "", err
				}
				return plumbing.ZeroHash, fmt.Sprintf("rebase of %s conflicts at %q", h, p), nil
			}
		}

		newTree, err := child.WriteTree(ontoTree, chainChanges)
		if err != nil {
			return plumbing.ZeroHash, "", err
		}
		newCommit, err := child.CreateCommit([]plumbing.Hash{onto}, c.Author, c.Committer, c.Message, newTree)
		if err != nil {
			return plumbing.ZeroHash, "", err
		}
		onto = newCommit
		ontoTree = newTree
	}

	if onto != head {
		if err := child.Repository.Storer.SetReference(plumbing.NewHashReference(plumbing.HEAD, onto)); err != nil {
			return plumbing.ZeroHash, "", err
		}
		wt, err := child.Repository.Worktree()
		if err != nil {
			return plumbing.ZeroHash, "", err
		}
		if err := wt.Checkout(&gogit.CheckoutOptions{Hash: onto, Force: true}); err != nil {
			return plumbing.ZeroHash, "", err
		}
	}
	return onto, "", nil
}

// leaveRebaseInProgress writes the minimal rebase-merge state the status
// aggregator's sequencer detection looks for, so a conflicted stash apply
// is visible as an in-progress rebase instead of silently half-done.
func leaveRebaseInProgress(child *metaplumbing.Repo, origHead, onto plumbing.Hash) error {
	if err := child.GitDir.MkdirAll("rebase-merge", 0o755); err != nil {
		return err
	}
	if err := writeFileToFS(child.GitDir, "rebase-merge/onto", []byte(onto.String()+"\n")); err != nil {
		return err
	}
	return writeFileToFS(child.GitDir, "ORIG_HEAD", []byte(origHead.String()+"\n"))
}
