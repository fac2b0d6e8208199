package plumbing

import (
	gogit "github.com/go-git/go-git/v5"
	"github.com/pkg/errors"
)

// StatusBit is one flag of the per-path bitfield spec.md §4.C describes.
type StatusBit uint8

const (
	IndexNew StatusBit = 1 << iota
	IndexDel
	IndexMod
	WTNew
	WTDel
	WTMod
)

// StatusBits computes the per-path bitfield for every path touched in the
// worktree/index, optionally restricted to paths (nil/empty means all). It
// is a thin remap of go-git's Worktree.Status(), which already diffs
// HEAD-tree vs index vs worktree for us.
func (r *Repo) StatusBits(paths []string) (map[string]StatusBit, error) {
	if r.Worktree == nil {
		return map[string]StatusBit{}, nil
	}
	wt, err := r.Repository.Worktree()
	if err != nil {
		return nil, errors.Wrap(err, "plumbing: worktree")
	}
	st, err := wt.Status()
	if err != nil {
		return nil, errors.Wrap(err, "plumbing: status")
	}

	want := map[string]bool{}
	for _, p := range paths {
		want[p] = true
	}

	out := map[string]StatusBit{}
	for path, fs := range st {
		if len(want) > 0 && !want[path] {
			continue
		}
		var bits StatusBit
		switch fs.Staging {
		case gogit.Added:
			bits |= IndexNew
		case gogit.Deleted:
			bits |= IndexDel
		case gogit.Modified, gogit.Renamed, gogit.Copied, gogit.UpdatedButUnmerged:
			bits |= IndexMod
		}
		switch fs.Worktree {
		case gogit.Untracked:
			bits |= WTNew
		case gogit.Deleted:
			bits |= WTDel
		case gogit.Modified, gogit.Renamed, gogit.Copied, gogit.UpdatedButUnmerged:
			bits |= WTMod
		}
		if bits != 0 {
			out[path] = bits
		}
	}
	return out, nil
}
