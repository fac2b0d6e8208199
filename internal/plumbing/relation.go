package plumbing

import (
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/kurobon/metarepo/internal/gitast"
)

// DescendantOf reports whether child has ancestor in its history.
// DescendantOf(a,a) is true. A missing commit yields ok=false (BackendMissing,
// downgraded per spec §7) rather than an error.
func (r *Repo) DescendantOf(child, ancestor plumbing.Hash) (isDescendant bool, ok bool, err error) {
	if child == ancestor {
		return true, true, nil
	}
	childC, err := r.Repository.CommitObject(child)
	if err != nil {
		return false, false, nil
	}
	ancestorC, err := r.Repository.CommitObject(ancestor)
	if err != nil {
		return false, false, nil
	}
	is, err := ancestorC.IsAncestor(childC)
	if err != nil {
		return false, false, nil
	}
	return is, true, nil
}

// Rel computes the commit relation of x with respect to y: SAME, AHEAD (x
// descends from y), BEHIND (y descends from x), UNRELATED, or UNKNOWN when
// either commit is missing.
func (r *Repo) Rel(x, y plumbing.Hash) gitast.CommitRelation {
	if x == y {
		return gitast.RelSame
	}
	xDescendsY, ok, err := r.DescendantOf(x, y)
	if err != nil || !ok {
		return gitast.RelUnknown
	}
	if xDescendsY {
		return gitast.RelAhead
	}
	yDescendsX, ok, err := r.DescendantOf(y, x)
	if err != nil || !ok {
		return gitast.RelUnknown
	}
	if yDescendsX {
		return gitast.RelBehind
	}
	return gitast.RelUnrelated
}

// RevWalkRange returns the commits reachable from b but not from a (the
// moral equivalent of `git rev-list a..b`), in no particular order.
func (r *Repo) RevWalkRange(a, b plumbing.Hash) ([]plumbing.Hash, error) {
	excluded, err := r.ancestorSet(a)
	if err != nil {
		return nil, err
	}

	var out []plumbing.Hash
	seen := map[plumbing.Hash]bool{}
	queue := []plumbing.Hash{b}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if h == plumbing.ZeroHash || seen[h] || excluded[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)

		c, err := r.Repository.CommitObject(h)
		if err != nil {
			continue
		}
		queue = append(queue, c.ParentHashes...)
	}
	return out, nil
}

func (r *Repo) ancestorSet(from plumbing.Hash) (map[plumbing.Hash]bool, error) {
	set := map[plumbing.Hash]bool{}
	if from == plumbing.ZeroHash {
		return set, nil
	}
	queue := []plumbing.Hash{from}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if h == plumbing.ZeroHash || set[h] {
			continue
		}
		set[h] = true
		c, err := r.Repository.CommitObject(h)
		if err != nil {
			continue
		}
		queue = append(queue, c.ParentHashes...)
	}
	return set, nil
}
