package plumbing

import (
	"io"
	"path"
	"sort"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"
)

// DeltaKind classifies one entry of a pairwise diff.
type DeltaKind int

const (
	DeltaAdded DeltaKind = iota
	DeltaModified
	DeltaRemoved
)

func (k DeltaKind) String() string {
	switch k {
	case DeltaAdded:
		return "added"
	case DeltaModified:
		return "modified"
	default:
		return "removed"
	}
}

// Delta is one path-level difference between two snapshots (tree, index,
// or workdir), sorted by path in every Diff* result.
type Delta struct {
	Path string
	Kind DeltaKind
}

// DiffTreeToIndex compares a commit tree against the current index:
// what has been staged since tree. A nil tree means "empty".
func (r *Repo) DiffTreeToIndex(tree *object.Tree) ([]Delta, error) {
	treeHashes, err := treeEntryHashes(tree)
	if err != nil {
		return nil, err
	}
	idx, err := r.Index()
	if err != nil {
		return nil, err
	}
	idxHashes := map[string]plumbing.Hash{}
	for _, e := range idx.Entries() {
		idxHashes[e.Name] = e.Hash
	}
	return diffHashMaps(treeHashes, idxHashes), nil
}

// DiffIndexToWorkdir compares the current index against the live working
// tree: what is modified but not yet staged. Untracked files surface as
// DeltaAdded.
func (r *Repo) DiffIndexToWorkdir() ([]Delta, error) {
	idx, err := r.Index()
	if err != nil {
		return nil, err
	}
	idxHashes := map[string]plumbing.Hash{}
	for _, e := range idx.Entries() {
		idxHashes[e.Name] = e.Hash
	}
	wdHashes, err := r.workdirHashes()
	if err != nil {
		return nil, err
	}
	return diffHashMaps(idxHashes, wdHashes), nil
}

// DiffTreeToWorkdir compares a commit tree directly against the live
// working tree, skipping the index entirely. A nil tree means "empty".
func (r *Repo) DiffTreeToWorkdir(tree *object.Tree) ([]Delta, error) {
	treeHashes, err := treeEntryHashes(tree)
	if err != nil {
		return nil, err
	}
	wdHashes, err := r.workdirHashes()
	if err != nil {
		return nil, err
	}
	return diffHashMaps(treeHashes, wdHashes), nil
}

// treeEntryHashes flattens a tree into path -> blob/submodule hash.
func treeEntryHashes(t *object.Tree) (map[string]plumbing.Hash, error) {
	out := map[string]plumbing.Hash{}
	if t == nil {
		return out, nil
	}
	walker := object.NewTreeWalker(t, true, nil)
	defer walker.Close()
	for {
		name, entry, err := walker.Next()
		if err != nil {
			break
		}
		if entry.Mode == filemode.Dir {
			continue
		}
		out[name] = entry.Hash
	}
	return out, nil
}

// workdirHashes hashes every file under the worktree (skipping .git and
// nested submodule worktrees) the way git would store it, so workdir
// entries compare against tree/index entries by object identity.
func (r *Repo) workdirHashes() (map[string]plumbing.Hash, error) {
	out := map[string]plumbing.Hash{}
	if r.Worktree == nil {
		return out, nil
	}
	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := r.Worktree.ReadDir(dir)
		if err != nil {
			return nil
		}
		for _, fi := range entries {
			p := path.Join(dir, fi.Name())
			if fi.Name() == ".git" {
				continue
			}
			if fi.IsDir() {
				// A directory with its own .git is an open submodule's
				// worktree, recorded by pointer, not content.
				if _, err := r.Worktree.Stat(path.Join(p, ".git")); err == nil {
					continue
				}
				if err := walk(p); err != nil {
					return err
				}
				continue
			}
			f, err := r.Worktree.Open(p)
			if err != nil {
				return errors.Wrapf(err, "plumbing: open %s", p)
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return errors.Wrapf(err, "plumbing: read %s", p)
			}
			out[p] = blobHash(data)
		}
		return nil
	}
	if err := walk("."); err != nil {
		return nil, err
	}
	return out, nil
}

func blobHash(data []byte) plumbing.Hash {
	return plumbing.ComputeHash(plumbing.BlobObject, data)
}

func diffHashMaps(before, after map[string]plumbing.Hash) []Delta {
	var out []Delta
	for p, h := range after {
		prev, had := before[p]
		switch {
		case !had:
			out = append(out, Delta{Path: p, Kind: DeltaAdded})
		case prev != h:
			out = append(out, Delta{Path: p, Kind: DeltaModified})
		}
	}
	for p := range before {
		if _, ok := after[p]; !ok {
			out = append(out, Delta{Path: p, Kind: DeltaRemoved})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
