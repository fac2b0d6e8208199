package plumbing

import (
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/pkg/errors"
)

// IndexSnapshot is a mutable in-memory view of the repository's staging
// area; callers mutate it with AddByPath/Remove and persist it with Write.
type IndexSnapshot struct {
	repo *Repo
	idx  *index.Index
}

// Index reads the current index.
func (r *Repo) Index() (*IndexSnapshot, error) {
	idx, err := r.Repository.Storer.Index()
	if err != nil {
		return nil, errors.Wrap(err, "plumbing: read index")
	}
	return &IndexSnapshot{repo: r, idx: idx}, nil
}

// Entries returns all index entries.
func (s *IndexSnapshot) Entries() []*index.Entry {
	return s.idx.Entries
}

// GetByPath returns the entry at path, nil if absent.
func (s *IndexSnapshot) GetByPath(p string) *index.Entry {
	for _, e := range s.idx.Entries {
		if e.Name == p {
			return e
		}
	}
	return nil
}

// AddByPath stages a blob or submodule pointer at path.
func (s *IndexSnapshot) AddByPath(p string, hash plumbing.Hash, mode filemode.FileMode) {
	for i, e := range s.idx.Entries {
		if e.Name == p {
			s.idx.Entries[i].Hash = hash
			s.idx.Entries[i].Mode = mode
			return
		}
	}
	s.idx.Entries = append(s.idx.Entries, &index.Entry{Name: p, Hash: hash, Mode: mode})
}

// Remove deletes the entry at path, if present, and reports whether
// anything was removed.
func (s *IndexSnapshot) Remove(p string) bool {
	for i, e := range s.idx.Entries {
		if e.Name == p {
			s.idx.Entries = append(s.idx.Entries[:i], s.idx.Entries[i+1:]...)
			return true
		}
	}
	return false
}

// Write persists the snapshot back to the repository's storer.
func (s *IndexSnapshot) Write() error {
	return errors.Wrap(s.repo.Repository.Storer.SetIndex(s.idx), "plumbing: write index")
}

// WriteTree builds a tree object directly from the index's current
// entries, bypassing the worktree (used by the coordinator when the
// worktree is not open, e.g. a closed submodule).
func (s *IndexSnapshot) WriteTree() (plumbing.Hash, error) {
	flat := map[string]indexedEntry{}
	for _, e := range s.idx.Entries {
		flat[e.Name] = indexedEntry{Hash: e.Hash, Mode: e.Mode}
	}
	return writeIndexTreeLevel(s.repo, flat)
}

// indexedEntry is a resolved (hash, mode) pair used when materializing a
// tree straight from already-hashed index entries.
type indexedEntry struct {
	Hash plumbing.Hash
	Mode filemode.FileMode
}
