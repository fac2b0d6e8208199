// Package plumbing is the narrow, typed capability surface spec.md §4.C
// describes: open/create a repository, read and write trees and commits
// without touching the index, read/update references and reflogs, walk
// revisions, compute commit relations, fetch a single object. It wraps the
// low-level object/ref primitives of github.com/go-git/go-git/v5; the
// higher layers (internal/status, internal/coordinator) additionally use
// go-git's own Worktree type directly for ordinary worktree-level
// operations (Add, Checkout, Reset, Status) the same way the rest of the
// ecosystem does — this package exists for the primitives go-git does not
// expose as a stable convenience (layered tree writes, parentless commit
// creation, reflog CRUD), not to hide go-git behind an opaque facade.
//
// Repositories are always backed by storage/filesystem over a
// github.com/go-git/go-billy/v5 filesystem (osfs for real repos, memfs for
// tests), never storage/memory: reflogs are not part of go-git's public
// object-database API, so this package reads and writes them itself as
// plain files under the repository's git directory, which only works when
// that directory is addressable as a billy.Filesystem.
package plumbing

import (
	"fmt"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/pkg/errors"

	"github.com/kurobon/metarepo/internal/config"
)

// ErrNotARepo is returned by Open when path does not contain a repository.
var ErrNotARepo = fmt.Errorf("plumbing: not a repository")

// Repo wraps a go-git repository together with the billy filesystem its
// git directory lives on, which readReflog/appendReflog/dropReflogEntry
// need directly.
type Repo struct {
	*gogit.Repository

	// Worktree is nil for a bare repository.
	Worktree billy.Filesystem
	// GitDir is the ".git" directory (or the repository root itself, for a
	// bare repository) as a billy.Filesystem, used for reflog file access.
	GitDir billy.Filesystem
	Bare   bool
}

// InitOnDisk creates a new repository rooted at path on the real
// filesystem. bare=true creates a bare repository (GitDir==the root).
func InitOnDisk(path string, bare bool) (*Repo, error) {
	root := osfs.New(path)
	return initWith(root, bare)
}

// InitInMemory creates a new repository backed entirely by an in-memory
// billy filesystem, used by property tests that write and re-read many
// fixtures without touching disk.
func InitInMemory(root billy.Filesystem, bare bool) (*Repo, error) {
	return initWith(root, bare)
}

func initWith(root billy.Filesystem, bare bool) (*Repo, error) {
	gitDir := root
	var wt billy.Filesystem
	if !bare {
		var err error
		gitDir, err = root.Chroot(".git")
		if err != nil {
			return nil, errors.Wrap(err, "plumbing: chroot .git")
		}
		wt = root
	}

	storer := filesystem.NewStorage(gitDir, cache.NewObjectLRUDefault())
	repo, err := gogit.Init(storer, wt)
	if err != nil {
		return nil, errors.Wrap(err, "plumbing: init")
	}
	return &Repo{Repository: repo, Worktree: wt, GitDir: gitDir, Bare: bare}, nil
}

// OpenOnDisk opens an existing repository rooted at path.
func OpenOnDisk(path string, bare bool) (*Repo, error) {
	root := osfs.New(path)
	return openWith(root, bare)
}

// OpenInMemory opens an existing repository on an in-memory filesystem
// previously populated by InitInMemory.
func OpenInMemory(root billy.Filesystem, bare bool) (*Repo, error) {
	return openWith(root, bare)
}

func openWith(root billy.Filesystem, bare bool) (*Repo, error) {
	gitDir := root
	var wt billy.Filesystem
	if !bare {
		var err error
		gitDir, err = root.Chroot(".git")
		if err != nil {
			return nil, errors.Wrap(err, "plumbing: chroot .git")
		}
		wt = root
	}

	if _, err := gitDir.Stat("HEAD"); err != nil {
		return nil, ErrNotARepo
	}

	storer := filesystem.NewStorage(gitDir, cache.NewObjectLRUDefault())
	repo, err := gogit.Open(storer, wt)
	if err != nil {
		return nil, errors.Wrap(err, "plumbing: open")
	}
	return &Repo{Repository: repo, Worktree: wt, GitDir: gitDir, Bare: bare}, nil
}

// HeadCommit returns the hash HEAD points to, or ok=false for an empty
// repository (no commits yet).
func (r *Repo) HeadCommit() (plumbing.Hash, bool, error) {
	ref, err := r.Repository.Head()
	if err == plumbing.ErrReferenceNotFound {
		return plumbing.ZeroHash, false, nil
	}
	if err != nil {
		return plumbing.ZeroHash, false, errors.Wrap(err, "plumbing: head")
	}
	return ref.Hash(), true, nil
}

// CurrentBranch returns the short branch name HEAD is symbolic for, or
// ok=false when HEAD is detached or the repository is empty.
func (r *Repo) CurrentBranch() (string, bool, error) {
	ref, err := r.Repository.Head()
	if err == plumbing.ErrReferenceNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "plumbing: head")
	}
	if !ref.Name().IsBranch() {
		return "", false, nil
	}
	return ref.Name().Short(), true, nil
}

// GetCommit resolves a commit object by hash.
func (r *Repo) GetCommit(id plumbing.Hash) (*object.Commit, error) {
	c, err := r.Repository.CommitObject(id)
	if err != nil {
		return nil, errors.Wrapf(err, "plumbing: commit %s", id)
	}
	return c, nil
}

// GetTree resolves a commit's tree object.
func (r *Repo) GetTree(c *object.Commit) (*object.Tree, error) {
	t, err := c.Tree()
	if err != nil {
		return nil, errors.Wrapf(err, "plumbing: tree of %s", c.Hash)
	}
	return t, nil
}

// EntryByPath looks up a single path within a tree, nil, nil if absent.
func (r *Repo) EntryByPath(tree *object.Tree, path string) (*object.TreeEntry, error) {
	entry, err := tree.FindEntry(path)
	if err == object.ErrEntryNotFound || err == object.ErrDirectoryNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "plumbing: entry %s", path)
	}
	return entry, nil
}

// CreateCommit writes a new commit object directly, bypassing the index —
// used by the coordinator for synthetic commits (stash, shadow commit)
// that must not disturb the working state.
func (r *Repo) CreateCommit(parents []plumbing.Hash, author, committer object.Signature, message string, tree plumbing.Hash) (plumbing.Hash, error) {
	c := &object.Commit{
		Author:       author,
		Committer:    committer,
		Message:      message,
		TreeHash:     tree,
		ParentHashes: parents,
	}
	obj := r.Repository.Storer.NewEncodedObject()
	if err := c.Encode(obj); err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "plumbing: encode commit")
	}
	hash, err := r.Repository.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "plumbing: store commit")
	}
	return hash, nil
}

// DefaultSignature is the repo's synthetic-commit author/committer,
// sourced from internal/config so every coordinator entry point signs
// with the same identity without each caller hardcoding it.
func DefaultSignature(when time.Time) object.Signature {
	return object.Signature{Name: config.Global.CommitterName, Email: config.Global.CommitterEmail, When: when}
}
