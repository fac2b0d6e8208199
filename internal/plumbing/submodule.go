package plumbing

import (
	"io"

	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"
)

// SubmodulePathsInTree returns every path in tree recorded with the
// submodule file mode, mapped to its recorded commit sha.
func (r *Repo) SubmodulePathsInTree(tree *object.Tree) (map[string]plumbing.Hash, error) {
	out := map[string]plumbing.Hash{}
	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()
	for {
		name, entry, err := walker.Next()
		if err != nil {
			break
		}
		if entry.Mode == filemode.Submodule {
			out[name] = entry.Hash
		}
	}
	return out, nil
}

// SubmodulePathsInIndex returns every path in the index snapshot recorded
// with the submodule file mode, mapped to its recorded commit sha.
func (s *IndexSnapshot) SubmodulePathsInIndex() map[string]plumbing.Hash {
	out := map[string]plumbing.Hash{}
	for _, e := range s.idx.Entries {
		if e.Mode == filemode.Submodule {
			out[e.Name] = e.Hash
		}
	}
	return out
}

const gitmodulesPath = ".gitmodules"

// GitmodulesAt parses the .gitmodules blob recorded in tree, or an empty
// Modules value if the tree has none.
func (r *Repo) GitmodulesAt(tree *object.Tree) (*config.Modules, error) {
	entry, err := r.EntryByPath(tree, gitmodulesPath)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return config.NewModules(), nil
	}
	blob, err := r.Repository.BlobObject(entry.Hash)
	if err != nil {
		return nil, errors.Wrap(err, "plumbing: .gitmodules blob")
	}
	rd, err := blob.Reader()
	if err != nil {
		return nil, err
	}
	defer rd.Close()
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}
	mods := config.NewModules()
	if err := mods.Unmarshal(data); err != nil {
		return nil, errors.Wrap(err, "plumbing: parse .gitmodules")
	}
	return mods, nil
}

// GitmodulesInWorkdir reads .gitmodules off the live worktree filesystem
// (the index/workdir view, as opposed to GitmodulesAt's commit-tree view).
func (r *Repo) GitmodulesInWorkdir() (*config.Modules, error) {
	if r.Worktree == nil {
		return config.NewModules(), nil
	}
	f, err := r.Worktree.Open(gitmodulesPath)
	if err != nil {
		return config.NewModules(), nil
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	mods := config.NewModules()
	if err := mods.Unmarshal(data); err != nil {
		return nil, errors.Wrap(err, "plumbing: parse .gitmodules")
	}
	return mods, nil
}

// SubmoduleSHAInTree returns the commit sha recorded for a submodule path
// within tree, ok=false if the path is absent or not a submodule entry.
func (r *Repo) SubmoduleSHAInTree(tree *object.Tree, path string) (plumbing.Hash, bool, error) {
	entry, err := r.EntryByPath(tree, path)
	if err != nil {
		return plumbing.ZeroHash, false, err
	}
	if entry == nil || entry.Mode != filemode.Submodule {
		return plumbing.ZeroHash, false, nil
	}
	return entry.Hash, true, nil
}

// SubmoduleSHAInIndex returns the sha recorded for a submodule path in the
// index, ok=false if absent or not a submodule entry.
func (s *IndexSnapshot) SubmoduleSHAInIndex(path string) (plumbing.Hash, bool) {
	e := s.GetByPath(path)
	if e == nil || e.Mode != filemode.Submodule {
		return plumbing.ZeroHash, false
	}
	return e.Hash, true
}

// IsSubmoduleOpen reports whether path has a materialized working tree
// (i.e. a ".git" entry exists inside it) under the parent's worktree.
func (r *Repo) IsSubmoduleOpen(path string) bool {
	if r.Worktree == nil {
		return false
	}
	sub, err := r.Worktree.Chroot(path)
	if err != nil {
		return false
	}
	_, err = sub.Stat(".git")
	return err == nil
}

// OpenSubmodule opens the child repository rooted at path within this
// repo's worktree.
func (r *Repo) OpenSubmodule(path string) (*Repo, error) {
	if r.Worktree == nil {
		return nil, errors.Errorf("plumbing: no worktree to resolve submodule %s", path)
	}
	sub, err := r.Worktree.Chroot(path)
	if err != nil {
		return nil, errors.Wrapf(err, "plumbing: chroot submodule %s", path)
	}
	return openWith(sub, false)
}
