package plumbing

import (
	"io"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"

	"github.com/kurobon/metarepo/internal/gitast"
)

// WriteTree performs a layered tree write: starting from baseTree (the
// zero hash means "empty tree"), apply changes (path -> Change, with
// ChangeRemove deleting a path) and return the new tree's hash. Commit
// objects live at tree entries via filemode.Submodule, blobs via
// filemode.Regular.
func (r *Repo) WriteTree(baseTree plumbing.Hash, changes map[string]gitast.Change) (plumbing.Hash, error) {
	var base *object.Tree
	if baseTree != plumbing.ZeroHash {
		t, err := r.Repository.TreeObject(baseTree)
		if err != nil {
			return plumbing.ZeroHash, errors.Wrapf(err, "plumbing: base tree %s", baseTree)
		}
		base = t
	}

	root, err := flattenTree(r, base)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	for p, ch := range changes {
		clean := strings.Trim(path.Clean(p), "/")
		if clean == "" || clean == "." {
			return plumbing.ZeroHash, errors.Errorf("plumbing: empty path in tree write")
		}
		if ch.Kind == gitast.ChangeRemove {
			delete(root, clean)
			continue
		}
		root[clean] = ch
	}

	return writeTreeLevel(r, "", root)
}

// DiffTrees returns the set of path-level changes that turn oldHash's
// tree into newHash's tree: a path present in new but not old or with
// different content is a Blob/Submodule change, a path present in old but
// absent from new is a Remove. Used by the shorthand reader to
// reconstruct a commit's literal Changes map from two tree snapshots.
func (r *Repo) DiffTrees(oldHash, newHash plumbing.Hash) (map[string]gitast.Change, error) {
	var oldTree, newTree *object.Tree
	if oldHash != plumbing.ZeroHash {
		t, err := r.Repository.TreeObject(oldHash)
		if err != nil {
			return nil, errors.Wrapf(err, "plumbing: old tree %s", oldHash)
		}
		oldTree = t
	}
	if newHash != plumbing.ZeroHash {
		t, err := r.Repository.TreeObject(newHash)
		if err != nil {
			return nil, errors.Wrapf(err, "plumbing: new tree %s", newHash)
		}
		newTree = t
	}

	oldFlat, err := flattenTree(r, oldTree)
	if err != nil {
		return nil, err
	}
	newFlat, err := flattenTree(r, newTree)
	if err != nil {
		return nil, err
	}

	out := map[string]gitast.Change{}
	for p, ch := range newFlat {
		if old, ok := oldFlat[p]; !ok || old != ch {
			out[p] = ch
		}
	}
	for p := range oldFlat {
		if _, ok := newFlat[p]; !ok {
			out[p] = gitast.RemoveChange()
		}
	}
	return out, nil
}

// flattenTree walks an existing tree recursively into a flat path->Change
// map so it can be merged with the incoming overrides before being
// re-layered into new Tree objects.
func flattenTree(r *Repo, t *object.Tree) (map[string]gitast.Change, error) {
	out := map[string]gitast.Change{}
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
		if entry.Mode == filemode.Submodule {
			out[name] = gitast.SubmoduleChange("", entry.Hash.String())
			continue
		}
		blob, err := r.Repository.BlobObject(entry.Hash)
		if err != nil {
			return nil, errors.Wrapf(err, "plumbing: blob %s", entry.Hash)
		}
		rd, err := blob.Reader()
		if err != nil {
			return nil, err
		}
		buf, err := io.ReadAll(rd)
		rd.Close()
		if err != nil {
			return nil, err
		}
		out[name] = gitast.BlobChange(string(buf))
	}
	return out, nil
}

// writeTreeLevel groups a flat path->Change map by top-level path segment
// and recursively materializes Tree objects bottom-up, returning the root
// tree's hash.
func writeTreeLevel(r *Repo, prefix string, flat map[string]gitast.Change) (plumbing.Hash, error) {
	direct := map[string]gitast.Change{}
	nested := map[string]map[string]gitast.Change{}

	for p, ch := range flat {
		if idx := strings.IndexByte(p, '/'); idx >= 0 {
			top, rest := p[:idx], p[idx+1:]
			if nested[top] == nil {
				nested[top] = map[string]gitast.Change{}
			}
			nested[top][rest] = ch
			continue
		}
		direct[p] = ch
	}

	var entries []object.TreeEntry
	for name, ch := range direct {
		switch ch.Kind {
		case gitast.ChangeSubmodule:
			hash := plumbing.NewHash(ch.SubmoduleSHA)
			entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Submodule, Hash: hash})
		default:
			hash, err := writeBlob(r, ch.Content)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Regular, Hash: hash})
		}
	}
	for name, sub := range nested {
		hash, err := writeTreeLevel(r, path.Join(prefix, name), sub)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: hash})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	tree := &object.Tree{Entries: entries}
	obj := r.Repository.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "plumbing: encode tree")
	}
	return r.Repository.Storer.SetEncodedObject(obj)
}

// writeIndexTreeLevel mirrors writeTreeLevel but for already-hashed index
// entries (no blob content to write, the objects already exist).
func writeIndexTreeLevel(r *Repo, flat map[string]indexedEntry) (plumbing.Hash, error) {
	direct := map[string]indexedEntry{}
	nested := map[string]map[string]indexedEntry{}

	for p, e := range flat {
		if idx := strings.IndexByte(p, '/'); idx >= 0 {
			top, rest := p[:idx], p[idx+1:]
			if nested[top] == nil {
				nested[top] = map[string]indexedEntry{}
			}
			nested[top][rest] = e
			continue
		}
		direct[p] = e
	}

	var entries []object.TreeEntry
	for name, e := range direct {
		entries = append(entries, object.TreeEntry{Name: name, Mode: e.Mode, Hash: e.Hash})
	}
	for name, sub := range nested {
		hash, err := writeIndexTreeLevel(r, sub)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: hash})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	tree := &object.Tree{Entries: entries}
	obj := r.Repository.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "plumbing: encode tree")
	}
	return r.Repository.Storer.SetEncodedObject(obj)
}

// WriteBlob stores content as a standalone blob object, bypassing a tree
// write entirely — used when a caller needs a blob's hash to place into an
// index entry directly (e.g. rewriting .gitmodules) rather than through a
// WriteTree change map.
func (r *Repo) WriteBlob(content string) (plumbing.Hash, error) {
	return writeBlob(r, content)
}

func writeBlob(r *Repo, content string) (plumbing.Hash, error) {
	obj := r.Repository.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := w.Write([]byte(content)); err != nil {
		w.Close()
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return r.Repository.Storer.SetEncodedObject(obj)
}
