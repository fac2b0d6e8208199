package plumbing

import (
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/pkg/errors"
)

// ListRefs returns every reference in the repository.
func (r *Repo) ListRefs() ([]*plumbing.Reference, error) {
	iter, err := r.Repository.Storer.IterReferences()
	if err != nil {
		return nil, errors.Wrap(err, "plumbing: list refs")
	}
	var out []*plumbing.Reference
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		out = append(out, ref)
		return nil
	})
	return out, err
}

// ReadRef resolves a single reference by name; ok=false if it does not
// exist (BackendMissing, downgraded per spec §7).
func (r *Repo) ReadRef(name plumbing.ReferenceName) (*plumbing.Reference, bool, error) {
	ref, err := r.Repository.Storer.Reference(name)
	if err == plumbing.ErrReferenceNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "plumbing: read ref %s", name)
	}
	return ref, true, nil
}

// CreateRef sets name to id. force=false refuses to overwrite an existing
// ref that already points somewhere else (go-git's SetReference has no
// such guard natively); setting a ref to the value it already holds
// succeeds either way. The coordinator's own calls all pass force=true.
// When reflogMsg is non-empty, an entry recording
// the transition from the ref's previous value (zero hash if it did not
// exist) to id is appended to name's reflog.
func (r *Repo) CreateRef(name plumbing.ReferenceName, id plumbing.Hash, force bool, reflogMsg string) error {
	old := plumbing.ZeroHash
	prev, existed, err := r.ReadRef(name)
	if err != nil {
		return err
	}
	if existed {
		old = prev.Hash()
		if !force && old != id {
			return errors.Errorf("plumbing: ref %s already exists at %s", name, old)
		}
	}

	ref := plumbing.NewHashReference(name, id)
	if err := r.Repository.Storer.SetReference(ref); err != nil {
		return errors.Wrapf(err, "plumbing: set ref %s", name)
	}
	if reflogMsg != "" {
		if err := r.AppendReflog(name, old, id, reflogMsg); err != nil {
			return err
		}
	}
	return nil
}

// RemoveRef deletes a reference. Missing is not an error (idempotent).
func (r *Repo) RemoveRef(name plumbing.ReferenceName) error {
	if err := r.Repository.Storer.RemoveReference(name); err != nil && err != plumbing.ErrReferenceNotFound {
		return errors.Wrapf(err, "plumbing: remove ref %s", name)
	}
	return nil
}
