package plumbing

import (
	"io"
	"strings"

	"github.com/pkg/errors"
)

// EditorRunner is the injected "spawn the user's editor on this file"
// step. Production callers wire in a process spawner resolved from the
// backend's EDITOR equivalent (outside this module's scope); tests pass a
// function that rewrites the file directly.
type EditorRunner func(fs EditorFS, path string) error

// EditorFS is the slice of billy.Filesystem an EditorRunner needs.
type EditorFS interface {
	Open(filename string) (io.ReadCloser, error)
	Create(filename string) (io.WriteCloser, error)
}

type gitDirEditor struct{ repo *Repo }

func (e gitDirEditor) Open(name string) (io.ReadCloser, error)    { return e.repo.GitDir.Open(name) }
func (e gitDirEditor) Create(name string) (io.WriteCloser, error) { return e.repo.GitDir.Create(name) }

const editMsgFile = "META_EDITMSG"

// EditMessage is the single mockable editor call spec.md §4.C describes:
// write initial to a scratch file in the git directory, hand the file to
// run, read the result back. Lines starting with '#' are stripped, and
// the file is removed afterwards regardless of outcome.
func (r *Repo) EditMessage(initial string, run EditorRunner) (string, error) {
	ed := gitDirEditor{repo: r}

	f, err := ed.Create(editMsgFile)
	if err != nil {
		return "", errors.Wrap(err, "plumbing: create edit-message file")
	}
	if _, err := f.Write([]byte(initial)); err != nil {
		f.Close()
		return "", errors.Wrap(err, "plumbing: write edit-message file")
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrap(err, "plumbing: close edit-message file")
	}
	defer r.GitDir.Remove(editMsgFile)

	if err := run(ed, editMsgFile); err != nil {
		return "", errors.Wrap(err, "plumbing: editor")
	}

	rd, err := ed.Open(editMsgFile)
	if err != nil {
		return "", errors.Wrap(err, "plumbing: reopen edit-message file")
	}
	defer rd.Close()
	data, err := io.ReadAll(rd)
	if err != nil {
		return "", errors.Wrap(err, "plumbing: read edit-message file")
	}

	var kept []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimRight(strings.Join(kept, "\n"), "\n"), nil
}
