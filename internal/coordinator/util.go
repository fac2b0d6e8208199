package coordinator

import (
	"io"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/kurobon/metarepo/internal/gitast"
	metaplumbing "github.com/kurobon/metarepo/internal/plumbing"
)

// hashFromHex parses a hex commit sha, used when staging an
// already-known submodule pointer (one that came from a gitast
// observation, not freshly computed) into an index snapshot.
func hashFromHex(hex string) plumbing.Hash {
	return plumbing.NewHash(hex)
}

// readWorkdirChanges reads the literal content of every path in workdir
// off fs, classifying StatusRemoved as a delete and everything else as a
// blob rewrite. A path with a trailing slash is a collapsed untracked
// directory (status's untracked-files=normal reporting) and expands to
// every file beneath it. Used to build the overlay that turns an index
// tree into the full stash tree (index + uncommitted workdir edits).
func readWorkdirChanges(fs billy.Filesystem, workdir map[string]gitast.FileStatus) (map[string]gitast.Change, error) {
	out := make(map[string]gitast.Change, len(workdir))
	for p, st := range workdir {
		if st == gitast.StatusRemoved {
			out[p] = gitast.RemoveChange()
			continue
		}
		if strings.HasSuffix(p, "/") {
			if err := readDirBlobs(fs, strings.TrimSuffix(p, "/"), out); err != nil {
				return nil, err
			}
			continue
		}
		if err := readBlob(fs, p, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readBlob(fs billy.Filesystem, p string, out map[string]gitast.Change) error {
	f, err := fs.Open(p)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return err
	}
	out[p] = gitast.BlobChange(string(data))
	return nil
}

func readDirBlobs(fs billy.Filesystem, dir string, out map[string]gitast.Change) error {
	entries, err := fs.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, fi := range entries {
		p := path.Join(dir, fi.Name())
		if fi.IsDir() {
			if err := readDirBlobs(fs, p, out); err != nil {
				return err
			}
			continue
		}
		if err := readBlob(fs, p, out); err != nil {
			return err
		}
	}
	return nil
}

// deletedSentinelSHA is the magic placeholder spec.md §4.E.2 assigns a
// closed-and-deleted submodule's stash entry: there is no real commit to
// point at, just a marker apply recognizes and turns back into a
// workdir-level delete.
const deletedSentinelSHA = "de1e7ed0de1e7ed0de1e7ed0de1e7ed0de1e7ed0"

// removeAllFS recursively removes path and everything under it. memfs and
// osfs's Remove is not recursive, so directories are torn down
// child-first by hand.
func removeAllFS(fs billy.Filesystem, p string) error {
	fi, err := fs.Stat(p)
	if err != nil {
		return nil
	}
	if !fi.IsDir() {
		return fs.Remove(p)
	}
	entries, err := fs.ReadDir(p)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := removeAllFS(fs, path.Join(p, entry.Name())); err != nil {
			return err
		}
	}
	return fs.Remove(p)
}

// writeFileToFS writes data at p on fs, creating parent directories as
// needed, truncating any existing content.
func writeFileToFS(fs billy.Filesystem, p string, data []byte) error {
	if dir := path.Dir(p); dir != "." && dir != "/" {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := fs.Create(p)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

// applyChangesToFS materializes a path->Change map directly onto a
// worktree filesystem (as opposed to WriteTree, which builds a git tree
// object) — used when restoring a stash onto a submodule's live workdir.
// ChangeSubmodule entries are skipped: nested submodules-of-submodules
// are out of scope.
func applyChangesToFS(fs billy.Filesystem, changes map[string]gitast.Change) error {
	for p, ch := range changes {
		switch ch.Kind {
		case gitast.ChangeRemove:
			if err := removeAllFS(fs, p); err != nil {
				return err
			}
		case gitast.ChangeSubmodule:
			continue
		default:
			if err := writeFileToFS(fs, p, []byte(ch.Content)); err != nil {
				return err
			}
		}
	}
	return nil
}

func namesOf(entries []*index.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

// setIndexFromTree replaces repo's index wholesale with the blob/submodule
// entries recorded in tree, used after a stash apply to pin the index to a
// specific historical tree rather than whatever WriteTree would compute
// from the live worktree.
func setIndexFromTree(repo *metaplumbing.Repo, tree *object.Tree) error {
	idx, err := repo.Index()
	if err != nil {
		return err
	}
	existing := append([]string(nil), namesOf(idx.Entries())...)
	for _, name := range existing {
		idx.Remove(name)
	}
	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()
	for {
		name, entry, err := walker.Next()
		if err != nil {
			break
		}
		if entry.Mode == filemode.Dir {
			continue
		}
		idx.AddByPath(name, entry.Hash, entry.Mode)
	}
	return idx.Write()
}
