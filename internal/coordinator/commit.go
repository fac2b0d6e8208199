package coordinator

import (
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"golang.org/x/sync/errgroup"

	"github.com/kurobon/metarepo/internal/gitast"
	metaplumbing "github.com/kurobon/metarepo/internal/plumbing"
)

// CommitResult is what Commit returns on a successful cross-repo commit:
// the new meta commit sha, and the new sha of every submodule that was
// also committed.
type CommitResult struct {
	MetaCommit       string
	SubmoduleCommits map[string]string
}

// Commit implements spec.md §4.E.1: stage and commit every submodule
// that has pending work, stage the resulting pointer bumps into the meta
// index, then commit the meta repository itself. Returns nil, nil (the
// documented no-op) when metaStatus is already clean under the
// requested scope.
func Commit(meta *metaplumbing.Repo, all bool, metaStatus *gitast.RepoStatus, message string) (*CommitResult, error) {
	entry := log.WithField("op", "commit").WithField("all", all)
	entry.Debug("starting")

	if metaStatus.IsIndexDeepClean() && (!all || metaStatus.IsWorkdirDeepClean()) {
		entry.Debug("nothing to commit")
		return nil, nil
	}

	type subOutcome struct {
		name         string
		committedSHA string
		stagedSHA    string
		needsStaging bool
	}

	names := make([]string, 0, len(metaStatus.Submodules))
	for name := range metaStatus.Submodules {
		names = append(names, name)
	}

	outcomes := make([]subOutcome, len(names))
	var g errgroup.Group
	for i := range names {
		i, name := i, names[i]
		sub := metaStatus.Submodules[name]
		g.Go(func() error {
			if sub.Workdir == nil {
				// Not open (or not locally materialized): nothing this
				// operation can commit on its behalf.
				return nil
			}

			child, err := meta.OpenSubmodule(name)
			if err != nil {
				return wrapBackend(err, "commit: open submodule %q", name)
			}

			committedSHA, committed, err := commitRepo(child, sub.Open, all, message, false)
			if err != nil {
				return wrapBackend(err, "commit: submodule %q", name)
			}

			out := subOutcome{name: name}
			if committed {
				out.committedSHA = committedSHA
				out.stagedSHA = committedSHA
				out.needsStaging = true
			} else if sub.WorkdirShaRelation != gitast.RelSame && sub.Workdir != nil {
				out.stagedSHA = sub.Workdir.SHA
				out.needsStaging = true
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	subCommits := map[string]string{}
	needsIndexWrite := false
	idx, err := meta.Index()
	if err != nil {
		return nil, wrapBackend(err, "commit: meta index")
	}
	for _, out := range outcomes {
		if out.committedSHA != "" {
			subCommits[out.name] = out.committedSHA
		}
		if out.needsStaging {
			idx.AddByPath(out.name, hashFromHex(out.stagedSHA), filemode.Submodule)
			needsIndexWrite = true
		}
	}
	if needsIndexWrite {
		if err := idx.Write(); err != nil {
			return nil, wrapBackend(err, "commit: write meta index")
		}
	}

	metaSHA, _, err := commitRepo(meta, metaStatus, all, message, true)
	if err != nil {
		return nil, wrapBackend(err, "commit: meta repo")
	}

	entry.WithField("meta", metaSHA).Info("committed")
	return &CommitResult{MetaCommit: metaSHA, SubmoduleCommits: subCommits}, nil
}

// commitRepo runs one repository's half of a commit: optionally stage
// every MODIFIED/REMOVED workdir entry ("all"), then create a commit if
// anything is staged (or force is set). Returns committed=false, nil
// error when there was nothing to do and force was not set — the
// documented "commit(repo, false, status, msg) == null" property.
func commitRepo(repo *metaplumbing.Repo, st *gitast.RepoStatus, all bool, message string, force bool) (sha string, committed bool, err error) {
	wt, err := repo.Repository.Worktree()
	if err != nil {
		return "", false, err
	}

	if all && st != nil {
		for path, fs := range st.Workdir {
			switch fs {
			case gitast.StatusRemoved:
				if _, err := wt.Remove(path); err != nil {
					return "", false, err
				}
			case gitast.StatusModified:
				if _, err := wt.Add(path); err != nil {
					return "", false, err
				}
			}
		}
	}

	wtStatus, err := wt.Status()
	if err != nil {
		return "", false, err
	}
	hasStaged := false
	for _, fs := range wtStatus {
		if fs.Staging != gogit.Unmodified {
			hasStaged = true
			break
		}
	}
	if !hasStaged && !force {
		return "", false, nil
	}

	sig := metaplumbing.DefaultSignature(time.Now())
	hash, err := wt.Commit(message, &gogit.CommitOptions{Author: &sig, Committer: &sig, AllowEmptyCommits: force})
	if err != nil {
		return "", false, err
	}
	return hash.String(), true, nil
}
