package coordinator

import (
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"golang.org/x/sync/errgroup"

	"github.com/kurobon/metarepo/internal/gitast"
	metaplumbing "github.com/kurobon/metarepo/internal/plumbing"
)

// ShadowCommit implements spec.md §4.E.5: a diagnostic snapshot of every
// open submodule's workdir state, recorded as submodule pointers in a meta
// commit over HEAD's tree, that never moves HEAD, a branch ref, or the
// index. The meta repository's own uncommitted files are not included. useEpochTimestamp resolves the spec's
// §9 open question about deterministic commit timestamps: when true the
// commit uses meta's current HEAD commit time plus one second instead of
// wall-clock time, so two shadow commits of an unchanged tree are
// byte-identical. Returns HEAD's own sha, unchanged, when the resulting
// tree equals HEAD's tree (the documented idempotence property).
func ShadowCommit(meta *metaplumbing.Repo, metaStatus *gitast.RepoStatus, useEpochTimestamp bool) (string, error) {
	entry := log.WithField("op", "shadow-commit")

	metaHead, hasHead, err := meta.HeadCommit()
	if err != nil {
		return "", wrapBackend(err, "shadow commit: meta head")
	}
	if !hasHead {
		return "", NewUserError("shadow commit: meta repository has no commits yet")
	}
	metaHeadCommit, err := meta.GetCommit(metaHead)
	if err != nil {
		return "", wrapBackend(err, "shadow commit: meta head commit")
	}
	metaHeadTree, err := meta.GetTree(metaHeadCommit)
	if err != nil {
		return "", wrapBackend(err, "shadow commit: meta head tree")
	}

	when := time.Now()
	if useEpochTimestamp {
		when = metaHeadCommit.Committer.When.Add(time.Second)
	}
	sig := metaplumbing.DefaultSignature(when)

	names := make([]string, 0, len(metaStatus.Submodules))
	for name, sub := range metaStatus.Submodules {
		if sub.Open != nil {
			names = append(names, name)
		}
	}

	type subResult struct {
		name string
		sha  string
	}
	results := make([]subResult, len(names))

	var g errgroup.Group
	for i := range names {
		i, name := i, names[i]
		sub := metaStatus.Submodules[name]
		g.Go(func() error {
			sha, err := shadowCommitSubmodule(meta, name, sub, sig)
			if err != nil {
				return wrapBackend(err, "shadow commit: submodule %q", name)
			}
			results[i] = subResult{name: name, sha: sha}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	treeChanges := map[string]gitast.Change{}
	for _, r := range results {
		if r.sha == "" {
			continue
		}
		url := ""
		if sub := metaStatus.Submodules[r.name]; sub.Commit != nil {
			url = sub.Commit.URL
		}
		treeChanges[r.name] = gitast.SubmoduleChange(url, r.sha)
	}

	metaTree, err := meta.WriteTree(metaHeadTree.Hash, treeChanges)
	if err != nil {
		return "", wrapBackend(err, "shadow commit: build meta tree")
	}

	if metaTree == metaHeadTree.Hash {
		entry.Debug("idempotent, tree unchanged")
		return metaHead.String(), nil
	}

	shadowHash, err := meta.CreateCommit([]plumbing.Hash{metaHead}, sig, sig, "shadow commit", metaTree)
	if err != nil {
		return "", wrapBackend(err, "shadow commit: create meta commit")
	}

	entry.WithField("sha", shadowHash.String()).Info("created")
	return shadowHash.String(), nil
}

// shadowCommitSubmodule writes a commit for name's live workdir state on
// top of its current HEAD. It returns "" (no pointer change) when the
// submodule isn't open or can't be opened, and the child's HEAD sha itself
// when there are no uncommitted workdir changes.
func shadowCommitSubmodule(meta *metaplumbing.Repo, name string, sub *gitast.Submodule, sig object.Signature) (string, error) {
	if sub.Workdir == nil || sub.Open == nil {
		return "", nil
	}
	child, ok := openChildBestEffort(meta, name)
	if !ok {
		return "", nil
	}
	childHead := hashFromHex(sub.Workdir.SHA)

	if len(sub.Open.Workdir) == 0 {
		return childHead.String(), nil
	}

	headCommitObj, err := child.GetCommit(childHead)
	if err != nil {
		return "", err
	}
	changes, err := readWorkdirChanges(child.Worktree, sub.Open.Workdir)
	if err != nil {
		return "", err
	}
	workdirTree, err := child.WriteTree(headCommitObj.TreeHash, changes)
	if err != nil {
		return "", err
	}
	if workdirTree == headCommitObj.TreeHash {
		return childHead.String(), nil
	}

	shadowHash, err := child.CreateCommit([]plumbing.Hash{childHead}, sig, sig, "shadow commit", workdirTree)
	if err != nil {
		return "", err
	}
	return shadowHash.String(), nil
}
