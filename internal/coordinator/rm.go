package coordinator

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/kurobon/metarepo/internal/gitast"
	metaplumbing "github.com/kurobon/metarepo/internal/plumbing"
	"github.com/kurobon/metarepo/internal/status"
)

// RmOptions is rmPaths's option bag per spec.md §4.E.4.
type RmOptions struct {
	// Recursive permits a pathspec that prefix-matches more than one
	// tracked path or submodule.
	Recursive bool
	// Cached leaves the workdir untouched (index-only removal), using the
	// relaxed "matches HEAD, or missing from disk" cleanliness rule
	// instead of full cleanliness.
	Cached bool
	// Force skips the cleanliness check entirely.
	Force bool
	// Prefix is the working-directory prefix relative to the repository
	// root, joined onto every pathspec before resolution so a caller
	// sitting in a subdirectory can pass paths relative to where it is.
	Prefix string
	// DryRun resolves and cleanliness-checks paths without mutating
	// anything; RmPaths returns what it would have removed.
	DryRun bool
}

// RmFailure is one unclean path rmPaths refused to remove.
type RmFailure struct {
	Path  string
	Cause string // "unstaged", "staged", or "stagedAndUnstaged"
}

// RmPaths implements spec.md §4.E.4. It resolves paths against the union
// of index entries and submodule names, cleanliness-checks every matched
// entry, and only mutates meta (index, .gitmodules, workdir) once every
// match passed — a dry run never touches anything, and a real run that
// hits any unclean entry mutates nothing either, refusing with a
// UserError that names every offending path the way git rm phrases it.
func RmPaths(meta *metaplumbing.Repo, metaStatus *gitast.RepoStatus, paths []string, opts RmOptions) ([]string, error) {
	for _, p := range paths {
		if p == "" {
			return nil, NewUserError("rm: empty path")
		}
	}

	idx, err := meta.Index()
	if err != nil {
		return nil, wrapBackend(err, "rm: meta index")
	}

	rootItems := map[string]bool{}
	for _, e := range idx.Entries() {
		rootItems[e.Name] = true
	}
	subNames := map[string]bool{}
	for name := range metaStatus.Submodules {
		subNames[name] = true
		rootItems[name] = true
	}

	var headTree *object.Tree
	if headHash, hasHead, err := meta.HeadCommit(); err != nil {
		return nil, wrapBackend(err, "rm: meta head")
	} else if hasHead {
		headCommit, err := meta.GetCommit(headHash)
		if err != nil {
			return nil, wrapBackend(err, "rm: meta head commit")
		}
		headTree, err = meta.GetTree(headCommit)
		if err != nil {
			return nil, wrapBackend(err, "rm: meta head tree")
		}
	}

	matchedTargets := map[string]bool{}
	for _, p := range paths {
		if opts.Prefix != "" {
			p = path.Join(opts.Prefix, p)
		}
		clean := strings.Trim(path.Clean(p), "/")
		if rootItems[clean] {
			matchedTargets[clean] = true
			continue
		}
		prefix := clean + "/"
		var subs []string
		for n := range rootItems {
			if strings.HasPrefix(n, prefix) {
				subs = append(subs, n)
			}
		}
		if len(subs) == 0 {
			return nil, NewUserError("pathspec %q did not match any files", p)
		}
		if len(subs) > 1 && !opts.Recursive {
			return nil, NewUserError("not removing %q recursively without -r", clean)
		}
		for _, s := range subs {
			matchedTargets[s] = true
		}
	}

	targets := make([]string, 0, len(matchedTargets))
	for t := range matchedTargets {
		targets = append(targets, t)
	}
	sort.Strings(targets)

	var failures []RmFailure
	var toRemove []string
	for _, t := range targets {
		cause, clean := rmCleanliness(meta, metaStatus, idx, headTree, t, subNames[t], opts)
		if !clean {
			failures = append(failures, RmFailure{Path: t, Cause: cause})
			continue
		}
		if subNames[t] {
			// spec.md §4.E.4 step 5: the pointer-level relations alone
			// only tell us the submodule's recorded commit agrees with
			// its index and workdir head — they say nothing about the
			// submodule's own uncommitted tracked-file changes. Recurse
			// into it with dryRun=true before trusting "clean".
			nested, err := rmCheckSubmoduleClean(meta, t, opts)
			if err != nil {
				return nil, err
			}
			failures = append(failures, nested...)
			if len(nested) > 0 {
				continue
			}
		}
		toRemove = append(toRemove, t)
	}

	if len(failures) > 0 {
		return nil, NewUserError("%s", formatRmFailures(failures))
	}

	if opts.DryRun {
		return toRemove, nil
	}

	var closedSubs []string
	for _, t := range toRemove {
		if !subNames[t] {
			continue
		}
		if meta.IsSubmoduleOpen(t) {
			if err := removeAllFS(meta.Worktree, t); err != nil {
				return nil, wrapBackend(err, "rm: close submodule %q", t)
			}
		}
		closedSubs = append(closedSubs, t)
	}

	if !opts.Cached {
		for _, t := range toRemove {
			if subNames[t] {
				continue
			}
			if err := removeAllFS(meta.Worktree, t); err != nil {
				return nil, wrapBackend(err, "rm: remove %q", t)
			}
			removeEmptyParents(meta.Worktree, t)
		}
	}

	for _, t := range toRemove {
		idx.Remove(t)
	}
	if err := idx.Write(); err != nil {
		return nil, wrapBackend(err, "rm: write meta index")
	}

	if len(closedSubs) > 0 {
		if err := rewriteGitmodulesRemoving(meta, closedSubs); err != nil {
			return nil, wrapBackend(err, "rm: rewrite .gitmodules")
		}
	}

	log.WithField("op", "rm").WithField("count", len(toRemove)).Info("removed")
	return toRemove, nil
}

// removeEmptyParents walks up from a just-removed path, dropping each
// directory that is now empty, the way git rm tidies up after the last
// file of a directory leaves the index.
func removeEmptyParents(fs billy.Filesystem, p string) {
	for dir := path.Dir(p); dir != "." && dir != "/"; dir = path.Dir(dir) {
		entries, err := fs.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := fs.Remove(dir); err != nil {
			return
		}
	}
}

// formatRmFailures aggregates unclean paths by cause and renders them the
// way git rm itself phrases the refusal, one block per {cause} group.
func formatRmFailures(failures []RmFailure) string {
	byCause := map[string][]string{}
	for _, f := range failures {
		byCause[f.Cause] = append(byCause[f.Cause], f.Path)
	}
	var blocks []string
	for _, cause := range []string{"unstaged", "staged", "stagedAndUnstaged"} {
		paths := byCause[cause]
		if len(paths) == 0 {
			continue
		}
		sort.Strings(paths)
		noun := "file has"
		if len(paths) > 1 {
			noun = "files have"
		}
		var head, tail string
		switch cause {
		case "unstaged":
			head = fmt.Sprintf("the following %s local modifications", noun)
			tail = "(use --cached to keep the file, or -f to force removal)"
		case "staged":
			head = fmt.Sprintf("the following %s changes staged in the index", noun)
			tail = "(use --cached to keep the file, or -f to force removal)"
		default:
			head = fmt.Sprintf("the following %s staged content different from both the file and the HEAD", noun)
			tail = "(use -f to force removal)"
		}
		blocks = append(blocks, fmt.Sprintf("%s: %s %s", head, strings.Join(paths, ", "), tail))
	}
	return strings.Join(blocks, "\n")
}

func rmCleanliness(meta *metaplumbing.Repo, metaStatus *gitast.RepoStatus, idx *metaplumbing.IndexSnapshot, headTree *object.Tree, p string, isSubmodule bool, opts RmOptions) (cause string, clean bool) {
	if opts.Force {
		return "", true
	}

	if opts.Cached {
		entry := idx.GetByPath(p)
		var headHash plumbing.Hash
		hasHead := false
		if headTree != nil {
			if he, err := meta.EntryByPath(headTree, p); err == nil && he != nil {
				headHash, hasHead = he.Hash, true
			}
		}
		missing := false
		if meta.Worktree != nil {
			if _, err := meta.Worktree.Stat(p); err != nil {
				missing = true
			}
		}
		switch {
		case entry != nil && hasHead && entry.Hash == headHash:
			return "", true
		case missing:
			return "", true
		default:
			return "staged", false
		}
	}

	staged := false
	unstaged := false
	if isSubmodule {
		if sub, ok := metaStatus.Submodules[p]; ok {
			staged = sub.IndexShaRelation != gitast.RelSame && sub.IndexShaRelation != gitast.RelUnknown
			unstaged = sub.WorkdirShaRelation != gitast.RelSame && sub.WorkdirShaRelation != gitast.RelUnknown
		}
	} else {
		_, staged = metaStatus.Staged[p]
		_, unstaged = metaStatus.Workdir[p]
	}

	switch {
	case staged && unstaged:
		return "stagedAndUnstaged", false
	case staged:
		return "staged", false
	case unstaged:
		return "unstaged", false
	default:
		return "", true
	}
}

// rmCheckSubmoduleClean implements spec.md §4.E.4 step 5: recurse into a
// matched, open submodule's own tracked state — root-level items from
// its own index and its own nested submodules — checking each with the
// same cleanliness rule a top-level rm would apply, so removing a
// submodule whose commit/index/workdir pointers all agree doesn't
// silently discard an uncommitted change to one of ITS tracked files.
// Closed submodules have no live workdir to check here; their pointer
// relations in rmCleanliness are the whole story. Failures are reported
// with paths qualified by name/ so they read as "where inside the
// submodule", matching the aggregation spec.md describes.
func rmCheckSubmoduleClean(meta *metaplumbing.Repo, name string, opts RmOptions) ([]RmFailure, error) {
	if opts.Force || !meta.IsSubmoduleOpen(name) {
		return nil, nil
	}
	child, err := meta.OpenSubmodule(name)
	if err != nil {
		return nil, nil
	}
	childStatus, err := status.GetRepoStatus(context.Background(), child, status.DefaultOptions())
	if err != nil {
		return nil, wrapBackend(err, "rm: status for submodule %q", name)
	}

	idx, err := child.Index()
	if err != nil {
		return nil, wrapBackend(err, "rm: index for submodule %q", name)
	}

	rootItems := map[string]bool{}
	for _, e := range idx.Entries() {
		rootItems[e.Name] = true
	}
	for subName := range childStatus.Submodules {
		rootItems[subName] = true
	}

	var headTree *object.Tree
	if headHash, hasHead, err := child.HeadCommit(); err != nil {
		return nil, wrapBackend(err, "rm: head for submodule %q", name)
	} else if hasHead {
		headCommit, err := child.GetCommit(headHash)
		if err != nil {
			return nil, wrapBackend(err, "rm: head commit for submodule %q", name)
		}
		headTree, err = child.GetTree(headCommit)
		if err != nil {
			return nil, wrapBackend(err, "rm: head tree for submodule %q", name)
		}
	}

	items := make([]string, 0, len(rootItems))
	for item := range rootItems {
		items = append(items, item)
	}
	sort.Strings(items)

	var failures []RmFailure
	for _, item := range items {
		isSub := childStatus.Submodules[item] != nil
		cause, clean := rmCleanliness(child, childStatus, idx, headTree, item, isSub, opts)
		if !clean {
			failures = append(failures, RmFailure{Path: name + "/" + item, Cause: cause})
			continue
		}
		if isSub {
			nested, err := rmCheckSubmoduleClean(child, item, opts)
			if err != nil {
				return nil, err
			}
			for _, f := range nested {
				failures = append(failures, RmFailure{Path: name + "/" + f.Path, Cause: f.Cause})
			}
		}
	}
	return failures, nil
}

// rewriteGitmodulesRemoving drops each removed submodule's section from
// .gitmodules, writing the result back to both the index and (when open)
// the worktree.
func rewriteGitmodulesRemoving(meta *metaplumbing.Repo, removed []string) error {
	mods, err := meta.GitmodulesInWorkdir()
	if err != nil {
		return err
	}
	if mods == nil {
		mods = config.NewModules()
	}
	for _, name := range removed {
		delete(mods.Submodules, name)
	}
	data, err := mods.Marshal()
	if err != nil {
		return err
	}

	if meta.Worktree != nil {
		if err := writeFileToFS(meta.Worktree, metaGitmodulesPath, data); err != nil {
			return err
		}
	}

	idx, err := meta.Index()
	if err != nil {
		return err
	}
	if len(mods.Submodules) == 0 && len(data) == 0 {
		idx.Remove(metaGitmodulesPath)
	} else {
		hash, err := meta.WriteBlob(string(data))
		if err != nil {
			return err
		}
		idx.AddByPath(metaGitmodulesPath, hash, filemode.Regular)
	}
	return idx.Write()
}
