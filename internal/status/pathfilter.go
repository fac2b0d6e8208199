package status

import (
	"strings"

	"github.com/kurobon/metarepo/internal/gitast"
	metaplumbing "github.com/kurobon/metarepo/internal/plumbing"
)

// collapseUntracked folds every untracked (ADDED, unstaged) file whose
// top-level directory holds no tracked entries into one "<dir>/" line,
// matching the backend's default untracked-files=normal reporting; with
// untracked-files=all each file stays listed individually.
func collapseUntracked(repo *metaplumbing.Repo, workdir map[string]gitast.FileStatus) error {
	idx, err := repo.Index()
	if err != nil {
		return err
	}
	trackedDirs := map[string]bool{}
	for _, e := range idx.Entries() {
		if i := strings.IndexByte(e.Name, '/'); i >= 0 {
			trackedDirs[e.Name[:i]] = true
		}
	}

	for path, fs := range workdir {
		if fs != gitast.StatusAdded {
			continue
		}
		i := strings.IndexByte(path, '/')
		if i < 0 {
			continue
		}
		if top := path[:i]; !trackedDirs[top] {
			delete(workdir, path)
			workdir[top+"/"] = gitast.StatusAdded
		}
	}
	return nil
}

// resolvePaths implements spec.md §4.D step 4's prefix-matching path
// resolution: each input path either falls under "<submodule>/<rest>" (or
// is an exact submodule name, meaning "the whole submodule"), or is
// treated as a root-level path. Whether a root-level path actually exists
// is the caller's concern — rm treats an unresolvable one as a user
// error, status silently ignores it (spec.md §4.D step 4).
func resolvePaths(paths []string, submoduleNames map[string]bool) (rootPaths []string, subPaths map[string][]string) {
	subPaths = map[string][]string{}
	for _, p := range paths {
		if submoduleNames[p] {
			if _, ok := subPaths[p]; !ok {
				subPaths[p] = nil
			}
			continue
		}
		matched := false
		for name := range submoduleNames {
			prefix := name + "/"
			if strings.HasPrefix(p, prefix) {
				subPaths[name] = append(subPaths[name], strings.TrimPrefix(p, prefix))
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		rootPaths = append(rootPaths, p)
	}
	return rootPaths, subPaths
}
