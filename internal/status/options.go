// Package status implements the status aggregator spec.md §4.D describes:
// given a live repository opened through internal/plumbing, derive a
// gitast.RepoStatus covering head/branch, sequencer state, meta
// staged/workdir deltas, and a recursively-resolved submodule tree, with
// one fan-out task per submodule joined on a barrier (golang.org/x/sync/
// errgroup) before assembly, per spec.md §5's scheduling model.
package status

// UntrackedMode mirrors the backend's untracked-files reporting levels.
type UntrackedMode int

const (
	UntrackedNormal UntrackedMode = iota
	UntrackedAll
)

// Options are GetRepoStatus's knobs, spec.md §4.D.
type Options struct {
	ShowAllUntracked        bool
	Paths                   []string
	ShowMetaChanges         bool
	IncludeClosedSubmodules bool
	UntrackedFilesOption    UntrackedMode
}

// DefaultOptions matches spec.md §4.D's stated defaults.
func DefaultOptions() Options {
	return Options{
		ShowMetaChanges:         true,
		IncludeClosedSubmodules: true,
	}
}
