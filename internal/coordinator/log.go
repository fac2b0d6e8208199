// Package coordinator implements the cross-repo mutating operations
// spec.md §4.E describes: commit, stash save/apply/pop/list/drop,
// recursive rm, and shadow commit. Every entry point coordinates the
// meta repository with N submodule repositories so the union behaves
// atomically: submodule work fans out one task per submodule (joined on
// a golang.org/x/sync/errgroup barrier, per spec.md §5) before any
// meta-level mutation begins.
//
// The per-submodule stash commit's up to-four-parent encoding
// (stash.go) is this module's own invention, not an interoperable git
// format — see the doc comment on StashSave.
package coordinator

import "github.com/sirupsen/logrus"

// log is the package-level structured logger every entry point uses,
// upgrading the teacher's plain log.Printf instrumentation to fields
// since one coordinator call spans N+1 repositories and a flat text line
// is not greppable per-submodule.
var log = logrus.WithField("component", "coordinator")
