package plumbing

import "github.com/pkg/errors"

// ErrBackendMissing names the "object does not exist locally" case, as
// opposed to a genuine I/O or encoding failure. The adapter's lookups do
// not return it: a missing ref or HEAD is reported as ok=false (ReadRef,
// HeadCommit), and a missing commit in a relation query as RelUnknown.
var ErrBackendMissing = errors.New("plumbing: object not found")
