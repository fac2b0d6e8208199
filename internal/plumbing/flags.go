package plumbing

import "os"

// billy.Filesystem.OpenFile takes standard os flag bits.
const (
	osAppendCreateWronly = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	osTruncCreateWronly  = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
)
