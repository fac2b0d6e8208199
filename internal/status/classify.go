package status

import (
	"github.com/kurobon/metarepo/internal/gitast"
	metaplumbing "github.com/kurobon/metarepo/internal/plumbing"
)

// classifyStaged maps a path's index-side StatusBits into the FILESTATUS
// spec.md §3 names, ok=false when the bitfield carries no staged change.
func classifyStaged(b metaplumbing.StatusBit) (gitast.FileStatus, bool) {
	switch {
	case b&metaplumbing.IndexNew != 0:
		return gitast.StatusAdded, true
	case b&metaplumbing.IndexDel != 0:
		return gitast.StatusRemoved, true
	case b&metaplumbing.IndexMod != 0:
		return gitast.StatusModified, true
	default:
		return 0, false
	}
}

// classifyWorkdir maps a path's worktree-side StatusBits into the
// FILESTATUS spec.md §3 names, ok=false when the bitfield carries no
// unstaged change.
func classifyWorkdir(b metaplumbing.StatusBit) (gitast.FileStatus, bool) {
	switch {
	case b&metaplumbing.WTNew != 0:
		return gitast.StatusAdded, true
	case b&metaplumbing.WTDel != 0:
		return gitast.StatusRemoved, true
	case b&metaplumbing.WTMod != 0:
		return gitast.StatusModified, true
	default:
		return 0, false
	}
}
