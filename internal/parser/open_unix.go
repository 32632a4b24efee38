//go:build !windows

package parser

import (
	"os"
	"syscall"
)

// openFlags refuses a symlink at the final path component so a log
// swapped for a link between discovery and read is not followed.
const openFlags = os.O_RDONLY | syscall.O_NOFOLLOW
