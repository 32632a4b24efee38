//go:build windows

package parser

import "os"

// O_NOFOLLOW does not exist on Windows.
const openFlags = os.O_RDONLY
