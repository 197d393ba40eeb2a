//go:build !linux

package wal

import (
	"fmt"
	"os"
	"runtime"
)

// openDirect reports that O_DIRECT is unavailable on this platform;
// callers fall back to a buffered open.
func openDirect(path string) (*os.File, error) {
	return nil, fmt.Errorf("wal: O_DIRECT is not supported on %s", runtime.GOOS)
}
