//go:build linux

package wal

import (
	"os"

	"golang.org/x/sys/unix"
)

// openDirect opens path for O_DIRECT writing, where supported. The
// caller is responsible for keeping writes 4 KiB-aligned.
func openDirect(path string) (*os.File, error) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CREAT|unix.O_APPEND|unix.O_DIRECT, 0o644)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), path), nil
}
