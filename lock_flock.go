//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package pyext

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockFile takes a blocking exclusive flock. The kernel releases it when
// the descriptor is closed, including on crash.
func lockFile(f *os.File) error {
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX)
		if err != unix.EINTR {
			return err
		}
	}
}

func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
