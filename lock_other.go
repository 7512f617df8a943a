//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package pyext

import "os"

// lockFile is a no-op where flock is unavailable; the in-process mutex
// still serializes writers within one builder process.
func lockFile(*os.File) error {
	return nil
}

func unlockFile(*os.File) error {
	return nil
}
