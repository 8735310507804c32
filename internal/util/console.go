// Package util holds small helpers shared across lattice's packages that
// do not deserve a package of their own.
package util

import (
	"os"

	"golang.org/x/sys/unix"
)

// RedirectConsole dups path onto stdin/stdout/stderr, for PID 1 startup
// before anything has had a chance to open a controlling terminal. Errors
// are returned rather than logged, since the logger itself may depend on
// stderr already being sane.
func RedirectConsole(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	fd := int(f.Fd())
	for _, target := range []int{0, 1, 2} {
		if err := unix.Dup2(fd, target); err != nil {
			return err
		}
	}
	return nil
}
