//go:build unix

package maintenance

import (
	"os"

	"golang.org/x/sys/unix"
)

// Reexec replaces the current process with a fresh copy of the same binary
// and arguments. It only returns on failure.
func Reexec() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	return unix.Exec(exe, os.Args, os.Environ())
}
