//go:build linux

package executor

import (
	"os"

	"golang.org/x/sys/unix"
)

// dup2 does not exist on every Linux architecture, dup3 does.
func redirectStdoutToStderr() error {
	return unix.Dup3(int(os.Stderr.Fd()), int(os.Stdout.Fd()), 0)
}
