//go:build !linux

package executor

import (
	"os"

	"golang.org/x/sys/unix"
)

func redirectStdoutToStderr() error {
	return unix.Dup2(int(os.Stderr.Fd()), int(os.Stdout.Fd()))
}
