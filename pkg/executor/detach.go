package executor

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// DetachResultStream takes over the process's real stdout for the result
// protocol and points file descriptor 1 at stderr. After this, anything
// that writes to stdout, including subprocesses inheriting fd 1, lands on
// stderr instead of corrupting the frame stream.
func DetachResultStream() (*os.File, error) {
	fd, err := unix.Dup(int(os.Stdout.Fd()))
	if err != nil {
		return nil, fmt.Errorf("duplicating stdout: %w", err)
	}
	unix.CloseOnExec(fd)
	if err := redirectStdoutToStderr(); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("redirecting stdout to stderr: %w", err)
	}
	return os.NewFile(uintptr(fd), "drover-results"), nil
}
