package runtime

import "os"

// Connection abstracts how a worker reaches a target host. Modules only see
// this interface, so local and SSH execution stay interchangeable.
//
// A worker holds one connection per host for the lifetime of a play and
// issues operations on it sequentially.
type Connection interface {
	// ExecuteCommand runs a command and reports its outcome. A non-zero
	// exit code arrives inside the result, not as the returned error.
	ExecuteCommand(command string, opts *CommandOptions) (*CommandResult, error)
	// Stat follows symlinks only when follow is set.
	Stat(path string, follow bool) (os.FileInfo, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, contents string) error
	// CopyFile copies a file or a directory tree, keeping file modes.
	CopyFile(src, dst string) error
	// SetFileMode applies an octal mode string such as "0644".
	SetFileMode(path, mode string) error
	Close() error
}
