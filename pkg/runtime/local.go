package runtime

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/shlex"

	"github.com/AlexanderGrooff/drover/pkg/common"
)

// LocalConnection runs everything on the machine the worker itself runs on.
type LocalConnection struct{}

func NewLocalConnection() *LocalConnection {
	return &LocalConnection{}
}

func (lc *LocalConnection) Close() error { return nil }

// ExecuteCommand runs a command locally. The built command is tokenized with
// shell-style quoting, so shell mode arrives here as an explicit bash -c
// invocation rather than being interpreted by this process.
func (lc *LocalConnection) ExecuteCommand(command string, opts *CommandOptions) (*CommandResult, error) {
	if command == "" {
		return nil, fmt.Errorf("command is empty")
	}

	tokens, err := shlex.Split(buildCommand(command, opts))
	if err != nil {
		return nil, fmt.Errorf("failed to split command %s: %v", command, err)
	}
	prog, err := exec.LookPath(tokens[0])
	if err != nil {
		return nil, fmt.Errorf("failed to find %s in $PATH: %v", tokens[0], err)
	}

	cmd := exec.Command(prog, tokens[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	common.DebugOutput("Running command: %s", cmd.String())

	runErr := cmd.Run()
	outText := cleanSudoPrompts(stdout.String())
	errText := cleanSudoPrompts(stderr.String())

	if runErr == nil {
		return NewCommandResult(cmd.String(), 0, outText, errText, nil), nil
	}

	rc := -1
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		rc = exitErr.ExitCode()
	}
	if sudoErr := checkSudoPasswordError(errText, "localhost"); sudoErr != nil {
		return NewCommandResult(cmd.String(), rc, outText, errText, sudoErr), nil
	}
	return NewCommandResult(cmd.String(), rc, outText, errText,
		fmt.Errorf("failed to execute command %q: %v", cmd.String(), runErr)), nil
}

// Stat returns file info, following symlinks only when follow is set.
func (lc *LocalConnection) Stat(path string, follow bool) (os.FileInfo, error) {
	if follow {
		return os.Stat(path)
	}
	return os.Lstat(path)
}

func (lc *LocalConnection) SetFileMode(path, modeStr string) error {
	mode, err := parseFileMode(modeStr)
	if err != nil {
		return err
	}
	return os.Chmod(path, mode)
}

func (lc *LocalConnection) ReadFile(filename string) ([]byte, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %w", err)
		}
		return nil, fmt.Errorf("failed to read local file %s: %w", filename, err)
	}
	return data, nil
}

func (lc *LocalConnection) WriteFile(filename string, data string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return os.WriteFile(filename, []byte(data), 0o644)
}

// CopyFile copies a file, or a directory tree recursively, preserving file
// modes.
func (lc *LocalConnection) CopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyLocalFile(src, dst, info.Mode())
	}

	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		entryInfo, err := entry.Info()
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return os.MkdirAll(target, entryInfo.Mode())
		}
		return copyLocalFile(path, target, entryInfo.Mode())
	})
}

func copyLocalFile(src, dst string, mode os.FileMode) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer closeQuietly(srcFile, src)

	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer closeQuietly(dstFile, dst)

	_, err = io.Copy(dstFile, srcFile)
	return err
}

func closeQuietly(f *os.File, name string) {
	if err := f.Close(); err != nil {
		common.LogWarn("Failed to close file", map[string]interface{}{
			"file":  name,
			"error": err.Error(),
		})
	}
}
