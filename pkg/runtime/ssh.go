package runtime

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	desopssshpool "github.com/desops/sshpool"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/AlexanderGrooff/drover/pkg/common"
	"github.com/AlexanderGrooff/drover/pkg/sshpool"
)

// UnreachableError marks a failure to reach the host at all, as opposed to a
// command that ran and failed.
type UnreachableError struct {
	Host string
	Err  error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("host %s unreachable: %v", e.Host, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// IsUnreachable reports whether err stems from a connection failure.
func IsUnreachable(err error) bool {
	var ue *UnreachableError
	return errors.As(err, &ue)
}

// SSHConnection executes commands and file operations on a remote host
// through pooled SSH sessions.
type SSHConnection struct {
	Host    string
	manager *sshpool.Manager
	pool    *desopssshpool.Pool

	mu         sync.Mutex
	sftpClient *sftp.Client
}

func NewSSHConnection(host string, hostVars map[string]interface{}, manager *sshpool.Manager) (*SSHConnection, error) {
	pool, err := manager.GetPool(host, hostVars)
	if err != nil {
		return nil, &UnreachableError{Host: host, Err: err}
	}
	return &SSHConnection{Host: host, manager: manager, pool: pool}, nil
}

// sftp returns the SFTP session for file operations, opening it on first
// use. The session stays open for the lifetime of the connection.
func (c *SSHConnection) sftp() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sftpClient == nil {
		session, err := c.pool.GetSFTP(c.Host)
		if err != nil {
			return nil, &UnreachableError{Host: c.Host, Err: fmt.Errorf("opening SFTP session: %w", err)}
		}
		c.sftpClient = session.Client
	}
	return c.sftpClient, nil
}

// ExecuteCommand runs a command through a pooled SSH session.
func (c *SSHConnection) ExecuteCommand(command string, opts *CommandOptions) (*CommandResult, error) {
	if command == "" {
		return nil, fmt.Errorf("command is empty")
	}

	session, err := c.pool.Get(c.Host)
	if err != nil {
		return nil, &UnreachableError{Host: c.Host, Err: fmt.Errorf("opening SSH session: %w", err)}
	}
	// Sessions must go back to the pool, the per-connection budget is small.
	defer session.Put()

	wrapped := buildCommand(command, opts)
	common.DebugOutput("Remote command on %s: %s", c.Host, wrapped)

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	runErr := session.Run(wrapped)
	outText := cleanSudoPrompts(stdout.String())
	errText := cleanSudoPrompts(stderr.String())
	if runErr == nil {
		return NewCommandResult(wrapped, 0, outText, errText, nil), nil
	}

	if authErr := checkAuthenticationError(runErr, c.Host); authErr != nil {
		return nil, &UnreachableError{Host: c.Host, Err: authErr}
	}
	rc := exitStatus(runErr)
	if sudoErr := checkSudoPasswordError(errText, c.Host); sudoErr != nil {
		return NewCommandResult(wrapped, rc, outText, errText, sudoErr), nil
	}
	return NewCommandResult(wrapped, rc, outText, errText,
		fmt.Errorf("remote command %q on host %s: %w, stderr: %s", command, c.Host, runErr, errText)), nil
}

// exitStatus extracts the remote exit code, -1 when the command never
// reported one (lost connection, killed by signal).
func exitStatus(err error) int {
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus()
	}
	return -1
}

// closeRemote closes an SFTP file, logging instead of failing the operation.
func closeRemote(f io.Closer, host, path string) {
	if err := f.Close(); err != nil {
		common.LogWarn("Failed to close remote file", map[string]interface{}{
			"host":  host,
			"file":  path,
			"error": err.Error(),
		})
	}
}

// WriteFile writes contents to a remote path over SFTP, creating parent
// directories as needed.
func (c *SSHConnection) WriteFile(remotePath, contents string) error {
	client, err := c.sftp()
	if err != nil {
		return err
	}

	parent := filepath.Dir(remotePath)
	if err := client.MkdirAll(parent); err != nil && !os.IsExist(err) {
		return fmt.Errorf("creating remote directory %s on %s: %w", parent, c.Host, err)
	}
	f, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("creating remote file %s on %s: %w", remotePath, c.Host, err)
	}
	defer closeRemote(f, c.Host, remotePath)

	if _, err := io.WriteString(f, contents); err != nil {
		return fmt.Errorf("writing remote file %s on %s: %w", remotePath, c.Host, err)
	}
	return nil
}

// ReadFile reads the content of a remote file over SFTP.
func (c *SSHConnection) ReadFile(remotePath string) ([]byte, error) {
	client, err := c.sftp()
	if err != nil {
		return nil, err
	}

	f, err := client.Open(remotePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s on host %s", remotePath, c.Host)
		}
		return nil, fmt.Errorf("opening remote file %s on %s: %w", remotePath, c.Host, err)
	}
	defer closeRemote(f, c.Host, remotePath)

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading remote file %s on %s: %w", remotePath, c.Host, err)
	}
	return data, nil
}

func (c *SSHConnection) SetFileMode(path, mode string) error {
	bits, err := parseFileMode(mode)
	if err != nil {
		return err
	}
	client, err := c.sftp()
	if err != nil {
		return err
	}
	if err := client.Chmod(path, bits); err != nil {
		return fmt.Errorf("setting mode %s on remote file %s on %s: %w", mode, path, c.Host, err)
	}
	return nil
}

// Stat retrieves remote file information, following symlinks only when
// follow is set.
func (c *SSHConnection) Stat(path string, follow bool) (os.FileInfo, error) {
	client, err := c.sftp()
	if err != nil {
		return nil, err
	}
	if follow {
		return client.Stat(path)
	}
	return client.Lstat(path)
}

// CopyFile copies a file, or a directory tree recursively, between two
// remote paths, keeping file modes.
func (c *SSHConnection) CopyFile(src, dst string) error {
	client, err := c.sftp()
	if err != nil {
		return err
	}
	return remoteCopier{client: client, host: c.Host}.copy(src, dst)
}

// Close tears down the pooled connections for this host. The next
// connection to the same host starts from a fresh pool.
func (c *SSHConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sftpClient = nil
	if c.manager != nil {
		c.manager.CloseHost(c.Host)
	}
	return nil
}

// remoteCopier duplicates paths within one host over SFTP.
type remoteCopier struct {
	client *sftp.Client
	host   string
}

func (r remoteCopier) copy(src, dst string) error {
	info, err := r.client.Lstat(src)
	if err != nil {
		return fmt.Errorf("stat remote source %s on %s: %w", src, r.host, err)
	}
	if info.IsDir() {
		return r.copyTree(src, dst, info)
	}
	return r.copyOne(src, dst, info)
}

func (r remoteCopier) copyTree(src, dst string, info os.FileInfo) error {
	if err := r.client.MkdirAll(dst); err != nil && !os.IsExist(err) {
		return fmt.Errorf("creating remote directory %s on %s: %w", dst, r.host, err)
	}
	if err := r.client.Chmod(dst, info.Mode().Perm()); err != nil {
		return fmt.Errorf("setting mode on remote directory %s on %s: %w", dst, r.host, err)
	}

	entries, err := r.client.ReadDir(src)
	if err != nil {
		return fmt.Errorf("listing remote directory %s on %s: %w", src, r.host, err)
	}
	for _, entry := range entries {
		from := r.client.Join(src, entry.Name())
		to := r.client.Join(dst, entry.Name())
		if err := r.copy(from, to); err != nil {
			return err
		}
	}
	return nil
}

func (r remoteCopier) copyOne(src, dst string, info os.FileInfo) error {
	in, err := r.client.Open(src)
	if err != nil {
		return fmt.Errorf("opening remote source %s on %s: %w", src, r.host, err)
	}
	defer closeRemote(in, r.host, src)

	parent := filepath.Dir(dst)
	if err := r.client.MkdirAll(parent); err != nil && !os.IsExist(err) {
		return fmt.Errorf("creating remote directory %s on %s: %w", parent, r.host, err)
	}
	out, err := r.client.Create(dst)
	if err != nil {
		return fmt.Errorf("creating remote file %s on %s: %w", dst, r.host, err)
	}
	defer closeRemote(out, r.host, dst)

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s to %s on %s: %w", src, dst, r.host, err)
	}
	if err := r.client.Chmod(dst, info.Mode().Perm()); err != nil {
		return fmt.Errorf("setting mode on remote file %s on %s: %w", dst, r.host, err)
	}
	return nil
}

// authFailureMarkers are the ssh client errors that mean the host rejected
// or never completed authentication.
var authFailureMarkers = []string{
	"ssh: handshake failed",
	"ssh: unable to authenticate",
	"permission denied",
	"authentication failed",
}

// checkAuthenticationError spots an authentication failure inside a command
// error so it can be reported as the host being unreachable.
func checkAuthenticationError(execErr error, host string) error {
	if execErr == nil {
		return nil
	}
	text := execErr.Error()
	for _, marker := range authFailureMarkers {
		if strings.Contains(text, marker) {
			return fmt.Errorf("SSH authentication failed for host %s. Check the SSH key setup and that the agent is running: %w", host, execErr)
		}
	}
	return nil
}
