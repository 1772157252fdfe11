package modules

import (
	"os"
	"strconv"
	"time"

	"github.com/AlexanderGrooff/drover/pkg"
	"github.com/AlexanderGrooff/drover/pkg/runtime"
)

var _ runtime.Connection = (*fakeConn)(nil)

// fakeConn implements runtime.Connection against an in-memory file tree and
// scripted command results, so module tests never touch the real system.
type fakeConn struct {
	files   map[string]string
	modes   map[string]os.FileMode
	results map[string]*runtime.CommandResult

	commands []string
	lastOpts *runtime.CommandOptions
	writes   map[string]string
	modeSets map[string]string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		files:    make(map[string]string),
		modes:    make(map[string]os.FileMode),
		results:  make(map[string]*runtime.CommandResult),
		writes:   make(map[string]string),
		modeSets: make(map[string]string),
	}
}

func (c *fakeConn) script(command string, exitCode int, stdout, stderr string) {
	c.results[command] = runtime.NewCommandResult(command, exitCode, stdout, stderr, nil)
}

func (c *fakeConn) ExecuteCommand(command string, opts *runtime.CommandOptions) (*runtime.CommandResult, error) {
	c.commands = append(c.commands, command)
	c.lastOpts = opts
	if res, ok := c.results[command]; ok {
		return res, nil
	}
	return runtime.NewCommandResult(command, 0, "", "", nil), nil
}

func (c *fakeConn) Stat(path string, follow bool) (os.FileInfo, error) {
	if _, ok := c.files[path]; !ok {
		return nil, os.ErrNotExist
	}
	return fakeFileInfo{name: path, mode: c.modes[path]}, nil
}

func (c *fakeConn) WriteFile(filename, data string) error {
	c.files[filename] = data
	c.writes[filename] = data
	return nil
}

func (c *fakeConn) CopyFile(src, dst string) error {
	content, ok := c.files[src]
	if !ok {
		return os.ErrNotExist
	}
	c.files[dst] = content
	return nil
}

func (c *fakeConn) ReadFile(filename string) ([]byte, error) {
	content, ok := c.files[filename]
	if !ok {
		return nil, os.ErrNotExist
	}
	return []byte(content), nil
}

func (c *fakeConn) SetFileMode(path, modeStr string) error {
	c.modeSets[path] = modeStr
	if parsed, err := strconv.ParseUint(modeStr, 8, 32); err == nil {
		c.modes[path] = os.FileMode(parsed)
	}
	return nil
}

func (c *fakeConn) Close() error { return nil }

type fakeFileInfo struct {
	name string
	mode os.FileMode
}

func (f fakeFileInfo) Name() string       { return f.name }
func (f fakeFileInfo) Size() int64        { return 0 }
func (f fakeFileInfo) Mode() os.FileMode  { return f.mode }
func (f fakeFileInfo) ModTime() time.Time { return time.Time{} }
func (f fakeFileInfo) IsDir() bool        { return false }
func (f fakeFileInfo) Sys() interface{}   { return nil }

func testCtx(conn runtime.Connection) *pkg.ExecContext {
	return &pkg.ExecContext{Conn: conn, Scope: map[string]interface{}{}}
}
