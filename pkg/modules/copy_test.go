package modules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyInput_Validate(t *testing.T) {
	tests := []struct {
		name    string
		input   CopyInput
		wantErr string
	}{
		{
			name:    "missing dest",
			input:   CopyInput{Content: "x"},
			wantErr: "missing dest parameter",
		},
		{
			name:    "neither content nor src",
			input:   CopyInput{Dest: "/etc/motd"},
			wantErr: "either content or src must be given",
		},
		{
			name:    "content and src together",
			input:   CopyInput{Dest: "/etc/motd", Content: "x", Src: "motd"},
			wantErr: "mutually exclusive",
		},
		{
			name:  "inline content",
			input: CopyInput{Dest: "/etc/motd", Content: "x"},
		},
		{
			name:  "controller source",
			input: CopyInput{Dest: "/etc/motd", Src: "files/motd"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.Validate()
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCopyModule_WritesNewFile(t *testing.T) {
	conn := newFakeConn()

	input := CopyInput{Content: "welcome\n", Dest: "/etc/motd"}
	out, err := CopyModule{}.Execute(input, testCtx(conn))
	require.NoError(t, err)

	copyOut, ok := out.(CopyOutput)
	require.True(t, ok)
	assert.True(t, copyOut.ContentChanged)
	assert.True(t, copyOut.Changed())
	assert.Equal(t, "copied to /etc/motd", copyOut.String())
	assert.Equal(t, "welcome\n", conn.writes["/etc/motd"])
}

func TestCopyModule_UnchangedContentSkipsWrite(t *testing.T) {
	conn := newFakeConn()
	conn.files["/etc/motd"] = "welcome\n"

	input := CopyInput{Content: "welcome\n", Dest: "/etc/motd"}
	out, err := CopyModule{}.Execute(input, testCtx(conn))
	require.NoError(t, err)

	copyOut := out.(CopyOutput)
	assert.False(t, copyOut.Changed())
	assert.Equal(t, "/etc/motd is already up to date", copyOut.String())
	assert.Empty(t, conn.writes)
}

func TestCopyModule_CheckModeWritesNothing(t *testing.T) {
	conn := newFakeConn()
	ctx := testCtx(conn)
	ctx.CheckMode = true

	out, err := CopyModule{}.Execute(CopyInput{Content: "v2\n", Dest: "/etc/app.conf"}, ctx)
	require.NoError(t, err)

	assert.True(t, out.(CopyOutput).Changed())
	assert.Empty(t, conn.writes)
	assert.Empty(t, conn.modeSets)
}

func TestCopyModule_DiffMode(t *testing.T) {
	conn := newFakeConn()
	conn.files["/etc/app.conf"] = "port: 80\n"
	ctx := testCtx(conn)
	ctx.DiffMode = true

	out, err := CopyModule{}.Execute(CopyInput{Content: "port: 8080\n", Dest: "/etc/app.conf"}, ctx)
	require.NoError(t, err)

	diff := out.(CopyOutput).Diff()
	assert.Contains(t, diff, "before: /etc/app.conf")
	assert.Contains(t, diff, "after: /etc/app.conf")
	assert.Contains(t, diff, "-port: 80")
	assert.Contains(t, diff, "+port: 8080")
}

func TestCopyModule_ModeOnlyChange(t *testing.T) {
	conn := newFakeConn()
	conn.files["/etc/app.conf"] = "port: 80\n"

	input := CopyInput{Content: "port: 80\n", Dest: "/etc/app.conf", Mode: "0640"}
	out, err := CopyModule{}.Execute(input, testCtx(conn))
	require.NoError(t, err)

	copyOut := out.(CopyOutput)
	assert.False(t, copyOut.ContentChanged)
	assert.True(t, copyOut.ModeChanged)
	assert.True(t, copyOut.Changed())
	assert.Empty(t, conn.writes)
	assert.Equal(t, "0640", conn.modeSets["/etc/app.conf"])
}

func TestCopyModule_ModeAlreadyCorrect(t *testing.T) {
	conn := newFakeConn()
	conn.files["/etc/app.conf"] = "port: 80\n"
	conn.modes["/etc/app.conf"] = 0o640

	input := CopyInput{Content: "port: 80\n", Dest: "/etc/app.conf", Mode: "0640"}
	out, err := CopyModule{}.Execute(input, testCtx(conn))
	require.NoError(t, err)

	assert.False(t, out.(CopyOutput).Changed())
	assert.Empty(t, conn.modeSets)
}

func TestCopyModule_SourceFromController(t *testing.T) {
	src := filepath.Join(t.TempDir(), "nginx.conf")
	require.NoError(t, os.WriteFile(src, []byte("worker_processes auto;\n"), 0o644))

	conn := newFakeConn()
	out, err := CopyModule{}.Execute(CopyInput{Src: src, Dest: "/etc/nginx/nginx.conf"}, testCtx(conn))
	require.NoError(t, err)

	assert.True(t, out.(CopyOutput).Changed())
	assert.Equal(t, "worker_processes auto;\n", conn.writes["/etc/nginx/nginx.conf"])
}

func TestCopyModule_MissingSource(t *testing.T) {
	input := CopyInput{Src: filepath.Join(t.TempDir(), "absent"), Dest: "/etc/motd"}
	_, err := CopyModule{}.Execute(input, testCtx(newFakeConn()))
	assert.ErrorContains(t, err, "failed to read source file")
}
