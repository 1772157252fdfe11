package pkg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUnifiedDiff(t *testing.T) {
	diff, err := GenerateUnifiedDiff("/etc/app.conf", "port: 80\nworkers: 2\n", "port: 8080\nworkers: 2\n")
	require.NoError(t, err)

	assert.Contains(t, diff, "--- before: /etc/app.conf")
	assert.Contains(t, diff, "+++ after: /etc/app.conf")
	assert.Contains(t, diff, "-port: 80\n")
	assert.Contains(t, diff, "+port: 8080\n")
}

func TestGenerateUnifiedDiff_NewFile(t *testing.T) {
	diff, err := GenerateUnifiedDiff("/etc/motd", "", "welcome\n")
	require.NoError(t, err)
	assert.Contains(t, diff, "+welcome")
}

func TestGenerateUnifiedDiff_NoChange(t *testing.T) {
	diff, err := GenerateUnifiedDiff("/etc/motd", "same\n", "same\n")
	require.NoError(t, err)
	assert.Empty(t, diff)
}
