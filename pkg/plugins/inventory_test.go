package plugins

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	m := NewManager()
	assert.NotNil(t, m)
	assert.Contains(t, m.pluginDirs, "/usr/local/lib/drover/plugins")
	assert.Contains(t, m.pluginDirs, "./plugins")
}

func TestManager_DiscoverPlugins(t *testing.T) {
	tempDir := t.TempDir()
	m := &Manager{pluginDirs: []string{tempDir}}

	found, err := m.DiscoverPlugins()
	assert.NoError(t, err)
	assert.Empty(t, found)

	pluginFiles := []string{
		"drover-inventory-plugin-aws.so",
		"drover-inventory-plugin-gcp.so",
		"drover-inventory-plugin-docker.so",
		"other-file.txt",  // ignored
		"not-a-plugin.so", // ignored
	}
	for _, filename := range pluginFiles {
		err := os.WriteFile(filepath.Join(tempDir, filename), []byte("mock plugin"), 0644)
		require.NoError(t, err)
	}

	found, err = m.DiscoverPlugins()
	assert.NoError(t, err)
	assert.Equal(t, []string{"aws", "docker", "gcp"}, found)
}

func TestManager_LoadPlugin_GoPluginNotFound(t *testing.T) {
	m := &Manager{pluginDirs: []string{"/nonexistent/path"}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := m.LoadPlugin(ctx, "nonexistent", map[string]interface{}{
		"region": "us-west-2",
	})

	// Either the fallback is unavailable and we get an error, or
	// ansible-inventory happens to be installed and resolves the plugin
	// to something (possibly empty).
	if err != nil {
		errorMsg := err.Error()
		hasExpectedError := strings.Contains(errorMsg, "ansible-inventory") ||
			strings.Contains(errorMsg, "plugin") ||
			strings.Contains(errorMsg, "not found") ||
			strings.Contains(errorMsg, "failed")
		assert.True(t, hasExpectedError, "unexpected error: %s", errorMsg)
	} else {
		assert.NotNil(t, result)
	}
}

func TestManager_ParseAnsibleInventoryOutput(t *testing.T) {
	m := NewManager()

	result, err := m.parseAnsibleInventoryOutput([]byte("{}"))
	require.NoError(t, err)
	assert.Empty(t, result.Hosts)
	assert.Empty(t, result.Groups)

	_, err = m.parseAnsibleInventoryOutput([]byte("not json"))
	assert.Error(t, err)

	output := []byte(`{
		"_meta": {
			"hostvars": {
				"web01": {"ansible_host": "10.0.0.1", "role": "frontend"}
			}
		},
		"all": {
			"children": ["ungrouped", "webservers", "databases"]
		},
		"webservers": {
			"hosts": ["web01"],
			"vars": {"http_port": 80}
		},
		"databases": {
			"hosts": ["db01", "db02"]
		}
	}`)
	result, err = m.parseAnsibleInventoryOutput(output)
	require.NoError(t, err)

	require.Contains(t, result.Hosts, "web01")
	assert.Equal(t, "10.0.0.1", result.Hosts["web01"].Vars["ansible_host"])
	assert.Equal(t, "frontend", result.Hosts["web01"].Vars["role"])

	// Hosts only mentioned in group lists get empty records.
	require.Contains(t, result.Hosts, "db01")
	assert.Empty(t, result.Hosts["db01"].Vars)

	require.Contains(t, result.Groups, "webservers")
	assert.Equal(t, []string{"web01"}, result.Groups["webservers"].Hosts)
	assert.Equal(t, float64(80), result.Groups["webservers"].Vars["http_port"])

	require.Contains(t, result.Groups, "all")
	assert.ElementsMatch(t, []string{"ungrouped", "webservers", "databases"}, result.Groups["all"].Children)
}
