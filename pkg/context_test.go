package pkg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexanderGrooff/drover/pkg/config"
)

func cacheConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestConnectionCache_ReusesConnections(t *testing.T) {
	cache := NewConnectionCache(cacheConfig(t))
	defer cache.Close()

	host := &Host{Name: "h1", Host: "localhost"}
	host.Prepare()
	require.True(t, host.IsLocal)

	first, err := cache.Get(host)
	require.NoError(t, err)
	second, err := cache.Get(host)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestConnectionCache_DropForcesRedial(t *testing.T) {
	cache := NewConnectionCache(cacheConfig(t))
	defer cache.Close()

	host := &Host{Name: "h1", Host: "localhost"}
	host.Prepare()

	first, err := cache.Get(host)
	require.NoError(t, err)

	cache.Drop(host.Name)
	cache.Drop("never seen")

	second, err := cache.Get(host)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestDialAddress(t *testing.T) {
	tests := []struct {
		name string
		host *Host
		want string
	}{
		{
			name: "default port",
			host: &Host{Name: "web1", Host: "203.0.113.7"},
			want: "203.0.113.7:22",
		},
		{
			name: "name stands in for a missing address",
			host: &Host{Name: "web1.example.com"},
			want: "web1.example.com:22",
		},
		{
			name: "ansible_port overrides the default",
			host: &Host{Name: "web1", Host: "203.0.113.7", Vars: map[string]interface{}{"ansible_port": 2222}},
			want: "203.0.113.7:2222",
		},
		{
			name: "port survives json decoding as a float",
			host: &Host{Name: "web1", Host: "203.0.113.7", Vars: map[string]interface{}{"ansible_port": float64(2222)}},
			want: "203.0.113.7:2222",
		},
		{
			name: "address with explicit port wins",
			host: &Host{Name: "web1", Host: "203.0.113.7:2200", Vars: map[string]interface{}{"ansible_port": 2222}},
			want: "203.0.113.7:2200",
		},
		{
			name: "bare ipv6 address gets bracketed",
			host: &Host{Name: "web1", Host: "2001:db8::7"},
			want: "[2001:db8::7]:22",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dialAddress(tt.host))
		})
	}
}
