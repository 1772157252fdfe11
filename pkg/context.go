package pkg

import (
	"fmt"
	"net"
	"sync"

	"github.com/AlexanderGrooff/drover/pkg/common"
	"github.com/AlexanderGrooff/drover/pkg/config"
	"github.com/AlexanderGrooff/drover/pkg/runtime"
	"github.com/AlexanderGrooff/drover/pkg/sshpool"
)

// PlayContext carries the play-scoped settings a worker needs to execute a
// task. It crosses the process boundary with every request, so it stays
// small and fully serializable.
type PlayContext struct {
	PlayName  string `json:"play_name"`
	CheckMode bool   `json:"check_mode,omitempty"`
	DiffMode  bool   `json:"diff_mode,omitempty"`
}

// ConnectionCache hands out one Connection per host inside a worker
// process. Connections open lazily on first use and stay open across tasks;
// a drop request closes a host's entry so the next task redials.
type ConnectionCache struct {
	mu    sync.Mutex
	cfg   *config.Config
	ssh   *sshpool.Manager
	conns map[string]runtime.Connection
}

func NewConnectionCache(cfg *config.Config) *ConnectionCache {
	return &ConnectionCache{
		cfg:   cfg,
		ssh:   sshpool.NewManager(cfg),
		conns: make(map[string]runtime.Connection),
	}
}

// Get returns the connection for a host, dialing if needed. Dial failures
// surface as the connection-failure error class.
func (c *ConnectionCache) Get(host *Host) (runtime.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.conns[host.Name]; ok {
		return conn, nil
	}

	var conn runtime.Connection
	if host.IsLocal {
		conn = runtime.NewLocalConnection()
	} else {
		sshConn, err := runtime.NewSSHConnection(dialAddress(host), host.Vars, c.ssh)
		if err != nil {
			return nil, err
		}
		conn = sshConn
	}
	c.conns[host.Name] = conn
	return conn, nil
}

// dialAddress builds the host:port dial target. The inventory address wins
// over the host name, ansible_port over the default SSH port. An address
// that already carries a port is used as given.
func dialAddress(host *Host) string {
	target := host.Host
	if target == "" {
		target = host.Name
	}
	if _, _, err := net.SplitHostPort(target); err == nil {
		return target
	}
	port := "22"
	if raw, ok := host.Vars["ansible_port"]; ok && raw != nil {
		port = fmt.Sprintf("%v", raw)
	}
	return net.JoinHostPort(target, port)
}

// Drop closes and forgets a host's connection. Unknown hosts are a no-op.
func (c *ConnectionCache) Drop(hostName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, ok := c.conns[hostName]
	if !ok {
		return
	}
	delete(c.conns, hostName)
	if err := conn.Close(); err != nil {
		common.LogDebug("Failed to close dropped connection", map[string]interface{}{
			"host":  hostName,
			"error": err.Error(),
		})
	}
	c.ssh.CloseHost(hostName)
}

// Close tears down every cached connection.
func (c *ConnectionCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for hostName, conn := range c.conns {
		if err := conn.Close(); err != nil {
			common.LogDebug("Failed to close connection", map[string]interface{}{
				"host":  hostName,
				"error": err.Error(),
			})
		}
	}
	c.conns = make(map[string]runtime.Connection)
	c.ssh.Close()
}
