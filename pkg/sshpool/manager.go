package sshpool

import (
	"fmt"
	"net"
	"os"
	"os/user"
	"strings"
	"sync"
	"time"

	desopssshpool "github.com/desops/sshpool"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/AlexanderGrooff/drover/pkg/common"
	"github.com/AlexanderGrooff/drover/pkg/config"
)

const defaultConnectTimeout = 30 * time.Second

// Manager hands out per-host SSH connection pools. Every worker process
// carries its own manager, so pools are never shared across processes.
//
// Only non-interactive authentication is supported: workers have their
// stdin attached to the coordinator, leaving no terminal to prompt on.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*desopssshpool.Pool
	cfg   *config.Config
}

func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		pools: make(map[string]*desopssshpool.Pool),
		cfg:   cfg,
	}
}

// GetPool returns the pool for host, creating it on first use. Host
// variables take precedence over config for the connecting user and key.
func (m *Manager) GetPool(host string, hostVars map[string]interface{}) (*desopssshpool.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pool, ok := m.pools[host]; ok {
		return pool, nil
	}

	clientCfg, err := m.clientConfig(host, hostVars)
	if err != nil {
		return nil, fmt.Errorf("building SSH client config for host %s: %w", host, err)
	}

	pool := desopssshpool.New(clientCfg, &desopssshpool.PoolConfig{
		// Stock sshd caps sessions per connection at 10.
		MaxSessions:       10,
		MaxConnections:    5,
		SessionCloseDelay: 20 * time.Millisecond,
	})
	m.pools[host] = pool
	return pool, nil
}

// Close tears down every pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for host, pool := range m.pools {
		pool.Close()
		delete(m.pools, host)
	}
	return nil
}

// CloseHost tears down the pool for one host, typically after its
// connection went unreachable.
func (m *Manager) CloseHost(host string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pool, ok := m.pools[host]; ok {
		pool.Close()
		delete(m.pools, host)
	}
}

func (m *Manager) clientConfig(host string, hostVars map[string]interface{}) (*ssh.ClientConfig, error) {
	username, err := m.resolveUser(hostVars)
	if err != nil {
		return nil, err
	}

	auth, err := m.resolveAuth(host, hostVars)
	if err != nil {
		return nil, err
	}

	timeout := defaultConnectTimeout
	if m.cfg != nil && m.cfg.SSH.Timeout > 0 {
		timeout = m.cfg.SSH.Timeout
	}

	return &ssh.ClientConfig{
		User:            username,
		Auth:            auth,
		HostKeyCallback: m.hostKeyCallback(host),
		Timeout:         timeout,
		ClientVersion:   "SSH-2.0-drover",
	}, nil
}

// resolveUser picks the connecting user: the ansible_user host variable
// wins, then the configured remote user, then the local OS user.
func (m *Manager) resolveUser(hostVars map[string]interface{}) (string, error) {
	if name, ok := hostVars["ansible_user"].(string); ok && name != "" {
		return name, nil
	}
	if m.cfg != nil && m.cfg.SSH.RemoteUser != "" {
		return m.cfg.SSH.RemoteUser, nil
	}
	local, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("no remote user configured and the local user is unknown: %w", err)
	}
	return local.Username, nil
}

// resolveAuth assembles the non-interactive auth methods: key files named
// by the host or the config first, then the SSH agent. Unreadable keys are
// skipped with a warning so one bad path does not block the rest.
func (m *Manager) resolveAuth(host string, hostVars map[string]interface{}) ([]ssh.AuthMethod, error) {
	var candidates []string
	if path, ok := hostVars["ansible_ssh_private_key_file"].(string); ok && path != "" {
		candidates = append(candidates, path)
	}
	if m.cfg != nil {
		candidates = append(candidates, m.cfg.SSH.Auth.PrivateKeys...)
	}

	var signers []ssh.Signer
	for _, path := range candidates {
		if signer := loadKeyFile(host, path); signer != nil {
			signers = append(signers, signer)
		}
	}

	var methods []ssh.AuthMethod
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}
	if m.cfg == nil || !m.cfg.SSH.Auth.IdentitiesOnly {
		if agentAuth := agentAuthMethod(host); agentAuth != nil {
			methods = append(methods, agentAuth)
		}
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no SSH authentication methods available for host %s: no key files found and no SSH agent running", host)
	}
	return methods, nil
}

// loadKeyFile parses one private key, expanding a leading ~.
func loadKeyFile(host, path string) ssh.Signer {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = home + path[1:]
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		common.LogWarn("Skipping unreadable SSH key", map[string]interface{}{
			"host":  host,
			"path":  path,
			"error": err.Error(),
		})
		return nil
	}
	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		common.LogWarn("Skipping unparseable SSH key", map[string]interface{}{
			"host":  host,
			"path":  path,
			"error": err.Error(),
		})
		return nil
	}
	return signer
}

// agentAuthMethod connects to the agent named by SSH_AUTH_SOCK, if any.
func agentAuthMethod(host string) ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}
	conn, err := net.Dial("unix", socket)
	if err != nil {
		common.LogWarn("SSH agent socket is set but unreachable", map[string]interface{}{
			"host":   host,
			"socket": socket,
			"error":  err.Error(),
		})
		return nil
	}
	common.LogDebug("Using SSH agent for public key authentication", map[string]interface{}{"host": host})
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers)
}

func (m *Manager) hostKeyCallback(host string) ssh.HostKeyCallback {
	if m.cfg == nil || m.cfg.HostKeyChecking {
		// TODO: verify against known_hosts instead of accepting anything.
		common.LogWarn("Host key verification is not implemented, accepting any host key", map[string]interface{}{"host": host})
	}
	return ssh.InsecureIgnoreHostKey()
}
