package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all engine configuration settings.
type Config struct {
	Forks         int           `mapstructure:"forks"`
	Strategy      string        `mapstructure:"strategy"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	ForceHandlers bool          `mapstructure:"force_handlers"`
	CheckMode     bool          `mapstructure:"check"`
	DiffMode      bool          `mapstructure:"diff"`
	// Limit restricts every play's matched hosts to this pattern.
	Limit string `mapstructure:"limit"`

	Worker              WorkerConfig              `mapstructure:"worker"`
	Logging             LoggingConfig             `mapstructure:"logging"`
	SSH                 SSHConfig                 `mapstructure:"ssh"`
	PrivilegeEscalation PrivilegeEscalationConfig `mapstructure:"privilege_escalation"`
	Metrics             MetricsConfig             `mapstructure:"metrics"`
	Vault               VaultConfig               `mapstructure:"vault"`

	HostKeyChecking bool `mapstructure:"host_key_checking"`

	// ExtraVars is populated from the CLI, not from config files.
	ExtraVars map[string]interface{} `mapstructure:"-"`
}

// WorkerConfig controls the worker pool.
type WorkerConfig struct {
	// Isolation selects the worker transport: "process" re-execs the
	// drover binary per worker slot, "inline" runs the worker loop in
	// the coordinator process over pipes. Inline exists for debugging;
	// process is the safety boundary.
	Isolation string `mapstructure:"isolation"`
	// TempDir overrides where dispatch variable files are written.
	TempDir string `mapstructure:"temp_dir"`
}

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Timestamps bool   `mapstructure:"timestamps"`
	File       string `mapstructure:"file"`
}

// SSHAuthConfig holds SSH authentication settings. Workers carry the request
// stream on stdin, so only non-interactive methods are supported: private key
// files and the SSH agent.
type SSHAuthConfig struct {
	PrivateKeys    []string `mapstructure:"private_keys"`
	IdentitiesOnly bool     `mapstructure:"identities_only"`
}

// SSHConfig holds SSH connection settings.
type SSHConfig struct {
	RemoteUser string        `mapstructure:"remote_user"`
	Port       int           `mapstructure:"port"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Auth       SSHAuthConfig `mapstructure:"auth"`
}

// PrivilegeEscalationConfig holds become/sudo settings.
type PrivilegeEscalationConfig struct {
	BecomeFlags string `mapstructure:"become_flags"`
}

// MetricsConfig controls the optional metrics listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    string `mapstructure:"port"`
}

// VaultConfig controls how vault-encrypted values are decrypted. Decryption
// happens in the coordinator at load time; workers only ever see plaintext.
type VaultConfig struct {
	PasswordFile string `mapstructure:"password_file"`
	AskPass      bool   `mapstructure:"ask_pass"`
}

// ValidStrategies lists the supported scheduling strategies.
var ValidStrategies = []string{"linear", "free"}

// ValidIsolationModes lists the supported worker transports.
var ValidIsolationModes = []string{"process", "inline"}

// Load loads configuration from files and environment variables.
func Load(configPaths ...string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	for _, path := range configPaths {
		if path == "" {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("DROVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks config values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if c.Forks < 1 {
		return fmt.Errorf("forks must be at least 1, got %d", c.Forks)
	}
	if !containsString(ValidStrategies, c.Strategy) {
		return fmt.Errorf("invalid strategy %q. Valid strategies are: %v", c.Strategy, ValidStrategies)
	}
	if !containsString(ValidIsolationModes, c.Worker.Isolation) {
		return fmt.Errorf("invalid worker isolation %q. Valid modes are: %v", c.Worker.Isolation, ValidIsolationModes)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("forks", 5)
	v.SetDefault("strategy", "linear")
	v.SetDefault("poll_interval", 10*time.Millisecond)
	v.SetDefault("force_handlers", false)
	v.SetDefault("check", false)
	v.SetDefault("diff", false)
	v.SetDefault("limit", "")

	v.SetDefault("worker.isolation", "process")
	v.SetDefault("worker.temp_dir", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "plain")
	v.SetDefault("logging.timestamps", true)
	v.SetDefault("logging.file", "")

	v.SetDefault("ssh.remote_user", "")
	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.timeout", 30*time.Second)
	v.SetDefault("ssh.auth.private_keys", []string{})
	v.SetDefault("ssh.auth.identities_only", false)

	v.SetDefault("privilege_escalation.become_flags", "")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", "9090")

	v.SetDefault("vault.password_file", "")
	v.SetDefault("vault.ask_pass", false)

	v.SetDefault("host_key_checking", true)
}

func containsString(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
