package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AlexanderGrooff/drover/pkg/common"
	"github.com/AlexanderGrooff/drover/pkg/config"
	_ "github.com/AlexanderGrooff/drover/pkg/modules" // Register modules
)

var (
	configFile string
	cfg        *config.Config
)

// LoadConfig resolves configuration for every subcommand. Without an
// explicit --config it tries ./drover.yaml and otherwise runs on defaults.
var LoadConfig = func(path string) error {
	configPaths := []string{}
	if path == "" {
		defaultConfig := "drover.yaml"
		if _, err := os.Stat(defaultConfig); err == nil {
			configPaths = append(configPaths, defaultConfig)
		}
	} else {
		configPaths = append(configPaths, path)
	}

	loaded, err := config.Load(configPaths...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg = loaded

	return common.ApplyLoggingConfig(cfg.Logging)
}

// GetConfig returns the configuration loaded by the persistent pre-run.
func GetConfig() *config.Config {
	return cfg
}

var RootCmd = &cobra.Command{
	Use:   "drover",
	Short: "Parallel playbook runner",
	Long:  `Drover runs Ansible-style playbooks by dispatching tasks to a pool of isolated worker processes and folding their results back into per-host state.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return LoadConfig(configFile)
	},
}

func Execute() error {
	return RootCmd.Execute()
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file path (default: ./drover.yaml)")
}
