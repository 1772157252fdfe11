package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/AlexanderGrooff/drover/pkg"
	"github.com/AlexanderGrooff/drover/pkg/common"
	"github.com/AlexanderGrooff/drover/pkg/config"
	"github.com/AlexanderGrooff/drover/pkg/executor"
)

var (
	runInventoryFile     string
	runForks             int
	runStrategy          string
	runCheckMode         bool
	runDiffMode          bool
	runForceHandlers     bool
	runLimit             string
	runExtraVars         []string
	runVaultPasswordFile string
	runAskVaultPass      bool
)

var runCmd = &cobra.Command{
	Use:          "run <playbook>",
	Short:        "Run a playbook",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		applyRunFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		extraVars, err := parseExtraVars(runExtraVars)
		if err != nil {
			return err
		}
		cfg.ExtraVars = extraVars

		inventory, err := loadInventory(runInventoryFile)
		if err != nil {
			return fmt.Errorf("failed to load inventory: %w", err)
		}

		plays, err := pkg.LoadPlaybook(args[0])
		if err != nil {
			return fmt.Errorf("failed to load playbook: %w", err)
		}

		vaultPassword, err := resolveVaultPassword(cfg)
		if err != nil {
			return err
		}
		if vaultPassword != "" {
			if err := decryptLoadedVault(inventory, plays, cfg, vaultPassword); err != nil {
				return err
			}
		}

		display := pkg.NewDisplay(cfg.Logging.Format)
		runner := executor.NewRunner(cfg, inventory, display, configFile)

		if cfg.Metrics.Enabled {
			server := pkg.NewServer(cfg.Metrics.Port, runner.Status, runner.Stats())
			go func() {
				if err := server.Start(); err != nil {
					common.LogWarn("Metrics server stopped", map[string]interface{}{
						"error": err.Error(),
					})
				}
			}()
		}

		code, err := runner.Run(plays)
		if err != nil {
			common.LogError("Run failed", map[string]interface{}{
				"error": err.Error(),
			})
			os.Exit(code | executor.RunError)
		}
		if code != executor.RunOK {
			os.Exit(code)
		}
		return nil
	},
}

// applyRunFlags overrides config values with flags the user actually set,
// so config files and DROVER_ environment variables keep working as
// defaults.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("forks") {
		cfg.Forks = runForks
	}
	if flags.Changed("strategy") {
		cfg.Strategy = runStrategy
	}
	if flags.Changed("check") {
		cfg.CheckMode = runCheckMode
	}
	if flags.Changed("diff") {
		cfg.DiffMode = runDiffMode
	}
	if flags.Changed("force-handlers") {
		cfg.ForceHandlers = runForceHandlers
	}
	if flags.Changed("limit") {
		cfg.Limit = runLimit
	}
	if flags.Changed("vault-password-file") {
		cfg.Vault.PasswordFile = runVaultPasswordFile
	}
	if flags.Changed("ask-vault-pass") {
		cfg.Vault.AskPass = runAskVaultPass
	}
}

// resolveVaultPassword returns the vault password, or "" when no vault
// source is configured. A password file wins over the interactive prompt.
func resolveVaultPassword(cfg *config.Config) (string, error) {
	if cfg.Vault.PasswordFile != "" {
		data, err := os.ReadFile(cfg.Vault.PasswordFile)
		if err != nil {
			return "", fmt.Errorf("failed to read vault password file: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
	if cfg.Vault.AskPass {
		return promptVaultPassword("Vault password: ")
	}
	return "", nil
}

func promptVaultPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read vault password: %w", err)
	}
	return string(password), nil
}

// decryptLoadedVault decrypts vault payloads everywhere the coordinator
// reads variables: inventory, play and task vars, and extra vars. Workers
// receive plaintext through the dispatch vars files.
func decryptLoadedVault(inventory *pkg.Inventory, plays []*pkg.Play, cfg *config.Config, password string) error {
	if err := inventory.DecryptVault(password); err != nil {
		return fmt.Errorf("failed to decrypt inventory: %w", err)
	}
	for _, play := range plays {
		if err := play.DecryptVault(password); err != nil {
			return fmt.Errorf("failed to decrypt playbook: %w", err)
		}
	}
	if len(cfg.ExtraVars) > 0 {
		walked, err := pkg.DecryptVaultedValues(cfg.ExtraVars, password)
		if err != nil {
			return fmt.Errorf("failed to decrypt extra vars: %w", err)
		}
		cfg.ExtraVars = walked.(map[string]interface{})
	}
	return nil
}

func loadInventory(path string) (*pkg.Inventory, error) {
	if path == "" {
		common.LogInfo("No inventory provided, using implicit localhost", nil)
		return pkg.NewImplicitInventory(), nil
	}
	return pkg.LoadInventory(path)
}

// parseExtraVars folds -e arguments into a single map. Each argument is
// either key=value (the value parsed as YAML, so numbers and booleans come
// out typed) or an inline YAML/JSON map.
func parseExtraVars(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	merged := make(map[string]interface{})
	for _, raw := range pairs {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "{") {
			var parsed map[string]interface{}
			if err := yaml.Unmarshal([]byte(trimmed), &parsed); err != nil {
				return nil, fmt.Errorf("failed to parse extra vars %q: %w", raw, err)
			}
			for key, value := range parsed {
				merged[key] = value
			}
			continue
		}
		key, value, found := strings.Cut(trimmed, "=")
		if !found {
			return nil, fmt.Errorf("invalid extra var %q, expected key=value or a YAML/JSON map", raw)
		}
		var parsed interface{}
		if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
			parsed = value
		}
		merged[key] = parsed
	}
	return merged, nil
}

func init() {
	runCmd.Flags().StringVarP(&runInventoryFile, "inventory", "i", "", "Inventory file path (default: implicit localhost)")
	runCmd.Flags().IntVar(&runForks, "forks", 0, "Number of worker processes")
	runCmd.Flags().StringVar(&runStrategy, "strategy", "", "Scheduling strategy: linear or free")
	runCmd.Flags().BoolVar(&runCheckMode, "check", false, "Enable check mode (dry run)")
	runCmd.Flags().BoolVar(&runDiffMode, "diff", false, "Enable diff mode")
	runCmd.Flags().BoolVar(&runForceHandlers, "force-handlers", false, "Run handlers even on failed hosts")
	runCmd.Flags().StringVarP(&runLimit, "limit", "l", "", "Further limit selected hosts to a pattern")
	runCmd.Flags().StringArrayVarP(&runExtraVars, "extra-vars", "e", []string{}, "Set additional variables as key=value or YAML/JSON")
	runCmd.Flags().StringVar(&runVaultPasswordFile, "vault-password-file", "", "Vault password file")
	runCmd.Flags().BoolVar(&runAskVaultPass, "ask-vault-pass", false, "Prompt for the vault password")

	RootCmd.AddCommand(runCmd)
}
