package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AlexanderGrooff/drover/pkg"
)

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Work with vault-encrypted values",
}

var vaultEncryptStringCmd = &cobra.Command{
	Use:          "encrypt-string [plaintext]",
	Short:        "Encrypt a string for use in playbooks and inventories",
	Long:         "Encrypt a string in the Ansible Vault 1.1 format. Reads the plaintext from the argument or from stdin.",
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if runVaultPasswordFile != "" {
			cfg.Vault.PasswordFile = runVaultPasswordFile
		}
		password, err := resolveVaultPassword(cfg)
		if err != nil {
			return err
		}
		if password == "" {
			password, err = promptVaultPassword("New vault password: ")
			if err != nil {
				return err
			}
			confirm, err := promptVaultPassword("Confirm new vault password: ")
			if err != nil {
				return err
			}
			if password != confirm {
				return fmt.Errorf("vault passwords do not match")
			}
		}
		if password == "" {
			return fmt.Errorf("vault password must not be empty")
		}

		var plaintext string
		if len(args) == 1 {
			plaintext = args[0]
		} else {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("failed to read plaintext from stdin: %w", err)
			}
			plaintext = string(data)
		}

		vault, err := pkg.EncryptVault(plaintext, password)
		if err != nil {
			return err
		}
		fmt.Println("!vault |")
		for _, line := range strings.Split(vault.String(), "\n") {
			fmt.Println("      " + line)
		}
		return nil
	},
}

func init() {
	vaultEncryptStringCmd.Flags().StringVar(&runVaultPasswordFile, "vault-password-file", "", "Vault password file")
	vaultCmd.AddCommand(vaultEncryptStringCmd)
	RootCmd.AddCommand(vaultCmd)
}
