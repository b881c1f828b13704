package cmd

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"chatgate/pkg/config"
)

var initConfigPath string

func randomToken(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func init() {
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config with fresh secrets",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(initConfigPath); err == nil {
				return fmt.Errorf("config already exists at %s", initConfigPath)
			}

			cfg := config.NewDefaultServerConfig()
			secret, err := randomToken(32)
			if err != nil {
				return fmt.Errorf("generate secret: %w", err)
			}
			adminToken, err := randomToken(24)
			if err != nil {
				return fmt.Errorf("generate admin token: %w", err)
			}
			cfg.Secret = secret
			cfg.AdminToken = adminToken

			if err := config.SaveServerConfig(initConfigPath, cfg); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", initConfigPath)
			fmt.Fprintf(cmd.OutOrStdout(), "Admin token: %s\n", adminToken)
			return nil
		},
	}
	initCmd.Flags().StringVar(&initConfigPath, "config", config.DefaultServerConfigPath(), "Server config TOML path")
	rootCmd.AddCommand(initCmd)
}
