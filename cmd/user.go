package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"chatgate/pkg/config"
	"chatgate/pkg/store"
)

var (
	userConfigPath  string
	userStartPoints int64
)

func openStoreFromConfig(ctx context.Context, path string) (*store.Store, error) {
	cfg, err := config.LoadServerConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load server config: %w", err)
	}
	st, err := store.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

func init() {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage gateway users",
	}

	addCmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a user and print its API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := strings.TrimSpace(args[0])
			if username == "" {
				return fmt.Errorf("username cannot be empty")
			}

			st, err := openStoreFromConfig(cmd.Context(), userConfigPath)
			if err != nil {
				return err
			}
			defer st.Close()

			u, err := st.CreateUser(cmd.Context(), username, userStartPoints)
			if err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created user %s\n", u.Username)
			fmt.Fprintf(cmd.OutOrStdout(), "API token: %s\n", u.APIToken)
			fmt.Fprintf(cmd.OutOrStdout(), "Points: %d\n", u.Points)
			return nil
		},
	}
	addCmd.Flags().Int64Var(&userStartPoints, "points", 1000, "Starting point balance")

	userCmd.PersistentFlags().StringVar(&userConfigPath, "config", config.DefaultServerConfigPath(), "Server config TOML path")
	userCmd.AddCommand(addCmd)
	rootCmd.AddCommand(userCmd)
}
