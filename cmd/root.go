package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"chatgate/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:   "chatgate",
	Short: "Multi-tenant LLM chat gateway",
	Long:  "Chatgate relays chat streams to OpenAI-compatible backends with per-user credentials, templating, and point metering.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)
	rootCmd.SilenceUsage = true

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print chatgate version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Detailed("chatgate"))
		},
	})
}
