package commands

import (
	"log/slog"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Verifies the configured IP2 credentials.",
	Run: func(cmd *cobra.Command, args []string) {
		client, cfg := createClient(cmd.Context())

		projects, err := client.Projects(cmd.Context())
		if err != nil {
			slog.Error("login succeeded but listing projects failed", "err", err)
			return
		}
		slog.Info("login ok", "username", cfg.Username, "projects", len(projects))
	},
}
