package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the gosessiond CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gosessiond",
		Short: "Session authentication service",
		Long: `gosessiond serves registration, login, refresh rotation and logout
over HTTP, and delivers verification emails from a Redis-backed queue.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
