// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Tableside CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tableside",
		Short: "Tableside - tabletop session companion server",
		Long: `Tableside is the companion server for shared tabletop sessions:
it keeps character records in sync across devices and delivers
session broadcasts (visuals, whispers, loot) to connected players.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewStatusCmd())

	return cmd
}
