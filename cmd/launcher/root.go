// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the launcher CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launcher",
		Short: "Launcher plugin host",
		Long: `Launcher loads Lua UI plugins from a plugins directory, mounts each
into its slot in the launcher document and tears every generation down
cleanly when the plugin set changes.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/launcher/config.yaml)")
	cmd.PersistentFlags().String("plugins-dir", "", "plugins directory (default: XDG_DATA_HOME/launcher/plugins)")
	cmd.PersistentFlags().StringSlice("disabled", nil, "glob patterns of plugin names to skip")
	cmd.PersistentFlags().String("log-format", defaultLogFormat, "log format (json or text)")
	cmd.PersistentFlags().String("log-level", defaultLogLevel, "log level (debug, info, warn, error)")

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewListCmd())
	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewSchemaCmd())

	return cmd
}
