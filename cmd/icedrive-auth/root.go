// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the icedrive-auth CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "icedrive-auth",
		Short: "IceDrive authentication replica",
		Long: `icedrive-auth runs one replica of the IceDrive authentication service.
Replicas share accounts through a broadcast query topic and find each other
through a discovery topic.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/icedrive/auth.yaml if present)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewCertsCmd())
	for _, c := range NewClientCmds() {
		cmd.AddCommand(c)
	}

	return cmd
}
