// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/icedrive/authd/internal/tls"
)

// NewCertsCmd creates the certs command.
func NewCertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certs",
		Short: "Manage replica mTLS certificates",
	}

	var (
		dir       string
		clusterID string
		nodeName  string
		hosts     []string
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the cluster CA and a node certificate if missing",
		Long: `Create the cluster CA in the certificates directory when none exists, then
issue a certificate for the named node. Existing files are left untouched.
Copy root-ca.crt and root-ca.key to every host that runs a replica.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				d, err := defaultCertsDir()
				if err != nil {
					return err
				}
				dir = d
			}
			if err := tls.EnsureNode(dir, clusterID, nodeName, hosts...); err != nil {
				return err
			}
			cmd.Printf("CA:   %s\n", filepath.Join(dir, "root-ca.crt"))
			cmd.Printf("Node: %s\n", filepath.Join(dir, nodeName+".crt"))
			return nil
		},
	}
	initCmd.Flags().StringVar(&dir, "certs-dir", "", "certificates directory (default: XDG_CONFIG_HOME/icedrive/certs)")
	initCmd.Flags().StringVar(&clusterID, "cluster-id", defaultClusterID, "cluster identifier embedded in a new CA")
	initCmd.Flags().StringVar(&nodeName, "node-name", defaultNodeName, "certificate name of the node")
	initCmd.Flags().StringSliceVar(&hosts, "host", nil, "extra DNS names or IPs for the node certificate")
	cmd.AddCommand(initCmd)

	return cmd
}
