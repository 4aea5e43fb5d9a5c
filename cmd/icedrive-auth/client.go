// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package main

import (
	"bufio"
	"context"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/icedrive/authd/internal/discovery"
	rpc "github.com/icedrive/authd/internal/grpc"
	"github.com/icedrive/authd/internal/ref"
	"github.com/icedrive/authd/internal/tls"
)

const defaultClientTimeout = 10 * time.Second

// clientFlags holds the connection flags shared by the client commands.
type clientFlags struct {
	addr     string
	timeout  time.Duration
	useTLS   bool
	certsDir string
	nodeName string
}

func (f *clientFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.addr, "addr", defaultListenAddr, "replica address")
	fs.DurationVar(&f.timeout, "timeout", defaultClientTimeout, "request timeout")
	fs.BoolVar(&f.useTLS, "tls", false, "use mutual TLS")
	fs.StringVar(&f.certsDir, "certs-dir", "", "certificates directory (default: XDG_CONFIG_HOME/icedrive/certs)")
	fs.StringVar(&f.nodeName, "node-name", defaultNodeName, "certificate name to present")
}

// run dials with the configured flags and calls fn under the request timeout.
func (f *clientFlags) run(cmd *cobra.Command, fn func(ctx context.Context, c *rpc.Client) error) error {
	cfg := rpc.ClientConfig{}
	if f.useTLS {
		dir := f.certsDir
		if dir == "" {
			d, err := defaultCertsDir()
			if err != nil {
				return err
			}
			dir = d
		}
		tlsCfg, err := tls.ClientConfig(dir, f.nodeName)
		if err != nil {
			return err
		}
		cfg.TLSConfig = tlsCfg
	}

	c := rpc.NewClient(cfg)
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
	defer cancel()
	return fn(ctx, c)
}

// NewClientCmds creates the commands that call a running replica.
func NewClientCmds() []*cobra.Command {
	return []*cobra.Command{
		newCredentialsCmd("login", "Log in and print a session reference", func(ctx context.Context, c *rpc.Client, f *clientFlags, cmd *cobra.Command, user, pass string) error {
			s, err := c.Login(ctx, f.addr, user, pass)
			if err != nil {
				return err
			}
			cmd.Println(s.String())
			return nil
		}),
		newCredentialsCmd("new-user", "Create an account and print its first session", func(ctx context.Context, c *rpc.Client, f *clientFlags, cmd *cobra.Command, user, pass string) error {
			s, err := c.NewUser(ctx, f.addr, user, pass)
			if err != nil {
				return err
			}
			cmd.Println(s.String())
			return nil
		}),
		newCredentialsCmd("remove-user", "Delete an account", func(ctx context.Context, c *rpc.Client, f *clientFlags, cmd *cobra.Command, user, pass string) error {
			if err := c.RemoveUser(ctx, f.addr, user, pass); err != nil {
				return err
			}
			cmd.Printf("Removed %s\n", user)
			return nil
		}),
		newVerifyCmd(),
		newSessionCmd(),
		newPeerCmd(),
	}
}

type credentialsFunc func(ctx context.Context, c *rpc.Client, f *clientFlags, cmd *cobra.Command, user, pass string) error

func newCredentialsCmd(use, short string, fn credentialsFunc) *cobra.Command {
	var (
		f        clientFlags
		password string
	)
	cmd := &cobra.Command{
		Use:   use + " USERNAME",
		Short: short,
		Long:  short + ". Without --password, the password is read from the first line of stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pass := password
			if !cmd.Flags().Changed("password") {
				p, err := readPassword(cmd)
				if err != nil {
					return err
				}
				pass = p
			}
			return f.run(cmd, func(ctx context.Context, c *rpc.Client) error {
				return fn(ctx, c, &f, cmd, args[0], pass)
			})
		},
	}
	f.register(cmd.Flags())
	cmd.Flags().StringVar(&password, "password", "", "account password")
	return cmd
}

func readPassword(cmd *cobra.Command) (string, error) {
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if line == "" && err != nil {
		return "", oops.Code("PASSWORD_REQUIRED").Wrapf(err, "read password from stdin")
	}
	return line, nil
}

func newVerifyCmd() *cobra.Command {
	var f clientFlags
	cmd := &cobra.Command{
		Use:   "verify SESSION",
		Short: "Ask a replica whether a session belongs to a registered account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := ref.Parse(args[0])
			if err != nil {
				return err
			}
			return f.run(cmd, func(ctx context.Context, c *rpc.Client) error {
				ok, err := c.VerifyUser(ctx, f.addr, session)
				if err != nil {
					return err
				}
				cmd.Println(ok)
				return nil
			})
		},
	}
	f.register(cmd.Flags())
	return cmd
}

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Call a session on the replica that hosts it",
	}

	sub := func(use, short string, fn func(ctx context.Context, c *rpc.Client, cmd *cobra.Command, s ref.Ref) error) *cobra.Command {
		var f clientFlags
		c := &cobra.Command{
			Use:   use + " SESSION",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				session, err := ref.Parse(args[0])
				if err != nil {
					return err
				}
				return f.run(cmd, func(ctx context.Context, c *rpc.Client) error {
					return fn(ctx, c, cmd, session)
				})
			},
		}
		f.register(c.Flags())
		return c
	}

	cmd.AddCommand(
		sub("alive", "Report whether the session is still alive", func(ctx context.Context, c *rpc.Client, cmd *cobra.Command, s ref.Ref) error {
			alive, err := c.SessionAlive(ctx, s)
			if err != nil {
				return err
			}
			cmd.Println(alive)
			return nil
		}),
		sub("username", "Print the session's account name", func(ctx context.Context, c *rpc.Client, cmd *cobra.Command, s ref.Ref) error {
			name, err := c.SessionUsername(ctx, s)
			if err != nil {
				return err
			}
			cmd.Println(name)
			return nil
		}),
		sub("refresh", "Extend the session's lifetime", func(ctx context.Context, c *rpc.Client, cmd *cobra.Command, s ref.Ref) error {
			if err := c.SessionRefresh(ctx, s); err != nil {
				return err
			}
			cmd.Println("refreshed")
			return nil
		}),
	)
	return cmd
}

func newPeerCmd() *cobra.Command {
	var f clientFlags
	cmd := &cobra.Command{
		Use:   "peer KIND",
		Short: "Ask a replica for a live service of KIND (authentication, directory, blob)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := discovery.Kind(args[0])
			if !kind.Valid() {
				return oops.Code("INVALID_KIND").With("kind", args[0]).Errorf("unknown service kind")
			}
			return f.run(cmd, func(ctx context.Context, c *rpc.Client) error {
				peer, found, err := c.SelectPeer(ctx, f.addr, kind)
				if err != nil {
					return err
				}
				if !found {
					cmd.Println("none")
					return nil
				}
				cmd.Println(peer.String())
				return nil
			})
		},
	}
	f.register(cmd.Flags())
	return cmd
}
