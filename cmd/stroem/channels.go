package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/strawpay/stroem-consumerj/channelstore"
	"github.com/strawpay/stroem-consumerj/issuer"
)

func channelsCmd(cfg *config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Manage stored payment channels",
	}
	cmd.AddCommand(
		channelsListCmd(cfg),
		channelsShowCmd(cfg),
		channelsAddCmd(cfg),
		channelsPreferCmd(cfg),
		channelsRemoveCmd(cfg),
	)
	return cmd
}

// parseServerID accepts either the hex server id or the string it was
// derived from.
func parseServerID(s string) issuer.ServerID {
	id := issuer.ServerID{}
	if id.UnmarshalText([]byte(s)) == nil {
		return id
	}
	return issuer.ServerIDFromString(s)
}

// withStore runs f with the channel store open.
func withStore(cfg *config, f func(s *channelstore.Store) error) error {
	s, err := cfg.openStore()
	if err != nil {
		return err
	}
	defer s.Close()
	return f(s)
}

func channelsListCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cfg, func(s *channelstore.Store) error {
				channels, err := s.All()
				if err != nil {
					return err
				}
				preferred, _ := s.Preferred()
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "\tSERVER ID\tISSUER\tURI\tMAX VALUE")
				for _, c := range channels {
					mark := ""
					if c.ServerID == preferred.ServerID {
						mark = "*"
					}
					fmt.Fprintf(w, "%s\t%v\t%s\t%s\t%d\n", mark, c.ServerID, c.IssuerName, c.IssuerURI, c.MaxValue)
				}
				return w.Flush()
			})
		},
	}
}

func printChannel(w io.Writer, c channelstore.Channel) {
	fmt.Fprintf(w, "server id: %v\n", c.ServerID)
	fmt.Fprintf(w, "issuer: %s\n", c.IssuerName)
	fmt.Fprintf(w, "uri: %s\n", c.IssuerURI)
	fmt.Fprintf(w, "public key: %x\n", c.IssuerPublicKey)
	fmt.Fprintf(w, "max value: %d\n", c.MaxValue)
	fmt.Fprintf(w, "timeout: %v\n", c.Timeout)
	if c.MinerFee != nil {
		fmt.Fprintf(w, "miner fee: %d\n", *c.MinerFee)
	}
	if c.FiatCurrency != "" {
		fmt.Fprintf(w, "fiat value: %d %s\n", c.FiatValue, c.FiatCurrency)
	}
	if c.Note != "" {
		fmt.Fprintf(w, "note: %s\n", c.Note)
	}
	if !c.OpenedAt.IsZero() {
		fmt.Fprintf(w, "opened: %s\n", c.OpenedAt.Format(time.RFC3339))
	}
}

func channelsShowCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "show [server-id]",
		Short: "Show a channel, or the preferred channel",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cfg, func(s *channelstore.Store) error {
				var c channelstore.Channel
				var err error
				if len(args) == 0 {
					c, err = s.Preferred()
				} else {
					c, err = s.Get(parseServerID(args[0]))
				}
				if err != nil {
					return err
				}
				printChannel(cmd.OutOrStdout(), c)
				return nil
			})
		},
	}
}

func channelsAddCmd(cfg *config) *cobra.Command {
	c := channelstore.Channel{}
	minerFee := int64(-1)
	cmd := &cobra.Command{
		Use:   "add <host[:port]>",
		Short: "Probe an issuer and store a channel configuration for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := issuer.HostPort(args[0])
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
			defer cancel()
			v, err := issuer.Probe(ctx, addr, cfg.issuerConfig())
			if err != nil {
				return fmt.Errorf("probing %s: %w", addr, err)
			}
			c.ServerID = issuer.ServerIDFromString(args[0])
			c.IssuerURI = addr
			c.IssuerName = v.Entity.Name
			c.IssuerPublicKey = v.Entity.PublicKey
			if minerFee >= 0 {
				c.MinerFee = &minerFee
			}
			return withStore(cfg, func(s *channelstore.Store) error {
				err := s.Put(c)
				if err != nil {
					return err
				}
				printChannel(cmd.OutOrStdout(), c)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.Int64Var(&c.MaxValue, "max-value", 100_000, "Maximum value of the channel")
	f.DurationVar(&c.Timeout, "channel-timeout", 24*time.Hour, "Channel timeout")
	f.Int64Var(&minerFee, "miner-fee", minerFee, "Miner fee, negative for the engine default")
	f.Int64Var(&c.FiatValue, "fiat-value", 0, "Fiat value of the channel")
	f.StringVar(&c.FiatCurrency, "fiat-currency", "", "Fiat currency code")
	f.StringVar(&c.Note, "note", "", "Free text note")
	return cmd
}

func channelsPreferCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "prefer <server-id>",
		Short: "Make a channel the preferred one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cfg, func(s *channelstore.Store) error {
				return s.SetPreferred(parseServerID(args[0]))
			})
		},
	}
}

func channelsRemoveCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <server-id>",
		Short: "Forget a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cfg, func(s *channelstore.Store) error {
				return s.Delete(parseServerID(args[0]))
			})
		},
	}
}
