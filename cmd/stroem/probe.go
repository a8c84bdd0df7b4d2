package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strawpay/stroem-consumerj/issuer"
	"github.com/strawpay/stroem-consumerj/issuer/msg"
	"github.com/strawpay/stroem-consumerj/note"
)

func probeCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <host[:port]>",
		Short: "Ask an issuer for its version and identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := issuer.HostPort(args[0])
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
			defer cancel()
			v, err := issuer.Probe(ctx, addr, cfg.issuerConfig())
			if err != nil {
				return fmt.Errorf("probing %s: %w", addr, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "issuer: %s\n", addr)
			fmt.Fprintf(cmd.OutOrStdout(), "version: %d\n", v.Version)
			printEntity(cmd, v.Entity)
			return nil
		},
	}
}

func printEntity(cmd *cobra.Command, e msg.Entity) {
	fmt.Fprintf(cmd.OutOrStdout(), "name: %s\n", e.Name)
	address, err := note.Address(e.PublicKey)
	if err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "public key: %x (%v)\n", e.PublicKey, err)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "public key: %s\n", address.Address())
}
