package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/strawpay/stroem-consumerj/channelstore"
	"github.com/strawpay/stroem-consumerj/merchant"
)

func offerCmd(cfg *config) *cobra.Command {
	issuerName := ""
	cmd := &cobra.Command{
		Use:   "offer <bitcoin-uri>",
		Short: "Fetch a merchant's offer",
		Long:  "Fetch a merchant's offer. The issuer defaults to the one of the preferred channel.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if issuerName == "" {
				err := withStore(cfg, func(s *channelstore.Store) error {
					c, err := s.Preferred()
					if err != nil {
						return err
					}
					issuerName = c.IssuerName
					return nil
				})
				if errors.Is(err, channelstore.ErrNotFound) {
					return fmt.Errorf("--issuer required when no channel is preferred")
				}
				if err != nil {
					return err
				}
			}
			u, err := merchant.ParseURI(args[0], issuerName)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
			defer cancel()
			o := (&merchant.Client{}).FetchOffer(ctx, u)
			if !o.IsOK() {
				return fmt.Errorf("fetching offer: %v", o)
			}
			s := o.Value()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "merchant: %s\n", s.MerchantURL().Host)
			if domain, err := s.MerchantBaseDomain(); err == nil {
				fmt.Fprintf(out, "domain: %s\n", domain)
			}
			if !s.IsStroem() {
				fmt.Fprintln(out, "stroem: no")
				return nil
			}
			d := s.Details()
			fmt.Fprintf(out, "issuer: %s\n", d.Issuer.Name)
			fmt.Fprintf(out, "amount: %d %s\n", d.Amount, d.Currency)
			fmt.Fprintf(out, "text: %s\n", d.DisplayText)
			fmt.Fprintf(out, "payment url: %s\n", s.PaymentURL())
			if t, ok := s.Expires(); ok {
				fmt.Fprintf(out, "expires: %s\n", t.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&issuerName, "issuer", "", "Issuer to pay with")
	return cmd
}
