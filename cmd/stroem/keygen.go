package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strawpay/stroem-consumerj/keys"
)

func keygenCmd() *cobra.Command {
	passphrase := ""
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a transaction key, and a user key if a passphrase is given",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := keys.Generate()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "address: %s\n", kp.Address())
			fmt.Fprintf(out, "seed: %s\n", kp.Seed())
			if passphrase == "" {
				return nil
			}
			salt, err := keys.NewSalt()
			if err != nil {
				return err
			}
			userKey, err := keys.DeriveUserKey(passphrase, salt)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "salt: %s\n", hex.EncodeToString(salt))
			fmt.Fprintf(out, "user key: %s\n", hex.EncodeToString(userKey))
			return nil
		},
	}
	cmd.Flags().StringVarP(&passphrase, "passphrase", "p", "", "Passphrase to derive a user key from")
	return cmd
}
