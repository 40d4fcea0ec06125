package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"moneymarket/crypto"
	"moneymarket/rpc"
)

const jwtSecretEnv = "MM_JWT_SECRET"

func tokenCommand() *cobra.Command {
	var (
		secret     string
		ttl        time.Duration
		keyfile    string
		passphrase string
	)
	c := &cobra.Command{
		Use:   "token [address]",
		Short: "Mint a bearer token for a caller address or keyfile",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(secret) == "" {
				secret = os.Getenv(jwtSecretEnv)
			}
			if strings.TrimSpace(secret) == "" {
				return errors.New("secret required: pass --secret or set " + jwtSecretEnv)
			}
			var (
				addr crypto.Address
				err  error
			)
			switch {
			case len(args) == 1 && keyfile == "":
				addr, err = crypto.DecodeAddress(args[0])
			case len(args) == 0 && keyfile != "":
				addr, err = keyfileAddress(keyfile, passphrase)
			default:
				err = errors.New("pass exactly one of an address or --keyfile")
			}
			if err != nil {
				return err
			}
			tok, err := rpc.IssueToken(secret, addr, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	c.Flags().StringVar(&secret, "secret", "", "Shared HS256 secret (defaults to "+jwtSecretEnv+")")
	c.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	c.Flags().StringVar(&keyfile, "keyfile", "", "Take the subject from an encrypted keyfile")
	c.Flags().StringVar(&passphrase, "passphrase", "", "Keyfile passphrase (defaults to "+keyPassphraseEnv+")")
	return c
}
