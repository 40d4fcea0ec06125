package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"moneymarket/crypto"
)

const keyPassphraseEnv = "MM_KEY_PASSPHRASE"

// passphraseTerminal is prompted when neither the flag nor the environment
// supplies a passphrase.
var passphraseTerminal = os.Stdin

type keyInfo struct {
	Address string `json:"address"`
	Keyfile string `json:"keyfile"`
}

func keyPassphrase(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if env := os.Getenv(keyPassphraseEnv); env != "" {
		return env, nil
	}
	fd := int(passphraseTerminal.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("passphrase required: pass --passphrase, set " + keyPassphraseEnv + " or run interactively")
	}
	fmt.Fprint(os.Stderr, "Keyfile passphrase: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	pass := string(raw)
	if strings.TrimSpace(pass) == "" {
		return "", errors.New("passphrase cannot be empty")
	}
	return pass, nil
}

func keygenCommand() *cobra.Command {
	var (
		passphrase string
		light      bool
	)
	c := &cobra.Command{
		Use:   "keygen <keyfile>",
		Short: "Create an encrypted account key and print its address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := keyPassphrase(passphrase)
			if err != nil {
				return err
			}
			key, err := crypto.GeneratePrivateKey()
			if err != nil {
				return err
			}
			if err := crypto.SaveKeyfile(args[0], key, pass, light); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), keyInfo{Address: key.PubKey().Address().String(), Keyfile: args[0]})
		},
	}
	c.Flags().StringVar(&passphrase, "passphrase", "", "Keyfile passphrase (defaults to "+keyPassphraseEnv+", then a terminal prompt)")
	c.Flags().BoolVar(&light, "light", false, "Use fast scrypt parameters (development only)")
	return c
}

// keyfileAddress decrypts path and returns the account address it controls.
func keyfileAddress(path, passphrase string) (crypto.Address, error) {
	pass, err := keyPassphrase(passphrase)
	if err != nil {
		return crypto.Address{}, err
	}
	key, err := crypto.LoadKeyfile(path, pass)
	if err != nil {
		return crypto.Address{}, err
	}
	return key.PubKey().Address(), nil
}
