package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"nounsgov/cmd/internal/passphrase"
	"nounsgov/crypto"
)

func newKeyCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the signing keystore",
	}
	cmd.AddCommand(newKeyNewCmd(c), newKeyAddressCmd(c))
	return cmd
}

func newKeyNewCmd(c *cli) *cobra.Command {
	var force bool
	var fromHex string
	cmd := &cobra.Command{
		Use:   "new <keystore-path>",
		Short: "Generate or import a key into an encrypted keystore",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; pass --force to overwrite", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			var (
				key *crypto.PrivateKey
				err error
			)
			if fromHex != "" {
				key, err = crypto.PrivateKeyFromHex(fromHex)
			} else {
				key, err = crypto.GeneratePrivateKey()
			}
			if err != nil {
				return err
			}
			pass, err := passphrase.NewSource(c.passEnv, passphrase.WithFile(c.passFile), passphrase.WithLabel(path)).Get()
			if err != nil {
				return err
			}
			if err := crypto.SaveToKeystore(path, key, pass); err != nil {
				return err
			}
			fmt.Fprintln(c.stdout, key.Address().Hex())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing keystore")
	cmd.Flags().StringVar(&fromHex, "import", "", "hex private key to import instead of generating one")
	return cmd
}

func newKeyAddressCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "address <keystore-path>",
		Short: "Print the address of a keystore without unlocking it",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			addr, err := crypto.KeystoreAddress(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(c.stdout, addr)
			return nil
		},
	}
}
