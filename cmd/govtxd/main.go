package main

import (
	"nounsgov/cmd/internal/passphrase"
	"nounsgov/services/govtxd"
)

func main() {
	govtxd.ExitOnError(govtxd.Main(func(cfg govtxd.WalletConfig) func() (string, error) {
		return passphrase.NewSource(cfg.PassphraseEnv, passphrase.WithFile(cfg.PassphraseFile)).Get
	}))
}
