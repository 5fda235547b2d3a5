package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "networks.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestPresetsIncludeMainnet(t *testing.T) {
	nets, err := Presets()
	require.NoError(t, err)
	require.Equal(t, []string{"local", "mainnet"}, nets.Names())

	mainnet, err := nets.Lookup("")
	require.NoError(t, err)
	require.Equal(t, "mainnet", mainnet.Name)
	require.Equal(t, uint64(1), mainnet.ChainID)

	dep, err := mainnet.Deployment()
	require.NoError(t, err)
	require.Equal(t, int64(1), dep.ChainID.Int64())
	require.Equal(t, common.HexToAddress("0x6f3E6272A167e8AcCb32072d08E0957F9c79223d"), dep.DAO)
	require.Equal(t, common.Address{}, dep.Pool)
}

func TestLoadOverridesFields(t *testing.T) {
	path := writeFile(t, `
[mainnet]
RPCURL = "https://rpc.example.org"
Pool = "0x0000000000000000000000000000000000000b0b"

[Holesky]
ChainID = 17000
RPCURL = "https://holesky.example.org"
DAO = "0x00000000000000000000000000000000000000d1"
`)
	nets, err := Load(path)
	require.NoError(t, err)

	mainnet, err := nets.Lookup("MAINNET")
	require.NoError(t, err)
	require.Equal(t, "https://rpc.example.org", mainnet.RPCURL)
	require.Equal(t, "0x0000000000000000000000000000000000000b0b", mainnet.Pool)
	require.Equal(t, "0x6f3E6272A167e8AcCb32072d08E0957F9c79223d", mainnet.DAO)

	holesky, err := nets.Lookup("holesky")
	require.NoError(t, err)
	require.Equal(t, uint64(17000), holesky.ChainID)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, `
[mainnet]
Treasury = "0x01"
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "unknown keys")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.ErrorContains(t, err, "not found")

	nets, err := Load("")
	require.NoError(t, err)
	require.Contains(t, nets, "local")
}

func TestLookupUnknownNetwork(t *testing.T) {
	nets, err := Presets()
	require.NoError(t, err)
	_, err = nets.Lookup("goerli")
	require.ErrorContains(t, err, "unknown network")
}

func TestValidate(t *testing.T) {
	base := Network{Name: "t", ChainID: 1, RPCURL: "https://rpc.example.org"}
	require.NoError(t, base.Validate())

	cases := map[string]func(n *Network){
		"chain id":   func(n *Network) { n.ChainID = 0 },
		"rpc":        func(n *Network) { n.RPCURL = "" },
		"rpc scheme": func(n *Network) { n.RPCURL = "ftp://rpc.example.org" },
		"subgraph":   func(n *Network) { n.SubgraphURL = "https://" },
		"address":    func(n *Network) { n.DAO = "nouns.eth" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			n := base
			mutate(&n)
			require.Error(t, n.Validate())
		})
	}
}
