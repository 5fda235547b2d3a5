package crypto

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"
)

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "keys", "signer.json")

	require.NoError(t, SaveToKeystore(path, key, "correct horse"))

	addr, err := KeystoreAddress(path)
	require.NoError(t, err)
	require.True(t, strings.EqualFold(key.Address().Hex(), addr))

	loaded, err := LoadFromKeystore(path, "correct horse")
	require.NoError(t, err)
	require.Equal(t, key.Address(), loaded.Address())

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)
}

func TestSaveRejectsEmptyInputs(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	require.Error(t, SaveToKeystore("", key, ""))
	require.Error(t, SaveToKeystore(filepath.Join(t.TempDir(), "k.json"), nil, ""))
}

func TestPrivateKeyFromHex(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	parsed, err := PrivateKeyFromHex(hexutil.Encode(key.Bytes()))
	require.NoError(t, err)
	require.Equal(t, key.Address(), parsed.Address())

	_, err = PrivateKeyFromHex("  ")
	require.Error(t, err)
	_, err = PrivateKeyFromHex("zz")
	require.Error(t, err)
}
