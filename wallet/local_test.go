package wallet_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"nounsgov/chain/chaintest"
	"nounsgov/gov"
	"nounsgov/wallet"
)

func TestConnectorKindRelayed(t *testing.T) {
	require.True(t, wallet.ConnectorWalletConnect.Relayed())
	require.True(t, wallet.ConnectorKind("Safe").Relayed())
	require.False(t, wallet.ConnectorInjected.Relayed())
	require.False(t, wallet.ConnectorLocal.Relayed())
}

func TestLocalSessionSendsDynamicFeeTx(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	fake := chaintest.New()
	session, err := wallet.NewLocalSession(key, fake)
	require.NoError(t, err)
	from, ok := session.Address()
	require.True(t, ok)

	to := common.HexToAddress("0x6f3E6272A167e8AcCb32072d08E0957F9c79223d")
	hash, err := session.SendTransaction(context.Background(), wallet.SendRequest{
		From: from, To: to, Data: []byte{0xde, 0xad}, Value: big.NewInt(7), Gas: 135_000, ChainID: big.NewInt(1),
	})
	require.NoError(t, err)
	require.Equal(t, 1, fake.SentCount())

	tx := fake.Sent[0]
	require.Equal(t, hash, tx.Hash())
	require.Equal(t, uint8(gethtypes.DynamicFeeTxType), tx.Type())
	require.Equal(t, uint64(135_000), tx.Gas())
	require.Equal(t, to, *tx.To())
	sender, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(big.NewInt(1)), tx)
	require.NoError(t, err)
	require.Equal(t, from, sender)

	_, err = session.SendTransaction(context.Background(), wallet.SendRequest{From: from, To: to, Gas: 21_000, ChainID: big.NewInt(1)})
	require.NoError(t, err)
	require.Equal(t, uint64(1), fake.Sent[1].Nonce())
}

func TestLocalSessionApproverRejects(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	fake := chaintest.New()
	session, err := wallet.NewLocalSession(key, fake, wallet.WithApprover(func(context.Context, wallet.Prompt) error {
		return errors.New("declined at prompt")
	}))
	require.NoError(t, err)

	_, err = session.SendTransaction(context.Background(), wallet.SendRequest{To: common.HexToAddress("0x01"), Gas: 21_000, ChainID: big.NewInt(1)})
	require.ErrorIs(t, err, wallet.ErrUserRejected)
	require.Zero(t, fake.SentCount())
}

func TestLocalSessionSignTypedDataRecovers(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	session, err := wallet.NewLocalSession(key, chaintest.New())
	require.NoError(t, err)

	td := gov.TypedData(gov.Domain{ChainID: big.NewInt(1), VerifyingContract: common.HexToAddress("0x6f3E6272A167e8AcCb32072d08E0957F9c79223d")}, gov.SponsorPayload{
		Proposer:    common.HexToAddress("0xaa"),
		Actions:     gov.TopicActions(),
		Description: "# t\n\nb",
		Expiry:      big.NewInt(2_000_000_000),
	})
	sig, err := session.SignTypedData(context.Background(), td)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	require.Contains(t, []byte{27, 28}, sig[64])

	digest, err := gov.Digest(td)
	require.NoError(t, err)
	signer, err := gov.RecoverSigner(digest, sig)
	require.NoError(t, err)
	addr, _ := session.Address()
	require.Equal(t, addr, signer)
}

func TestLocalSessionSwitchChain(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	session, err := wallet.NewLocalSession(key, chaintest.New())
	require.NoError(t, err)
	require.True(t, session.SwitchChain(context.Background(), big.NewInt(1)))
	require.False(t, session.SwitchChain(context.Background(), big.NewInt(11155111)))
}
