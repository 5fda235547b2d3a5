package chain_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"nounsgov/chain"
	"nounsgov/chain/chaintest"
	"nounsgov/gov"
)

var (
	dao   = common.HexToAddress("0x6f3E6272A167e8AcCb32072d08E0957F9c79223d")
	token = common.HexToAddress("0x9C8fF314C9Bc7F6e59A9d9225Fb22946427eDC03")
	voter = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

func TestAggregate3AllowsPartialFailure(t *testing.T) {
	fake := chaintest.New()
	fake.Return(dao, gov.DAOABI, "proposalThreshold", big.NewInt(2))
	fake.Revert(token, gov.TokenABI, "getCurrentVotes")

	mc := chain.NewMulticaller(fake)
	threshold, err := chain.NewCall(gov.DAOABI, dao, "proposalThreshold")
	require.NoError(t, err)
	votes, err := chain.NewCall(gov.TokenABI, token, "getCurrentVotes", voter)
	require.NoError(t, err)

	results, err := mc.Aggregate3(context.Background(), []chain.Call{threshold, votes, mc.BlockNumberCall()})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, 1, fake.Calls, "batch must be a single eth_call")

	got, err := gov.DecodeBig(gov.DAOABI, "proposalThreshold", results[0].ReturnData)
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Int64())

	require.ErrorIs(t, results[1].Err(), chain.ErrCallFailed)

	block, err := chain.DecodeBlockNumber(results[2])
	require.NoError(t, err)
	require.Equal(t, uint64(1000), block.Uint64())
}

func TestAggregate3EmptyBatch(t *testing.T) {
	results, err := chain.NewMulticaller(chaintest.New()).Aggregate3(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, results)
}

func TestWaitForReceiptTimesOut(t *testing.T) {
	fake := chaintest.New()
	_, err := chain.WaitForReceipt(context.Background(), fake, common.HexToHash("0x01"), 30*time.Millisecond, 5*time.Millisecond)
	require.ErrorIs(t, err, chain.ErrReceiptTimeout)
}

func TestWaitForReceiptReportsRevert(t *testing.T) {
	fake := chaintest.New()
	hash := common.HexToHash("0x02")
	fake.SetReceipt(hash, gethtypes.ReceiptStatusFailed)
	receipt, err := chain.WaitForReceipt(context.Background(), fake, hash, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, err, chain.ErrReverted)
	require.NotNil(t, receipt)
}

func TestWaitForReceiptHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := chain.WaitForReceipt(ctx, chaintest.New(), common.HexToHash("0x03"), time.Second, 5*time.Millisecond)
	require.ErrorIs(t, err, context.Canceled)
}
