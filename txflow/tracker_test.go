package txflow_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/require"

	"nounsgov/chain"
	"nounsgov/chain/chaintest"
	"nounsgov/txflow"
	"nounsgov/wallet"
)

var (
	voter   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	daoAddr = common.HexToAddress("0x6f3E6272A167e8AcCb32072d08E0957F9c79223d")
)

type stubWallet struct {
	mu sync.Mutex

	fake          *chaintest.Fake
	kind          wallet.ConnectorKind
	disconnected  bool
	declineSwitch bool
	sendErr       error
	hold          bool
	revert        bool

	sends    []wallet.SendRequest
	switches int
}

func (w *stubWallet) Address() (common.Address, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return voter, !w.disconnected
}

func (w *stubWallet) ConnectorKind() wallet.ConnectorKind {
	if w.kind == "" {
		return wallet.ConnectorInjected
	}
	return w.kind
}

func (w *stubWallet) SwitchChain(context.Context, *big.Int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.switches++
	return !w.declineSwitch
}

func (w *stubWallet) SignTypedData(context.Context, apitypes.TypedData) ([]byte, error) {
	return nil, wallet.ErrUserRejected
}

func (w *stubWallet) SendTransaction(_ context.Context, req wallet.SendRequest) (common.Hash, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sends = append(w.sends, req)
	if w.sendErr != nil {
		return common.Hash{}, w.sendErr
	}
	hash := common.BigToHash(big.NewInt(int64(len(w.sends))))
	if !w.hold {
		status := gethtypes.ReceiptStatusSuccessful
		if w.revert {
			status = gethtypes.ReceiptStatusFailed
		}
		w.fake.SetReceipt(hash, status)
	}
	return hash, nil
}

func (w *stubWallet) sent() []wallet.SendRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]wallet.SendRequest(nil), w.sends...)
}

type outcome struct {
	hash  common.Hash
	state txflow.State
	cause error
}

type memHistory struct {
	mu         sync.Mutex
	broadcasts []txflow.Broadcast
	outcomes   []outcome
}

func (h *memHistory) RecordBroadcast(_ context.Context, b txflow.Broadcast) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcasts = append(h.broadcasts, b)
	return nil
}

func (h *memHistory) RecordOutcome(_ context.Context, hash common.Hash, state txflow.State, _ *gethtypes.Receipt, cause error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outcomes = append(h.outcomes, outcome{hash: hash, state: state, cause: cause})
	return nil
}

func (h *memHistory) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.broadcasts), len(h.outcomes)
}

type harness struct {
	fake    *chaintest.Fake
	wallet  *stubWallet
	history *memHistory
	svc     *txflow.Service
}

func newHarness(t *testing.T, opts ...txflow.Option) *harness {
	t.Helper()
	fake := chaintest.New()
	fake.SetBalance(voter, big.NewInt(1e18))
	h := &harness{fake: fake, wallet: &stubWallet{fake: fake}, history: &memHistory{}}
	base := []txflow.Option{
		txflow.WithHistory(h.history),
		txflow.WithPollInterval(5 * time.Millisecond),
		txflow.WithReceiptTimeout(2 * time.Second),
	}
	h.svc = txflow.New(fake, h.wallet, append(base, opts...)...)
	return h
}

func voteRequest() txflow.Request {
	return txflow.NewRequest(daoAddr, []byte{0x01, 0x02, 0x03, 0x04}, nil, 250_000)
}

func voteLogging() txflow.Logging {
	return txflow.Logging{Type: txflow.TxCastVote, Description: "Vote FOR on proposal 42"}
}

func settle(t *testing.T, tr *txflow.Tracker) txflow.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	snap, err := tr.Wait(ctx)
	require.NoError(t, err)
	return snap
}

func TestSubmitSuccess(t *testing.T) {
	h := newHarness(t)
	tr := h.svc.NewTracker(txflow.TxCastVote)

	require.NoError(t, tr.Submit(context.Background(), voteRequest(), voteLogging(), nil))
	snap := settle(t, tr)
	require.Equal(t, txflow.StateSuccess, snap.State)
	require.NoError(t, snap.Err)
	require.NotNil(t, snap.Receipt)
	require.Equal(t, gethtypes.ReceiptStatusSuccessful, snap.Receipt.Status)

	sends := h.wallet.sent()
	require.Len(t, sends, 1)
	require.Equal(t, daoAddr, sends[0].To)
	require.Equal(t, voter, sends[0].From)
	require.Equal(t, big.NewInt(1), sends[0].ChainID)

	require.Eventually(t, func() bool {
		b, o := h.history.counts()
		return b == 1 && o == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, txflow.TxCastVote, h.history.broadcasts[0].Logging.Type)
	require.Equal(t, "Vote FOR on proposal 42", h.history.broadcasts[0].Logging.Description)
	require.Equal(t, snap.Hash, h.history.broadcasts[0].Hash)
}

func TestValidationRunsBeforeWalletPrompt(t *testing.T) {
	h := newHarness(t)
	tr := h.svc.NewTracker(txflow.TxCastVote)

	err := tr.Submit(context.Background(), voteRequest(), voteLogging(), func(context.Context) *txflow.ValidationError {
		return txflow.NewValidationError(txflow.KindVotingEnded)
	})
	require.True(t, txflow.IsKind(err, txflow.KindVotingEnded))
	require.Empty(t, h.wallet.sent())
	require.Empty(t, h.fake.Estimates)

	snap := tr.Snapshot()
	require.Equal(t, txflow.StateIdle, snap.State)
	require.Equal(t, "Voting has ended for this proposal.", snap.Err.Error())
	b, _ := h.history.counts()
	require.Zero(t, b)
}

func TestGasMarginIsFloored(t *testing.T) {
	h := newHarness(t)
	h.fake.Gas = 100_001
	tr := h.svc.NewTracker(txflow.TxCastVote)

	require.NoError(t, tr.Submit(context.Background(), voteRequest(), voteLogging(), nil))
	settle(t, tr)
	require.Equal(t, uint64(135_001), h.wallet.sent()[0].Gas)
}

func TestGasFallbackOnEstimateFailure(t *testing.T) {
	h := newHarness(t)
	h.fake.GasErr = errors.New("execution reverted")
	tr := h.svc.NewTracker(txflow.TxCastVote)

	require.NoError(t, tr.Submit(context.Background(), voteRequest(), voteLogging(), nil))
	settle(t, tr)
	require.Equal(t, uint64(250_000), h.wallet.sent()[0].Gas)
}

func TestBalanceGate(t *testing.T) {
	price := big.NewInt(1_000_000_000)
	gas := uint64(135_000)
	value := big.NewInt(5)
	exact := new(big.Int).Add(new(big.Int).Mul(new(big.Int).SetUint64(gas), price), value)

	cases := []struct {
		name     string
		balance  *big.Int
		contract bool
		kind     wallet.ConnectorKind
		wantSend bool
	}{
		{name: "exact balance", balance: exact, wantSend: true},
		{name: "one wei short", balance: new(big.Int).Sub(exact, big.NewInt(1))},
		{name: "contract wallet skips gate", balance: big.NewInt(1), contract: true, wantSend: true},
		{name: "safe connector skips gate", balance: big.NewInt(1), kind: wallet.ConnectorSafe, wantSend: true},
		{name: "walletconnect skips gate", balance: big.NewInt(1), kind: wallet.ConnectorWalletConnect, wantSend: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.fake.Gas = 100_000
			h.fake.GasPrice = price
			h.fake.SetBalance(voter, tc.balance)
			if tc.contract {
				h.fake.SetCode(voter, []byte{0x60, 0x80})
			}
			h.wallet.kind = tc.kind
			tr := h.svc.NewTracker(txflow.TxBuyVRGDA)

			req := txflow.NewRequest(daoAddr, []byte{0xaa}, value, 300_000)
			err := tr.Submit(context.Background(), req, txflow.Logging{Type: txflow.TxBuyVRGDA}, nil)
			if tc.wantSend {
				require.NoError(t, err)
				require.Len(t, h.wallet.sent(), 1)
				settle(t, tr)
				return
			}
			require.True(t, txflow.IsKind(err, txflow.KindInsufficientFunds))
			require.Empty(t, h.wallet.sent())
			require.True(t, txflow.IsKind(tr.Err(), txflow.KindInsufficientFunds))
		})
	}
}

func TestConnectRequired(t *testing.T) {
	var prompted int
	h := newHarness(t, txflow.WithConnectHandler(func(context.Context) { prompted++ }))
	h.wallet.disconnected = true
	validated := false
	tr := h.svc.NewTracker(txflow.TxPropose)

	err := tr.Submit(context.Background(), voteRequest(), voteLogging(), func(context.Context) *txflow.ValidationError {
		validated = true
		return nil
	})
	require.ErrorIs(t, err, txflow.ErrConnectRequired)
	require.Equal(t, 1, prompted)
	require.False(t, validated)
	require.Zero(t, h.wallet.switches)
	require.NoError(t, tr.Err())
	require.Equal(t, txflow.StateIdle, tr.Snapshot().State)
}

func TestChainSwitchDeclined(t *testing.T) {
	h := newHarness(t)
	h.wallet.declineSwitch = true
	validated := false
	tr := h.svc.NewTracker(txflow.TxPropose)

	err := tr.Submit(context.Background(), voteRequest(), voteLogging(), func(context.Context) *txflow.ValidationError {
		validated = true
		return nil
	})
	require.ErrorIs(t, err, txflow.ErrChainSwitchDeclined)
	require.False(t, validated)
	require.Empty(t, h.wallet.sent())
	require.NoError(t, tr.Err())
}

func TestUserRejectionReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	h.wallet.sendErr = wallet.ErrUserRejected
	tr := h.svc.NewTracker(txflow.TxCastVote)

	err := tr.Submit(context.Background(), voteRequest(), voteLogging(), nil)
	var se *txflow.SendError
	require.ErrorAs(t, err, &se)
	require.Equal(t, txflow.SendUserRejected, se.Kind)

	snap := tr.Snapshot()
	require.Equal(t, txflow.StateIdle, snap.State)
	require.ErrorAs(t, snap.Err, &se)
	b, _ := h.history.counts()
	require.Zero(t, b)
}

func TestWalletFailureMarksFailed(t *testing.T) {
	h := newHarness(t)
	h.wallet.sendErr = errors.New("insufficient funds for gas * price + value")
	tr := h.svc.NewTracker(txflow.TxCastVote)

	err := tr.Submit(context.Background(), voteRequest(), voteLogging(), nil)
	var se *txflow.SendError
	require.ErrorAs(t, err, &se)
	require.Equal(t, txflow.SendInsufficientFunds, se.Kind)
	require.Equal(t, txflow.StateFailed, tr.Snapshot().State)
}

func TestRevertedReceiptFails(t *testing.T) {
	h := newHarness(t)
	h.wallet.revert = true
	tr := h.svc.NewTracker(txflow.TxExecuteProposal)

	require.NoError(t, tr.Submit(context.Background(), voteRequest(), voteLogging(), nil))
	snap := settle(t, tr)
	require.Equal(t, txflow.StateFailed, snap.State)
	require.ErrorIs(t, snap.Err, chain.ErrReverted)
	require.NotNil(t, snap.Receipt)

	require.Eventually(t, func() bool {
		_, o := h.history.counts()
		return o == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, txflow.StateFailed, h.history.outcomes[0].state)
}

func TestReceiptTimeout(t *testing.T) {
	h := newHarness(t, txflow.WithReceiptTimeout(40*time.Millisecond))
	h.wallet.hold = true
	tr := h.svc.NewTracker(txflow.TxCastVote)

	require.NoError(t, tr.Submit(context.Background(), voteRequest(), voteLogging(), nil))
	snap := settle(t, tr)
	require.Equal(t, txflow.StateFailed, snap.State)
	require.ErrorIs(t, snap.Err, chain.ErrReceiptTimeout)
}

func TestSubmitRejectedWhileInFlight(t *testing.T) {
	h := newHarness(t)
	h.wallet.hold = true
	tr := h.svc.NewTracker(txflow.TxCastVote)

	require.NoError(t, tr.Submit(context.Background(), voteRequest(), voteLogging(), nil))
	snap := tr.Snapshot()
	require.Equal(t, txflow.StatePendingTxn, snap.State)

	err := tr.Submit(context.Background(), voteRequest(), voteLogging(), nil)
	require.ErrorIs(t, err, txflow.ErrSubmissionInFlight)
	require.Len(t, h.wallet.sent(), 1)

	h.fake.SetReceipt(snap.Hash, gethtypes.ReceiptStatusSuccessful)
	require.Equal(t, txflow.StateSuccess, settle(t, tr).State)

	// a settled tracker accepts a fresh attempt
	h.wallet.mu.Lock()
	h.wallet.hold = false
	h.wallet.mu.Unlock()
	require.NoError(t, tr.Submit(context.Background(), voteRequest(), voteLogging(), nil))
	require.Equal(t, txflow.StateSuccess, settle(t, tr).State)
	b, _ := h.history.counts()
	require.Equal(t, 2, b)
}

func TestRecordIgnoredWhileInFlight(t *testing.T) {
	h := newHarness(t)
	h.wallet.hold = true
	tr := h.svc.NewTracker(txflow.TxCastVote)

	require.False(t, tr.Busy())
	require.NoError(t, tr.Submit(context.Background(), voteRequest(), voteLogging(), nil))
	require.True(t, tr.Busy())

	tr.Record(txflow.NewValidationError(txflow.KindProposalNotFound))
	snap := tr.Snapshot()
	require.Equal(t, txflow.StatePendingTxn, snap.State)
	require.NoError(t, snap.Err)

	h.fake.SetReceipt(snap.Hash, gethtypes.ReceiptStatusSuccessful)
	require.Equal(t, txflow.StateSuccess, settle(t, tr).State)
	require.False(t, tr.Busy())
}

func TestSignShowsPendingSignature(t *testing.T) {
	h := newHarness(t)
	tr := h.svc.NewTracker(txflow.TxSponsorCandidate)

	var during txflow.State
	sig, err := tr.Sign(context.Background(), func(context.Context) ([]byte, error) {
		during = tr.Snapshot().State
		require.True(t, tr.Busy())
		return []byte{0xaa}, nil
	})
	require.NoError(t, err)
	require.Equal(t, []byte{0xaa}, sig)
	require.Equal(t, txflow.StatePendingSignature, during)
	require.Equal(t, txflow.StateIdle, tr.Snapshot().State)
	require.NoError(t, tr.Err())
}

func TestSignStoresWalletError(t *testing.T) {
	h := newHarness(t)
	tr := h.svc.NewTracker(txflow.TxSponsorCandidate)

	_, err := tr.Sign(context.Background(), func(ctx context.Context) ([]byte, error) {
		return h.wallet.SignTypedData(ctx, apitypes.TypedData{})
	})
	var se *txflow.SendError
	require.ErrorAs(t, err, &se)
	require.Equal(t, txflow.SendUserRejected, se.Kind)
	snap := tr.Snapshot()
	require.Equal(t, txflow.StateIdle, snap.State)
	require.ErrorAs(t, snap.Err, &se)

	_, err = tr.Sign(context.Background(), func(context.Context) ([]byte, error) {
		return nil, errors.New("device disconnected")
	})
	require.ErrorAs(t, err, &se)
	require.Equal(t, txflow.SendUnknown, se.Kind)
	require.Equal(t, txflow.StateFailed, tr.Snapshot().State)
	require.Equal(t, "wallet", txflow.ViewError(tr.Err()).Source)
}

func TestSignRejectedWhileInFlight(t *testing.T) {
	h := newHarness(t)
	h.wallet.hold = true
	tr := h.svc.NewTracker(txflow.TxCastVote)
	require.NoError(t, tr.Submit(context.Background(), voteRequest(), voteLogging(), nil))

	called := false
	_, err := tr.Sign(context.Background(), func(context.Context) ([]byte, error) {
		called = true
		return nil, nil
	})
	require.ErrorIs(t, err, txflow.ErrSubmissionInFlight)
	require.False(t, called)
	require.Equal(t, txflow.StatePendingTxn, tr.Snapshot().State)
}

func TestErrorPriority(t *testing.T) {
	h := newHarness(t)
	h.wallet.sendErr = errors.New("nonce too low")
	tr := h.svc.NewTracker(txflow.TxCastVote)

	err := tr.Submit(context.Background(), voteRequest(), voteLogging(), func(context.Context) *txflow.ValidationError { return nil })
	require.Error(t, err)
	var se *txflow.SendError
	require.ErrorAs(t, tr.Err(), &se)

	tr.Record(txflow.NewValidationError(txflow.KindAlreadyVoted))
	require.True(t, txflow.IsKind(tr.Err(), txflow.KindAlreadyVoted))

	view := txflow.ViewError(tr.Err())
	require.Equal(t, "validation", view.Source)
	require.Equal(t, "ALREADY_VOTED", view.Kind)
}

func TestValidationErrorPersistsUntilRevalidated(t *testing.T) {
	h := newHarness(t)
	tr := h.svc.NewTracker(txflow.TxCastVote)
	fail := true
	validate := func(context.Context) *txflow.ValidationError {
		if fail {
			return txflow.NewValidationError(txflow.KindVotingNotStarted)
		}
		return nil
	}

	require.Error(t, tr.Submit(context.Background(), voteRequest(), voteLogging(), validate))
	require.True(t, txflow.IsKind(tr.Err(), txflow.KindVotingNotStarted))

	fail = false
	require.NoError(t, tr.Submit(context.Background(), voteRequest(), voteLogging(), validate))
	snap := settle(t, tr)
	require.NoError(t, snap.Err)
	require.Equal(t, txflow.StateSuccess, snap.State)
}

func TestResetAbandonsPendingReceipt(t *testing.T) {
	h := newHarness(t)
	h.wallet.hold = true
	tr := h.svc.NewTracker(txflow.TxCastVote)

	require.NoError(t, tr.Submit(context.Background(), voteRequest(), voteLogging(), nil))
	hash := tr.Snapshot().Hash
	require.NotEqual(t, common.Hash{}, hash)

	tr.Reset()
	snap := tr.Snapshot()
	require.Equal(t, txflow.StateIdle, snap.State)
	require.Equal(t, common.Hash{}, snap.Hash)
	require.NoError(t, snap.Err)

	h.fake.SetReceipt(hash, gethtypes.ReceiptStatusSuccessful)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, txflow.StateIdle, tr.Snapshot().State)
}

func TestResetClearsErrors(t *testing.T) {
	h := newHarness(t)
	h.wallet.sendErr = errors.New("boom")
	tr := h.svc.NewTracker(txflow.TxCastVote)
	require.Error(t, tr.Submit(context.Background(), voteRequest(), voteLogging(), nil))
	tr.Record(txflow.NewValidationError(txflow.KindUnauthorized))

	tr.Reset()
	require.NoError(t, tr.Err())
	require.Equal(t, txflow.StateIdle, tr.Snapshot().State)
}

func TestSubscribeStreamsTransitions(t *testing.T) {
	h := newHarness(t)
	tr := h.svc.NewTracker(txflow.TxCastVote)
	updates, cancel := tr.Subscribe()
	defer cancel()

	first := <-updates
	require.Equal(t, txflow.StateIdle, first.State)

	require.NoError(t, tr.Submit(context.Background(), voteRequest(), voteLogging(), nil))
	seen := map[txflow.State]bool{}
	timeout := time.After(2 * time.Second)
	for !seen[txflow.StateSuccess] {
		select {
		case snap := <-updates:
			seen[snap.State] = true
		case <-timeout:
			t.Fatalf("no success update, saw %v", seen)
		}
	}
	require.True(t, seen[txflow.StatePendingSignature])
	require.True(t, seen[txflow.StatePendingTxn])
}

func TestSimulationFailureBlocksSend(t *testing.T) {
	h := newHarness(t, txflow.WithSimulation(true))
	tr := h.svc.NewTracker(txflow.TxExecuteProposal)

	// the fake reverts calls without a handler
	err := tr.Submit(context.Background(), voteRequest(), voteLogging(), nil)
	require.True(t, txflow.IsKind(err, txflow.KindSimulationFailed))
	require.Empty(t, h.wallet.sent())
}

func TestServiceTrackersAndPrune(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	h := newHarness(t, txflow.WithClock(clock))
	a := h.svc.NewTracker(txflow.TxPropose)
	h.svc.NewTracker(txflow.TxCastVote)

	got, ok := h.svc.Tracker(a.ID())
	require.True(t, ok)
	require.Same(t, a, got)
	require.Len(t, h.svc.Trackers(), 2)

	require.Equal(t, 2, h.svc.Prune(now.Add(time.Minute)))
	require.Empty(t, h.svc.Trackers())
}
