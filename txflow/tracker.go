package txflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"nounsgov/chain"
	"nounsgov/wallet"
)

const subscriberBuffer = 16

// Tracker is the per-action handle on the pipeline. It owns one lifecycle
// at a time and is safe for concurrent use.
type Tracker struct {
	svc    *Service
	id     string
	action TxType

	mu            sync.Mutex
	state         State
	busy          bool
	attempt       uint64
	validationErr *ValidationError
	sendErr       *SendError
	receiptErr    error
	hash          common.Hash
	receipt       *gethtypes.Receipt
	updatedAt     time.Time
	stopWait      context.CancelFunc
	changed       chan struct{}
	subs          map[int]chan Snapshot
	nextSub       int
}

func newTracker(s *Service, id string, action TxType) *Tracker {
	return &Tracker{
		svc:       s,
		id:        id,
		action:    action,
		state:     StateIdle,
		updatedAt: s.now(),
		changed:   make(chan struct{}),
		subs:      make(map[int]chan Snapshot),
	}
}

// ID returns the tracker's identifier.
func (t *Tracker) ID() string { return t.id }

// Action returns the action the tracker was created for.
func (t *Tracker) Action() TxType { return t.action }

// Submit runs the pipeline for req. It returns nil once the transaction is
// broadcast; the receipt is awaited in the background. Validation failures
// and wallet errors are stored on the tracker and also returned.
func (t *Tracker) Submit(ctx context.Context, req Request, logging Logging, validate Validator) error {
	t.mu.Lock()
	if t.busy || t.state.InFlight() {
		t.mu.Unlock()
		return ErrSubmissionInFlight
	}
	if t.state.Terminal() {
		t.clearAttemptLocked()
	}
	t.busy = true
	gen := t.attempt
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.busy = false
		t.mu.Unlock()
	}()

	s := t.svc
	action := string(logging.Type)
	if action == "" {
		action = string(t.action)
	}
	ctx, span := s.tracer.Start(ctx, "txflow.submit")
	span.SetAttributes(attribute.String("txflow.action", action), attribute.String("txflow.tracker", t.id))
	defer span.End()
	logger := s.logger.With(slog.String("tracker", t.id), slog.String("action", action))

	step := func(name string, start time.Time) {
		s.metrics.ObserveStep(action, name, time.Since(start))
		span.AddEvent(name)
	}

	// 1. connected account with a known balance
	start := time.Now()
	from, connected := s.session.Address()
	var balance *big.Int
	if connected {
		bal, err := s.client.BalanceAt(ctx, from, nil)
		if err != nil {
			logger.Warn("balance lookup failed", slog.Any("error", err))
			connected = false
		} else {
			balance = bal
		}
	}
	if !connected {
		if s.onConnect != nil {
			s.onConnect(ctx)
		}
		s.metrics.RecordOutcome(action, "connect_required")
		return ErrConnectRequired
	}
	step("connect", start)

	// 2. chain switch
	start = time.Now()
	chainID, err := s.ChainID(ctx)
	if err != nil || !s.session.SwitchChain(ctx, chainID) {
		logger.Info("chain switch declined", slog.Any("error", err))
		s.metrics.RecordOutcome(action, "chain_switch_declined")
		return ErrChainSwitchDeclined
	}
	step("switch_chain", start)

	// 3. validation
	if validate != nil {
		start = time.Now()
		ve := validate(ctx)
		step("validate", start)
		t.mu.Lock()
		if t.attempt == gen {
			t.validationErr = ve
			t.touchLocked()
		}
		t.mu.Unlock()
		if ve != nil {
			logger.Info("validation rejected submission", slog.String("kind", string(ve.Kind)))
			s.metrics.RecordValidationError(action, string(ve.Kind))
			s.metrics.RecordOutcome(action, "validation_error")
			span.SetStatus(codes.Error, string(ve.Kind))
			return ve
		}
	}

	// 4. gas estimate with safety margin
	start = time.Now()
	value := req.value()
	to := req.To
	msg := ethereum.CallMsg{From: from, To: &to, Value: value, Data: req.Data}
	var gas uint64
	if estimate, err := s.client.EstimateGas(ctx, msg); err != nil {
		gas = req.GasFallback
		s.metrics.RecordGasFallback(action)
		logger.Debug("gas estimation failed; using fallback", slog.Uint64("gas", gas), slog.Any("error", err))
	} else {
		gas = s.resolveGas(estimate)
	}
	span.SetAttributes(attribute.Int64("txflow.gas", int64(gas)))
	step("estimate_gas", start)

	// 5. optional dry run
	if s.simulate {
		start = time.Now()
		msg.Gas = gas
		if _, err := s.client.CallContract(ctx, msg, nil); err != nil {
			ve := WithDetail(KindSimulationFailed, err)
			step("simulate", start)
			return t.reject(gen, ve, action, logger)
		}
		step("simulate", start)
	}

	// 6. contract wallet / relayed connector detection
	start = time.Now()
	code, err := s.client.CodeAt(ctx, from, nil)
	if err != nil {
		logger.Debug("bytecode lookup failed; treating account as externally owned", slog.Any("error", err))
	}
	contractWallet := len(code) > 0
	relayed := s.session.ConnectorKind().Relayed()
	step("detect_wallet", start)

	// 7. balance gate for plain externally-owned accounts
	if !contractWallet && !relayed {
		start = time.Now()
		price, err := s.client.SuggestGasPrice(ctx)
		if err != nil {
			step("balance_check", start)
			return t.reject(gen, WithDetail(KindNetworkError, err), action, logger)
		}
		if !affordable(balance, gas, price, value) {
			step("balance_check", start)
			return t.reject(gen, NewValidationError(KindInsufficientFunds), action, logger)
		}
		step("balance_check", start)
	}

	// 8. wallet prompt and broadcast
	return t.send(ctx, gen, wallet.SendRequest{
		From:    from,
		To:      req.To,
		Data:    req.Data,
		Value:   value,
		Gas:     gas,
		ChainID: chainID,
	}, logging, action, logger)
}

func (t *Tracker) send(ctx context.Context, gen uint64, sreq wallet.SendRequest, logging Logging, action string, logger *slog.Logger) error {
	s := t.svc
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	t.mu.Lock()
	if t.attempt != gen {
		t.mu.Unlock()
		return ErrSubmissionReset
	}
	t.sendErr, t.receiptErr, t.receipt, t.hash = nil, nil, nil, common.Hash{}
	t.state = StatePendingSignature
	t.touchLocked()
	t.mu.Unlock()

	start := time.Now()
	hash, err := s.session.SendTransaction(ctx, sreq)
	s.metrics.ObserveStep(action, "wallet_send", time.Since(start))
	if err != nil {
		se := ClassifySendError(err)
		t.mu.Lock()
		if t.attempt == gen {
			t.sendErr = se
			if se.Kind == SendUserRejected {
				t.state = StateIdle
			} else {
				t.state = StateFailed
			}
			t.touchLocked()
		}
		t.mu.Unlock()
		logger.Info("wallet send failed", slog.String("kind", string(se.Kind)), slog.Any("error", err))
		s.metrics.RecordOutcome(action, string(se.Kind))
		return se
	}

	if s.history != nil {
		b := Broadcast{
			TrackerID: t.id,
			Hash:      hash,
			From:      sreq.From,
			To:        sreq.To,
			Value:     new(big.Int).Set(sreq.Value),
			Gas:       sreq.Gas,
			ChainID:   new(big.Int).Set(sreq.ChainID),
			Logging:   logging,
			At:        s.now(),
		}
		if err := s.history.RecordBroadcast(context.WithoutCancel(ctx), b); err != nil {
			logger.Warn("history registration failed", slog.String("hash", hash.Hex()), slog.Any("error", err))
		}
	}
	logger.Info("transaction broadcast", slog.String("hash", hash.Hex()), slog.Uint64("gas", sreq.Gas))

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.receiptTimeout)
	t.mu.Lock()
	if t.attempt != gen {
		t.mu.Unlock()
		cancel()
		return nil
	}
	t.hash = hash
	t.state = StatePendingTxn
	t.stopWait = cancel
	t.touchLocked()
	t.mu.Unlock()

	s.metrics.AddInFlight(1)
	go t.awaitReceipt(waitCtx, cancel, gen, hash, action, logger)
	return nil
}

func (t *Tracker) awaitReceipt(ctx context.Context, cancel context.CancelFunc, gen uint64, hash common.Hash, action string, logger *slog.Logger) {
	defer cancel()
	s := t.svc
	defer s.metrics.AddInFlight(-1)

	receipt, err := chain.WaitForReceipt(ctx, s.client, hash, s.receiptTimeout, s.pollInterval)
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %s", chain.ErrReceiptTimeout, hash.Hex())
	}
	state := StateSuccess
	if err != nil {
		state = StateFailed
	}

	t.mu.Lock()
	current := t.attempt == gen
	if current {
		t.receipt = receipt
		t.receiptErr = err
		t.state = state
		t.stopWait = nil
		t.touchLocked()
	}
	t.mu.Unlock()

	if errors.Is(err, context.Canceled) && !current {
		return
	}
	if s.history != nil {
		if herr := s.history.RecordOutcome(context.Background(), hash, state, receipt, err); herr != nil {
			logger.Warn("history outcome update failed", slog.String("hash", hash.Hex()), slog.Any("error", herr))
		}
	}
	s.metrics.RecordOutcome(action, string(state))
	logger.Info("transaction settled", slog.String("hash", hash.Hex()), slog.String("state", string(state)), slog.Any("error", err))
}

func (t *Tracker) reject(gen uint64, ve *ValidationError, action string, logger *slog.Logger) error {
	t.mu.Lock()
	if t.attempt == gen {
		t.validationErr = ve
		t.touchLocked()
	}
	t.mu.Unlock()
	logger.Info("submission rejected", slog.String("kind", string(ve.Kind)))
	t.svc.metrics.RecordValidationError(action, string(ve.Kind))
	t.svc.metrics.RecordOutcome(action, "validation_error")
	return ve
}

// affordable reports balance >= gas*price + value. Arithmetic overflow means
// the cost cannot be covered.
func affordable(balance *big.Int, gas uint64, price, value *big.Int) bool {
	bal, overflow := uint256.FromBig(nonNil(balance))
	if overflow {
		return true
	}
	p, overflow := uint256.FromBig(nonNil(price))
	if overflow {
		return false
	}
	v, overflow := uint256.FromBig(nonNil(value))
	if overflow {
		return false
	}
	cost, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(gas), p)
	if overflow {
		return false
	}
	if _, overflow := cost.AddOverflow(cost, v); overflow {
		return false
	}
	return bal.Cmp(cost) >= 0
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// Record stores a validation error raised by a builder outside Submit, such
// as a rejected pre-signing check. It is a no-op while a submission is
// running or awaiting its receipt so the live attempt's state is kept.
func (t *Tracker) Record(ve *ValidationError) {
	if ve == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.busy || t.state.InFlight() {
		return
	}
	t.validationErr = ve
	t.touchLocked()
}

// Sign runs an off-chain signature prompt on the tracker. The tracker shows
// pending-signature while sign runs; a wallet failure is classified, stored
// and returned like a failed send. A successful signature leaves the tracker
// idle for the following Submit.
func (t *Tracker) Sign(ctx context.Context, sign func(context.Context) ([]byte, error)) ([]byte, error) {
	t.mu.Lock()
	if t.busy || t.state.InFlight() {
		t.mu.Unlock()
		return nil, ErrSubmissionInFlight
	}
	t.clearAttemptLocked()
	t.validationErr = nil
	t.busy = true
	t.state = StatePendingSignature
	gen := t.attempt
	t.touchLocked()
	t.mu.Unlock()

	sig, err := sign(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.busy = false
	if t.attempt != gen {
		if err != nil {
			return nil, ClassifySendError(err)
		}
		return nil, ErrSubmissionReset
	}
	if err != nil {
		se := ClassifySendError(err)
		t.sendErr = se
		if se.Kind == SendUserRejected {
			t.state = StateIdle
		} else {
			t.state = StateFailed
		}
		t.touchLocked()
		t.svc.metrics.RecordOutcome(string(t.action), string(se.Kind))
		return nil, se
	}
	t.state = StateIdle
	t.touchLocked()
	return sig, nil
}

// Reset clears every stored error, the hash and the receipt and returns the
// tracker to idle. A pending receipt wait is abandoned.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempt++
	t.validationErr = nil
	t.clearAttemptLocked()
	t.state = StateIdle
	t.touchLocked()
}

func (t *Tracker) clearAttemptLocked() {
	if t.stopWait != nil {
		t.stopWait()
		t.stopWait = nil
	}
	t.sendErr = nil
	t.receiptErr = nil
	t.receipt = nil
	t.hash = common.Hash{}
	t.state = StateIdle
}

// Err returns the single error to surface: the stored validation error, then
// the classified wallet error, then the receipt error.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errLocked()
}

func (t *Tracker) errLocked() error {
	switch {
	case t.validationErr != nil:
		return t.validationErr
	case t.sendErr != nil:
		return t.sendErr
	case t.receiptErr != nil:
		return t.receiptErr
	default:
		return nil
	}
}

// Snapshot returns the current state, error, hash and receipt.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	return Snapshot{
		ID:        t.id,
		Action:    t.action,
		State:     t.state,
		Err:       t.errLocked(),
		Hash:      t.hash,
		Receipt:   t.receipt,
		UpdatedAt: t.updatedAt,
	}
}

// Busy reports whether a submission or signature prompt is running or a
// broadcast transaction is still awaiting its receipt.
func (t *Tracker) Busy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.busy || t.state.InFlight()
}

// Wait blocks until no submission is running and the state is not pending.
func (t *Tracker) Wait(ctx context.Context) (Snapshot, error) {
	for {
		t.mu.Lock()
		snap := t.snapshotLocked()
		settled := !t.busy && !t.state.InFlight()
		ch := t.changed
		t.mu.Unlock()
		if settled {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-ch:
		}
	}
}

// Subscribe delivers a snapshot on every change until cancel is called.
// Slow subscribers miss intermediate snapshots rather than block the tracker.
func (t *Tracker) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	ch <- t.snapshotLocked()
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
			close(ch)
		})
	}
}

func (t *Tracker) touchLocked() {
	t.updatedAt = t.svc.now()
	close(t.changed)
	t.changed = make(chan struct{})
	snap := t.snapshotLocked()
	for _, ch := range t.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}
