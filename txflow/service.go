// Package txflow is the single choke point through which every governance
// write passes: chain switch, validation, gas estimation, balance gate,
// wallet prompt and receipt tracking.
package txflow

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"nounsgov/chain"
	"nounsgov/observability"
	"nounsgov/wallet"
)

// Metrics exposes Prometheus collectors for pipeline instrumentation.
type Metrics = observability.TxPipelineMetrics

// NewMetrics returns the lazily initialised pipeline registry.
func NewMetrics() *Metrics { return observability.TxPipeline() }

const (
	defaultGasNumerator   = 135
	defaultGasDenominator = 100
)

// Service owns the chain client and wallet session and hands out trackers.
type Service struct {
	client  chain.Client
	session wallet.Session

	history   HistoryRecorder
	metrics   *Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
	onConnect func(ctx context.Context)

	gasNum, gasDen uint64
	receiptTimeout time.Duration
	pollInterval   time.Duration
	simulate       bool

	chainMu sync.Mutex
	chainID *big.Int

	// sendMu serialises wallet prompts across trackers.
	sendMu sync.Mutex

	mu       sync.Mutex
	trackers map[string]*Tracker
}

// Option customises the service.
type Option func(*Service)

// WithHistory installs the transaction history observer.
func WithHistory(h HistoryRecorder) Option {
	return func(s *Service) { s.history = h }
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTracer sets the tracer used for submit spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithGasMultiplier sets the safety margin applied to gas estimates as the
// ratio num/den. The default is 135/100.
func WithGasMultiplier(num, den uint64) Option {
	return func(s *Service) {
		if num > 0 && den > 0 {
			s.gasNum, s.gasDen = num, den
		}
	}
}

// WithReceiptTimeout bounds how long a broadcast is tracked.
func WithReceiptTimeout(d time.Duration) Option {
	return func(s *Service) { s.receiptTimeout = d }
}

// WithPollInterval configures the receipt polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(s *Service) { s.pollInterval = d }
}

// WithSimulation enables an eth_call dry run before the wallet prompt.
func WithSimulation(enabled bool) Option {
	return func(s *Service) { s.simulate = enabled }
}

// WithConnectHandler is invoked when a submit finds no connected account.
func WithConnectHandler(fn func(ctx context.Context)) Option {
	return func(s *Service) { s.onConnect = fn }
}

// WithChainID pins the target chain instead of asking the node.
func WithChainID(id *big.Int) Option {
	return func(s *Service) {
		if id != nil {
			s.chainID = new(big.Int).Set(id)
		}
	}
}

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// New constructs a service around the process-wide chain client and session.
func New(client chain.Client, session wallet.Session, opts ...Option) *Service {
	s := &Service{
		client:         client,
		session:        session,
		logger:         slog.Default(),
		tracer:         otel.Tracer("nounsgov/txflow"),
		now:            time.Now,
		gasNum:         defaultGasNumerator,
		gasDen:         defaultGasDenominator,
		receiptTimeout: chain.DefaultReceiptTimeout,
		pollInterval:   chain.DefaultPollInterval,
		trackers:       make(map[string]*Tracker),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	return s
}

// Client returns the chain client the service submits through.
func (s *Service) Client() chain.Client { return s.client }

// Session returns the wallet session.
func (s *Service) Session() wallet.Session { return s.session }

// Metrics returns the pipeline metrics registry.
func (s *Service) Metrics() *Metrics { return s.metrics }

// Logger returns the service logger.
func (s *Service) Logger() *slog.Logger { return s.logger }

// Now returns the service clock's current time.
func (s *Service) Now() time.Time { return s.now() }

// ChainID returns the target chain, resolving it from the node once.
func (s *Service) ChainID(ctx context.Context) (*big.Int, error) {
	s.chainMu.Lock()
	defer s.chainMu.Unlock()
	if s.chainID != nil {
		return new(big.Int).Set(s.chainID), nil
	}
	id, err := s.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("txflow: resolve chain id: %w", err)
	}
	s.chainID = new(big.Int).Set(id)
	return id, nil
}

// NewTracker registers a fresh idle tracker for action.
func (s *Service) NewTracker(action TxType) *Tracker {
	t := newTracker(s, uuid.NewString(), action)
	s.mu.Lock()
	s.trackers[t.id] = t
	s.mu.Unlock()
	return t
}

// Tracker looks up a tracker by id.
func (s *Service) Tracker(id string) (*Tracker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trackers[id]
	return t, ok
}

// Trackers returns snapshots of every registered tracker, newest first.
func (s *Service) Trackers() []Snapshot {
	s.mu.Lock()
	list := make([]*Tracker, 0, len(s.trackers))
	for _, t := range s.trackers {
		list = append(list, t)
	}
	s.mu.Unlock()
	out := make([]Snapshot, 0, len(list))
	for _, t := range list {
		out = append(out, t.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// Prune drops settled trackers not updated since cutoff and reports how
// many were removed.
func (s *Service) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, t := range s.trackers {
		snap := t.Snapshot()
		if t.Busy() {
			continue
		}
		if snap.UpdatedAt.Before(cutoff) {
			delete(s.trackers, id)
			removed++
		}
	}
	return removed
}

func (s *Service) resolveGas(estimate uint64) uint64 {
	g := new(big.Int).SetUint64(estimate)
	g.Mul(g, new(big.Int).SetUint64(s.gasNum))
	g.Quo(g, new(big.Int).SetUint64(s.gasDen))
	if !g.IsUint64() {
		return ^uint64(0)
	}
	return g.Uint64()
}
