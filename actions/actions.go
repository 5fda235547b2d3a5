// Package actions holds the typed governance transaction builders. Each
// builder pairs a request (target, calldata, value, gas fallback) with a
// validator that re-reads live state, and hands both to a txflow tracker.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"

	"nounsgov/chain"
	"nounsgov/gov"
	"nounsgov/subgraph"
	"nounsgov/txflow"
	"nounsgov/wallet"
)

// Static gas limits used only when estimation fails.
const (
	GasPropose               uint64 = 2_000_000
	GasProposeBySigs         uint64 = 3_000_000
	GasUpdateProposal        uint64 = 2_000_000
	GasCastVote              uint64 = 250_000
	GasCandidate             uint64 = 1_500_000
	GasAddSignature          uint64 = 500_000
	GasCancel                uint64 = 150_000
	GasQueue                 uint64 = 500_000
	GasExecute               uint64 = 3_000_000
	GasCancelSig             uint64 = 100_000
	GasFeedback              uint64 = 100_000
	GasBuyNow                uint64 = 300_000
	GasApprove               uint64 = 80_000
	defaultSignatureLifetime        = 7 * 24 * time.Hour
)

// Deployment names the contracts of one DAO deployment.
type Deployment struct {
	ChainID   *big.Int
	DAO       common.Address
	Data      common.Address
	Token     common.Address
	Pool      common.Address
	Multicall common.Address
}

// Domain returns the EIP-712 domain signatures for this deployment bind to.
func (d Deployment) Domain() gov.Domain {
	return gov.Domain{ChainID: d.ChainID, VerifyingContract: d.DAO}
}

// Tier names the source that answered a validator read.
type Tier string

const (
	TierContract Tier = "contract"
	TierSubgraph Tier = "subgraph"
)

// Sourced is a value tagged with the tier that produced it.
type Sourced[T any] struct {
	Value T
	Tier  Tier
}

func fromContract[T any](v T) Sourced[T] { return Sourced[T]{Value: v, Tier: TierContract} }
func fromSubgraph[T any](v T) Sourced[T] { return Sourced[T]{Value: v, Tier: TierSubgraph} }

// Actions builds and validates governance transactions for one deployment.
type Actions struct {
	cfg       Deployment
	pipeline  *txflow.Service
	chain     chain.Client
	session   wallet.Session
	indexer   subgraph.Indexer
	multicall *chain.Multicaller
	logger    *slog.Logger
	now       func() time.Time
	sigTTL    time.Duration
}

// Option customises Actions.
type Option func(*Actions)

// WithLogger sets the logger used for fallback and rejection records.
func WithLogger(l *slog.Logger) Option {
	return func(a *Actions) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock overrides the clock used for signature expiry checks.
func WithClock(clock func() time.Time) Option {
	return func(a *Actions) {
		if clock != nil {
			a.now = clock
		}
	}
}

// WithSignatureLifetime sets the default expiry of new sponsor signatures.
func WithSignatureLifetime(d time.Duration) Option {
	return func(a *Actions) {
		if d > 0 {
			a.sigTTL = d
		}
	}
}

// New binds the builders to a deployment, a pipeline and an indexer. The
// chain client and wallet session are taken from the pipeline.
func New(cfg Deployment, pipeline *txflow.Service, indexer subgraph.Indexer, opts ...Option) *Actions {
	a := &Actions{
		cfg:      cfg,
		pipeline: pipeline,
		chain:    pipeline.Client(),
		session:  pipeline.Session(),
		indexer:  indexer,
		logger:   pipeline.Logger(),
		now:      pipeline.Now,
		sigTTL:   defaultSignatureLifetime,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.multicall = chain.NewMulticaller(a.chain)
	if cfg.Multicall != (common.Address{}) {
		a.multicall = a.multicall.WithAddress(cfg.Multicall)
	}
	return a
}

// Deployment returns the contract set the builders target.
func (a *Actions) Deployment() Deployment { return a.cfg }

func (a *Actions) account() (common.Address, bool) {
	if a.session == nil {
		return common.Address{}, false
	}
	return a.session.Address()
}

func (a *Actions) requireAccount() (common.Address, *txflow.ValidationError) {
	addr, ok := a.account()
	if !ok {
		return common.Address{}, txflow.NewValidationError(txflow.KindNotConnected)
	}
	return addr, nil
}

func (a *Actions) requireContracts(addrs ...common.Address) *txflow.ValidationError {
	for _, addr := range addrs {
		if addr == (common.Address{}) {
			return txflow.NewValidationError(txflow.KindContractNotInitialized)
		}
	}
	return nil
}

// guard turns a panic inside a validator into VALIDATION_ERROR.
func (a *Actions) guard(check string, ve **txflow.ValidationError) {
	if r := recover(); r != nil {
		a.logger.Error("validator panicked", slog.String("check", check), slog.Any("panic", r))
		*ve = txflow.WithDetail(txflow.KindValidationError, fmt.Errorf("%s: %v", check, r))
	}
}

func (a *Actions) fallback(check string, tier Tier, cause error) {
	a.logger.Debug("validator read answered by fallback tier",
		slog.String("check", check), slog.String("tier", string(tier)), slog.Any("error", cause))
	a.pipeline.Metrics().RecordFallback(check, string(tier))
}

// reject stores a build-time rejection on the tracker. A tracker that is
// still busy with an earlier attempt keeps its state and the caller gets
// txflow.ErrSubmissionInFlight instead.
func reject(tr *txflow.Tracker, ve *txflow.ValidationError) error {
	if tr.Busy() {
		return txflow.ErrSubmissionInFlight
	}
	tr.Record(ve)
	return ve
}

func validateTitleBody(title, body string) *txflow.ValidationError {
	title = strings.TrimSpace(title)
	if title == "" {
		return txflow.NewValidationError(txflow.KindMissingTitle)
	}
	if utf8.RuneCountInString(title) > gov.MaxTitleLength {
		return txflow.NewValidationError(txflow.KindTitleTooLong)
	}
	if strings.TrimSpace(body) == "" {
		return txflow.NewValidationError(txflow.KindMissingDescription)
	}
	return nil
}

// Slugify derives a candidate slug from a title.
func Slugify(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// indexerError maps an indexer lookup failure onto a validation kind.
func indexerError(err error, notFound txflow.Kind) *txflow.ValidationError {
	if errors.Is(err, subgraph.ErrNotFound) {
		return txflow.NewValidationError(notFound)
	}
	return txflow.WithDetail(txflow.KindNetworkError, err)
}

func (a *Actions) candidate(ctx context.Context, proposer common.Address, slug string) (*gov.Candidate, *txflow.ValidationError) {
	if a.indexer == nil {
		return nil, txflow.NewValidationError(txflow.KindConfigError)
	}
	c, err := a.indexer.Candidate(ctx, proposer, slug)
	if err != nil {
		return nil, indexerError(err, txflow.KindCandidateNotFound)
	}
	return c, nil
}

// checkCandidateOpen enforces that canceled and promoted candidates are final.
func checkCandidateOpen(c *gov.Candidate) *txflow.ValidationError {
	if c.Canceled() {
		return txflow.NewValidationError(txflow.KindAlreadyCanceled)
	}
	if c.Promoted() {
		return txflow.NewValidationError(txflow.KindAlreadyPromoted)
	}
	return nil
}

func shortAddress(addr common.Address) string {
	h := addr.Hex()
	return h[:6] + "…" + h[len(h)-4:]
}
