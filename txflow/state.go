package txflow

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// State is the lifecycle of one tracked submission.
type State string

const (
	StateIdle             State = "idle"
	StatePendingSignature State = "pending-signature"
	StatePendingTxn       State = "pending-txn"
	StateSuccess          State = "success"
	StateFailed           State = "failed"
)

// InFlight reports whether resubmission must be refused.
func (s State) InFlight() bool {
	return s == StatePendingSignature || s == StatePendingTxn
}

// Terminal reports whether the attempt has resolved.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailed
}

// TxType tags a submission for the history observer.
type TxType string

const (
	TxPropose              TxType = "propose"
	TxProposeBySigs        TxType = "propose-by-sigs"
	TxCreateCandidate      TxType = "create-candidate"
	TxUpdateCandidate      TxType = "update-candidate"
	TxCancelCandidate      TxType = "cancel-candidate"
	TxCreateTopic          TxType = "create-topic"
	TxCancelTopic          TxType = "cancel-topic"
	TxCastVote             TxType = "cast-vote"
	TxSponsorCandidate     TxType = "sponsor-candidate"
	TxPromoteCandidate     TxType = "promote-candidate"
	TxUpdateProposal       TxType = "update-proposal"
	TxUpdateProposalBySigs TxType = "update-proposal-by-sigs"
	TxCancelProposal       TxType = "cancel-proposal"
	TxQueueProposal        TxType = "queue-proposal"
	TxExecuteProposal      TxType = "execute-proposal"
	TxCancelSignature      TxType = "cancel-signature"
	TxCandidateFeedback    TxType = "candidate-feedback"
	TxProposalFeedback     TxType = "proposal-feedback"
	TxBuyVRGDA             TxType = "buy-vrgda"
	TxApproveToken         TxType = "approve-token"
)

// Logging is passed through unchanged to the history observer.
type Logging struct {
	Type        TxType `json:"type"`
	Description string `json:"description"`
}

// Request is the wire-level transaction a builder wants sent. GasFallback is
// used only when gas estimation fails.
type Request struct {
	To          common.Address
	Data        []byte
	Value       *big.Int
	GasFallback uint64
}

// NewRequest copies its inputs so the request cannot change after construction.
func NewRequest(to common.Address, data []byte, value *big.Int, gasFallback uint64) Request {
	v := new(big.Int)
	if value != nil {
		v.Set(value)
	}
	return Request{To: to, Data: common.CopyBytes(data), Value: v, GasFallback: gasFallback}
}

func (r Request) value() *big.Int {
	if r.Value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(r.Value)
}

// Validator re-reads live state and returns nil when the request may proceed.
// Validators must be idempotent and must not return Go errors for expected
// business conditions.
type Validator func(ctx context.Context) *ValidationError

// Snapshot is a point-in-time view of a tracker.
type Snapshot struct {
	ID        string
	Action    TxType
	State     State
	Err       error
	Hash      common.Hash
	Receipt   *gethtypes.Receipt
	UpdatedAt time.Time
}

// Broadcast is what the history observer receives once per sent transaction.
type Broadcast struct {
	TrackerID string
	Hash      common.Hash
	From      common.Address
	To        common.Address
	Value     *big.Int
	Gas       uint64
	ChainID   *big.Int
	Logging   Logging
	At        time.Time
}

// HistoryRecorder observes broadcasts and their outcomes.
type HistoryRecorder interface {
	RecordBroadcast(ctx context.Context, b Broadcast) error
	RecordOutcome(ctx context.Context, hash common.Hash, state State, receipt *gethtypes.Receipt, cause error) error
}
