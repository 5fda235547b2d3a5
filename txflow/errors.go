package txflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"nounsgov/wallet"
)

var (
	// ErrConnectRequired means no account (or no balance) is available; the
	// connect handler has been invoked and nothing else happened.
	ErrConnectRequired = errors.New("txflow: wallet connection required")
	// ErrChainSwitchDeclined means the wallet could not be moved to the
	// target chain. It is a user cancellation, not a tracked error.
	ErrChainSwitchDeclined = errors.New("txflow: chain switch declined")
	// ErrSubmissionInFlight rejects a submit while the tracker is still
	// waiting on the wallet or a receipt.
	ErrSubmissionInFlight = errors.New("txflow: submission in flight")
	// ErrSubmissionReset is returned when Reset abandoned a running submit
	// before the wallet was prompted.
	ErrSubmissionReset = errors.New("txflow: tracker reset during submission")
)

// Kind classifies a validation failure.
type Kind string

const (
	KindNotConnected           Kind = "NOT_CONNECTED"
	KindUnauthorized           Kind = "UNAUTHORIZED"
	KindAlreadyCanceled        Kind = "ALREADY_CANCELED"
	KindAlreadyPromoted        Kind = "ALREADY_PROMOTED"
	KindAlreadyVoted           Kind = "ALREADY_VOTED"
	KindVotingNotStarted       Kind = "VOTING_NOT_STARTED"
	KindVotingEnded            Kind = "VOTING_ENDED"
	KindProposalNotFound       Kind = "PROPOSAL_NOT_FOUND"
	KindCandidateNotFound      Kind = "CANDIDATE_NOT_FOUND"
	KindTopicNotFound          Kind = "TOPIC_NOT_FOUND"
	KindInsufficientVotes      Kind = "INSUFFICIENT_VOTES"
	KindActiveProposalExists   Kind = "ACTIVE_PROPOSAL_EXISTS"
	KindMissingTitle           Kind = "MISSING_TITLE"
	KindMissingDescription     Kind = "MISSING_DESCRIPTION"
	KindTitleTooLong           Kind = "TITLE_TOO_LONG"
	KindInvalidNounID          Kind = "INVALID_NOUN_ID"
	KindInvalidBlockNumber     Kind = "INVALID_BLOCK_NUMBER"
	KindPriceIncreased         Kind = "PRICE_INCREASED"
	KindContractNotInitialized Kind = "CONTRACT_NOT_INITIALIZED"
	KindContractError          Kind = "CONTRACT_ERROR"
	KindNetworkError           Kind = "NETWORK_ERROR"
	KindInsufficientFunds      Kind = "INSUFFICIENT_FUNDS"
	KindSignaturesRequired     Kind = "SIGNATURES_REQUIRED"
	KindInvalidState           Kind = "INVALID_STATE"
	KindConfigError            Kind = "CONFIG_ERROR"
	KindValidationFailed       Kind = "VALIDATION_FAILED"
	KindValidationError        Kind = "VALIDATION_ERROR"
	KindSimulationFailed       Kind = "SIMULATION_FAILED"
)

var kindMessages = map[Kind]string{
	KindNotConnected:           "Connect a wallet to continue.",
	KindUnauthorized:           "Only the original proposer can perform this action.",
	KindAlreadyCanceled:        "This has already been canceled.",
	KindAlreadyPromoted:        "This candidate has already been promoted to a proposal.",
	KindAlreadyVoted:           "You have already voted on this proposal.",
	KindVotingNotStarted:       "Voting has not started yet.",
	KindVotingEnded:            "Voting has ended for this proposal.",
	KindProposalNotFound:       "Proposal not found.",
	KindCandidateNotFound:      "Candidate not found.",
	KindTopicNotFound:          "Topic not found.",
	KindInsufficientVotes:      "Not enough votes to meet the proposal threshold.",
	KindActiveProposalExists:   "This account already has an active or pending proposal.",
	KindMissingTitle:           "A title is required.",
	KindMissingDescription:     "A description is required.",
	KindTitleTooLong:           "The title is too long.",
	KindInvalidNounID:          "This Noun is no longer available; it may have just been purchased.",
	KindInvalidBlockNumber:     "This Noun is no longer in the auction pool.",
	KindPriceIncreased:         "The price has risen above your maximum.",
	KindContractNotInitialized: "Governance contracts are not configured for this network.",
	KindContractError:          "Failed to read contract state.",
	KindNetworkError:           "Network request failed. Try again.",
	KindInsufficientFunds:      "Insufficient balance to cover gas and value.",
	KindSignaturesRequired:     "Valid sponsor signatures are required for this action.",
	KindInvalidState:           "This action is not available in the current state.",
	KindConfigError:            "Invalid configuration.",
	KindValidationFailed:       "Validation failed.",
	KindValidationError:        "Validation could not be completed.",
	KindSimulationFailed:       "Transaction simulation failed.",
}

// Message returns the canonical user-facing text for k.
func (k Kind) Message() string {
	if msg, ok := kindMessages[k]; ok {
		return msg
	}
	return kindMessages[KindValidationFailed]
}

// Kinds lists every known kind.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kindMessages))
	for k := range kindMessages {
		out = append(out, k)
	}
	return out
}

// ValidationError is a business-rule rejection raised before any wallet
// interaction.
type ValidationError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

// NewValidationError returns an error of kind k with its canonical message.
func NewValidationError(k Kind) *ValidationError {
	return &ValidationError{Kind: k, Message: k.Message()}
}

// WithDetail returns an error of kind k carrying cause. The cause text is
// appended to the message only for kinds that describe infrastructure
// failures; other kinds keep their canonical text.
func WithDetail(k Kind, cause error) *ValidationError {
	ve := NewValidationError(k)
	ve.Cause = cause
	if cause != nil {
		switch k {
		case KindValidationFailed, KindValidationError, KindNetworkError, KindContractError, KindSimulationFailed:
			ve.Message = strings.TrimSuffix(ve.Message, ".") + ": " + cause.Error()
		}
	}
	return ve
}

// ValidationFailed wraps an unexpected failure.
func ValidationFailed(cause error) *ValidationError {
	return WithDetail(KindValidationFailed, cause)
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// Is matches another *ValidationError of the same kind.
func (e *ValidationError) Is(target error) bool {
	var other *ValidationError
	if errors.As(target, &other) && other != nil {
		return other.Kind == e.Kind
	}
	return false
}

// IsKind reports whether err is a ValidationError of kind k.
func IsKind(err error, k Kind) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve != nil && ve.Kind == k
}

// SendErrorKind classifies wallet send failures.
type SendErrorKind string

const (
	SendInsufficientFunds SendErrorKind = "insufficient-funds"
	SendUserRejected      SendErrorKind = "user-rejected"
	SendUnknown           SendErrorKind = "unknown"
)

// SendError is a failure reported by the wallet while signing or
// broadcasting. Err is the wallet's error, unmodified.
type SendError struct {
	Kind SendErrorKind
	Err  error
}

// ClassifySendError buckets a wallet error.
func ClassifySendError(err error) *SendError {
	if err == nil {
		return nil
	}
	var se *SendError
	if errors.As(err, &se) {
		return se
	}
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, wallet.ErrUserRejected),
		strings.Contains(msg, "user rejected"),
		strings.Contains(msg, "user denied"),
		strings.Contains(msg, "rejected the request"):
		return &SendError{Kind: SendUserRejected, Err: err}
	case strings.Contains(msg, "insufficient funds"):
		return &SendError{Kind: SendInsufficientFunds, Err: err}
	default:
		return &SendError{Kind: SendUnknown, Err: err}
	}
}

func (e *SendError) Error() string {
	switch e.Kind {
	case SendUserRejected:
		return "Transaction was rejected in the wallet."
	case SendInsufficientFunds:
		return "Insufficient funds for this transaction."
	default:
		return fmt.Sprintf("Transaction failed: %v", e.Err)
	}
}

func (e *SendError) Unwrap() error { return e.Err }

// ErrorView is the serialisable form of a tracker error.
type ErrorView struct {
	Source  string `json:"source"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ViewError renders err for API clients.
func ViewError(err error) *ErrorView {
	if err == nil {
		return nil
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return &ErrorView{Source: "validation", Kind: string(ve.Kind), Message: ve.Message}
	}
	var se *SendError
	if errors.As(err, &se) {
		return &ErrorView{Source: "wallet", Kind: string(se.Kind), Message: se.Error()}
	}
	return &ErrorView{Source: "receipt", Kind: "receipt", Message: err.Error()}
}

// MarshalJSON renders the view form.
func (e *SendError) MarshalJSON() ([]byte, error) {
	return json.Marshal(ViewError(e))
}
