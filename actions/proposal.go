package actions

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"nounsgov/gov"
	"nounsgov/txflow"
)

// CreateProposalInput is a new on-chain proposal.
type CreateProposalInput struct {
	Title   string      `json:"title"`
	Body    string      `json:"description"`
	Actions gov.Actions `json:"actions"`
}

// ValidateCreateProposal checks that the connected account may propose.
func (a *Actions) ValidateCreateProposal(ctx context.Context, in CreateProposalInput) (ve *txflow.ValidationError) {
	defer a.guard("create_proposal", &ve)
	account, ve := a.requireAccount()
	if ve != nil {
		return ve
	}
	if ve := validateTitleBody(in.Title, in.Body); ve != nil {
		return ve
	}
	return a.checkProposer(ctx, account)
}

// checkProposer enforces the token path: own votes reach the threshold and
// no other proposal is live.
func (a *Actions) checkProposer(ctx context.Context, account common.Address) *txflow.ValidationError {
	votes, threshold, ve := a.votingPower(ctx, account)
	if ve != nil {
		return ve
	}
	if !meetsThreshold(votes, threshold) {
		return txflow.NewValidationError(txflow.KindInsufficientVotes)
	}
	live, ve := a.hasLiveProposal(ctx, account)
	if ve != nil {
		return ve
	}
	if live {
		return txflow.NewValidationError(txflow.KindActiveProposalExists)
	}
	return nil
}

// CreateProposal submits propose(...).
func (a *Actions) CreateProposal(ctx context.Context, tr *txflow.Tracker, in CreateProposalInput) error {
	if ve := a.requireContracts(a.cfg.DAO); ve != nil {
		return reject(tr, ve)
	}
	description := gov.FormatDescription(in.Title, in.Body)
	data, err := gov.PackPropose(in.Actions, description)
	if err != nil {
		return reject(tr, txflow.ValidationFailed(err))
	}
	req := txflow.NewRequest(a.cfg.DAO, data, nil, GasPropose)
	logging := txflow.Logging{Type: txflow.TxPropose, Description: fmt.Sprintf("Create proposal %q", strings.TrimSpace(in.Title))}
	return tr.Submit(ctx, req, logging, func(ctx context.Context) *txflow.ValidationError {
		return a.ValidateCreateProposal(ctx, in)
	})
}

// UpdateProposalInput edits a proposal during its updatable window. Leave
// Actions nil to update only the description, or leave Title and Body empty
// to update only the transactions.
type UpdateProposalInput struct {
	ProposalID    *big.Int    `json:"proposalId"`
	Title         string      `json:"title"`
	Body          string      `json:"description"`
	Actions       gov.Actions `json:"actions"`
	UpdateMessage string      `json:"updateMessage"`
}

func (in UpdateProposalInput) updatesText() bool {
	return strings.TrimSpace(in.Title) != "" || strings.TrimSpace(in.Body) != ""
}

func (in UpdateProposalInput) updatesActions() bool { return in.Actions != nil }

// checkUpdatable requires caller to be the proposer of an updatable proposal.
func (a *Actions) checkUpdatable(ctx context.Context, caller common.Address, id *big.Int) (proposalInfo, *txflow.ValidationError) {
	if !validProposalID(id) {
		return proposalInfo{}, txflow.NewValidationError(txflow.KindProposalNotFound)
	}
	info, ve := a.proposal(ctx, id)
	if ve != nil {
		return proposalInfo{}, ve
	}
	if info.Value.Proposer != caller {
		return proposalInfo{}, txflow.NewValidationError(txflow.KindUnauthorized)
	}
	state, ve := a.proposalState(ctx, id)
	if ve != nil {
		return proposalInfo{}, ve
	}
	if state.Value != gov.ProposalStateUpdatable {
		return proposalInfo{}, txflow.NewValidationError(txflow.KindInvalidState)
	}
	return info.Value, nil
}

// ValidateUpdateProposal checks the single-proposer update path.
func (a *Actions) ValidateUpdateProposal(ctx context.Context, in UpdateProposalInput) (ve *txflow.ValidationError) {
	defer a.guard("update_proposal", &ve)
	account, ve := a.requireAccount()
	if ve != nil {
		return ve
	}
	if !in.updatesText() && !in.updatesActions() {
		return txflow.NewValidationError(txflow.KindInvalidState)
	}
	if in.updatesText() {
		if ve := validateTitleBody(in.Title, in.Body); ve != nil {
			return ve
		}
	}
	info, ve := a.checkUpdatable(ctx, account, in.ProposalID)
	if ve != nil {
		return ve
	}
	// co-signed proposals need fresh signatures for any change
	if len(info.Signers) > 0 {
		return txflow.NewValidationError(txflow.KindSignaturesRequired)
	}
	return nil
}

// UpdateProposal submits updateProposal, updateProposalDescription or
// updateProposalTransactions depending on what changed.
func (a *Actions) UpdateProposal(ctx context.Context, tr *txflow.Tracker, in UpdateProposalInput) error {
	if ve := a.requireContracts(a.cfg.DAO); ve != nil {
		return reject(tr, ve)
	}
	if !validProposalID(in.ProposalID) {
		return reject(tr, txflow.NewValidationError(txflow.KindProposalNotFound))
	}
	var (
		data []byte
		err  error
	)
	description := gov.FormatDescription(in.Title, in.Body)
	switch {
	case in.updatesText() && in.updatesActions():
		data, err = gov.PackUpdateProposal(in.ProposalID, in.Actions, description, in.UpdateMessage)
	case in.updatesText():
		data, err = gov.PackUpdateProposalDescription(in.ProposalID, description, in.UpdateMessage)
	case in.updatesActions():
		data, err = gov.PackUpdateProposalTransactions(in.ProposalID, in.Actions, in.UpdateMessage)
	default:
		return reject(tr, txflow.NewValidationError(txflow.KindInvalidState))
	}
	if err != nil {
		return reject(tr, txflow.ValidationFailed(err))
	}
	req := txflow.NewRequest(a.cfg.DAO, data, nil, GasUpdateProposal)
	logging := txflow.Logging{Type: txflow.TxUpdateProposal, Description: fmt.Sprintf("Update proposal %s", in.ProposalID)}
	return tr.Submit(ctx, req, logging, func(ctx context.Context) *txflow.ValidationError {
		return a.ValidateUpdateProposal(ctx, in)
	})
}

// UpdateProposalBySigsInput updates a co-signed proposal with fresh
// signatures over the UpdateProposal payload.
type UpdateProposalBySigsInput struct {
	ProposalID    *big.Int                `json:"proposalId"`
	Title         string                  `json:"title"`
	Body          string                  `json:"description"`
	Actions       gov.Actions             `json:"actions"`
	Signatures    []gov.ProposerSignature `json:"signatures"`
	UpdateMessage string                  `json:"updateMessage"`
}

// ValidateUpdateProposalBySigs checks the proposer, the window and that every
// signature is live and signs exactly this update.
func (a *Actions) ValidateUpdateProposalBySigs(ctx context.Context, in UpdateProposalBySigsInput) (ve *txflow.ValidationError) {
	defer a.guard("update_proposal_by_sigs", &ve)
	account, ve := a.requireAccount()
	if ve != nil {
		return ve
	}
	if ve := validateTitleBody(in.Title, in.Body); ve != nil {
		return ve
	}
	if _, ve := a.checkUpdatable(ctx, account, in.ProposalID); ve != nil {
		return ve
	}
	payload := gov.SponsorPayload{
		Proposer:           account,
		ProposalIDToUpdate: in.ProposalID,
		Actions:            in.Actions,
		Description:        gov.FormatDescription(in.Title, in.Body),
	}
	return a.checkSignatures(in.Signatures, payload)
}

// checkSignatures requires at least one signature, each live at now and
// recovering to its declared signer over payload.
func (a *Actions) checkSignatures(sigs []gov.ProposerSignature, payload gov.SponsorPayload) *txflow.ValidationError {
	if len(sigs) == 0 {
		return txflow.NewValidationError(txflow.KindSignaturesRequired)
	}
	now := a.now()
	for _, sig := range sigs {
		if !sig.Valid(now) {
			return txflow.NewValidationError(txflow.KindSignaturesRequired)
		}
		payload.Expiry = sig.ExpirationTimestamp
		digest, err := gov.ContractDigest(a.cfg.Domain(), payload)
		if err != nil {
			return txflow.ValidationFailed(err)
		}
		signer, err := gov.RecoverSigner(digest, sig.Signature)
		if err != nil || signer != sig.Signer {
			return txflow.NewValidationError(txflow.KindSignaturesRequired)
		}
	}
	return nil
}

// UpdateProposalBySigs submits updateProposalBySigs(...).
func (a *Actions) UpdateProposalBySigs(ctx context.Context, tr *txflow.Tracker, in UpdateProposalBySigsInput) error {
	if ve := a.requireContracts(a.cfg.DAO); ve != nil {
		return reject(tr, ve)
	}
	if !validProposalID(in.ProposalID) {
		return reject(tr, txflow.NewValidationError(txflow.KindProposalNotFound))
	}
	data, err := gov.PackUpdateProposalBySigs(in.ProposalID, in.Signatures, in.Actions, gov.FormatDescription(in.Title, in.Body), in.UpdateMessage)
	if err != nil {
		return reject(tr, txflow.ValidationFailed(err))
	}
	req := txflow.NewRequest(a.cfg.DAO, data, nil, GasProposeBySigs)
	logging := txflow.Logging{
		Type:        txflow.TxUpdateProposalBySigs,
		Description: fmt.Sprintf("Update proposal %s with %d signatures", in.ProposalID, len(in.Signatures)),
	}
	return tr.Submit(ctx, req, logging, func(ctx context.Context) *txflow.ValidationError {
		return a.ValidateUpdateProposalBySigs(ctx, in)
	})
}

// ProposalInput addresses an existing proposal.
type ProposalInput struct {
	ProposalID *big.Int `json:"proposalId"`
}

// ValidateCancelProposal requires the proposer or one of its signers and a
// state the contract still allows canceling from.
func (a *Actions) ValidateCancelProposal(ctx context.Context, in ProposalInput) (ve *txflow.ValidationError) {
	defer a.guard("cancel_proposal", &ve)
	account, ve := a.requireAccount()
	if ve != nil {
		return ve
	}
	if !validProposalID(in.ProposalID) {
		return txflow.NewValidationError(txflow.KindProposalNotFound)
	}
	info, ve := a.proposal(ctx, in.ProposalID)
	if ve != nil {
		return ve
	}
	allowed := info.Value.Proposer == account
	for _, s := range info.Value.Signers {
		if s == account {
			allowed = true
		}
	}
	if !allowed {
		return txflow.NewValidationError(txflow.KindUnauthorized)
	}
	state, ve := a.proposalState(ctx, in.ProposalID)
	if ve != nil {
		return ve
	}
	switch state.Value {
	case gov.ProposalStateCanceled:
		return txflow.NewValidationError(txflow.KindAlreadyCanceled)
	case gov.ProposalStateDefeated, gov.ProposalStateExpired, gov.ProposalStateExecuted, gov.ProposalStateVetoed:
		return txflow.NewValidationError(txflow.KindInvalidState)
	}
	return nil
}

// CancelProposal submits cancel(uint256).
func (a *Actions) CancelProposal(ctx context.Context, tr *txflow.Tracker, in ProposalInput) error {
	return a.proposalCall(ctx, tr, in, txflow.TxCancelProposal, "Cancel", gov.PackCancelProposal, GasCancel, a.ValidateCancelProposal)
}

// ValidateQueueProposal requires a succeeded proposal.
func (a *Actions) ValidateQueueProposal(ctx context.Context, in ProposalInput) (ve *txflow.ValidationError) {
	defer a.guard("queue_proposal", &ve)
	return a.requireState(ctx, in.ProposalID, gov.ProposalStateSucceeded)
}

// QueueProposal submits queue(uint256).
func (a *Actions) QueueProposal(ctx context.Context, tr *txflow.Tracker, in ProposalInput) error {
	return a.proposalCall(ctx, tr, in, txflow.TxQueueProposal, "Queue", gov.PackQueueProposal, GasQueue, a.ValidateQueueProposal)
}

// ValidateExecuteProposal requires a queued proposal.
func (a *Actions) ValidateExecuteProposal(ctx context.Context, in ProposalInput) (ve *txflow.ValidationError) {
	defer a.guard("execute_proposal", &ve)
	return a.requireState(ctx, in.ProposalID, gov.ProposalStateQueued)
}

// ExecuteProposal submits execute(uint256).
func (a *Actions) ExecuteProposal(ctx context.Context, tr *txflow.Tracker, in ProposalInput) error {
	return a.proposalCall(ctx, tr, in, txflow.TxExecuteProposal, "Execute", gov.PackExecuteProposal, GasExecute, a.ValidateExecuteProposal)
}

func (a *Actions) requireState(ctx context.Context, id *big.Int, want gov.ProposalState) *txflow.ValidationError {
	if _, ve := a.requireAccount(); ve != nil {
		return ve
	}
	if !validProposalID(id) {
		return txflow.NewValidationError(txflow.KindProposalNotFound)
	}
	state, ve := a.proposalState(ctx, id)
	if ve != nil {
		return ve
	}
	if state.Value != want {
		return txflow.NewValidationError(txflow.KindInvalidState)
	}
	return nil
}

func (a *Actions) proposalCall(
	ctx context.Context,
	tr *txflow.Tracker,
	in ProposalInput,
	kind txflow.TxType,
	verb string,
	packFn func(*big.Int) ([]byte, error),
	gas uint64,
	validate func(context.Context, ProposalInput) *txflow.ValidationError,
) error {
	if ve := a.requireContracts(a.cfg.DAO); ve != nil {
		return reject(tr, ve)
	}
	if !validProposalID(in.ProposalID) {
		return reject(tr, txflow.NewValidationError(txflow.KindProposalNotFound))
	}
	data, err := packFn(in.ProposalID)
	if err != nil {
		return reject(tr, txflow.ValidationFailed(err))
	}
	req := txflow.NewRequest(a.cfg.DAO, data, nil, gas)
	logging := txflow.Logging{Type: kind, Description: fmt.Sprintf("%s proposal %s", verb, in.ProposalID)}
	return tr.Submit(ctx, req, logging, func(ctx context.Context) *txflow.ValidationError {
		return validate(ctx, in)
	})
}

// ProposalFeedbackInput is a signal on a proposal that is still open.
type ProposalFeedbackInput struct {
	ProposalID *big.Int        `json:"proposalId"`
	Support    gov.VoteSupport `json:"support"`
	Reason     string          `json:"reason"`
}

// ValidateProposalFeedback accepts feedback while the proposal is pending,
// updatable or active.
func (a *Actions) ValidateProposalFeedback(ctx context.Context, in ProposalFeedbackInput) (ve *txflow.ValidationError) {
	defer a.guard("proposal_feedback", &ve)
	if _, ve := a.requireAccount(); ve != nil {
		return ve
	}
	if !in.Support.Valid() {
		return txflow.NewValidationError(txflow.KindInvalidState)
	}
	if !validProposalID(in.ProposalID) {
		return txflow.NewValidationError(txflow.KindProposalNotFound)
	}
	state, ve := a.proposalState(ctx, in.ProposalID)
	if ve != nil {
		return ve
	}
	switch state.Value {
	case gov.ProposalStatePending, gov.ProposalStateUpdatable, gov.ProposalStateActive:
		return nil
	default:
		return txflow.NewValidationError(txflow.KindInvalidState)
	}
}

// SendProposalFeedback submits sendFeedback on the data contract.
func (a *Actions) SendProposalFeedback(ctx context.Context, tr *txflow.Tracker, in ProposalFeedbackInput) error {
	if ve := a.requireContracts(a.cfg.Data); ve != nil {
		return reject(tr, ve)
	}
	if !validProposalID(in.ProposalID) {
		return reject(tr, txflow.NewValidationError(txflow.KindProposalNotFound))
	}
	data, err := gov.PackProposalFeedback(in.ProposalID, in.Support, in.Reason)
	if err != nil {
		return reject(tr, txflow.ValidationFailed(err))
	}
	req := txflow.NewRequest(a.cfg.Data, data, nil, GasFeedback)
	logging := txflow.Logging{Type: txflow.TxProposalFeedback, Description: fmt.Sprintf("Feedback on proposal %s", in.ProposalID)}
	return tr.Submit(ctx, req, logging, func(ctx context.Context) *txflow.ValidationError {
		return a.ValidateProposalFeedback(ctx, in)
	})
}

// expiryFrom converts a lifetime into an on-chain expiration timestamp.
func expiryFrom(now time.Time, ttl time.Duration) *big.Int {
	return big.NewInt(now.Add(ttl).Unix())
}
