package actions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"nounsgov/gov"
	"nounsgov/subgraph"
	"nounsgov/txflow"
)

// CreateCandidateInput is a new proposal candidate. An empty slug is derived
// from the title. A positive ProposalIDToUpdate drafts an update to that
// proposal.
type CreateCandidateInput struct {
	Title              string      `json:"title"`
	Body               string      `json:"description"`
	Slug               string      `json:"slug"`
	Actions            gov.Actions `json:"actions"`
	ProposalIDToUpdate *big.Int    `json:"proposalIdToUpdate,omitempty"`
}

func (in CreateCandidateInput) slug() string {
	if s := strings.TrimSpace(in.Slug); s != "" {
		return s
	}
	return Slugify(in.Title)
}

// ValidateCreateCandidate checks the content and that the slug is free.
func (a *Actions) ValidateCreateCandidate(ctx context.Context, in CreateCandidateInput) (ve *txflow.ValidationError) {
	defer a.guard("create_candidate", &ve)
	account, ve := a.requireAccount()
	if ve != nil {
		return ve
	}
	if ve := validateTitleBody(in.Title, in.Body); ve != nil {
		return ve
	}
	if len(in.Actions) == 0 {
		return txflow.NewValidationError(txflow.KindInvalidState)
	}
	return a.checkSlugFree(ctx, account, in.slug())
}

func (a *Actions) checkSlugFree(ctx context.Context, account common.Address, slug string) *txflow.ValidationError {
	if slug == "" {
		return txflow.NewValidationError(txflow.KindMissingTitle)
	}
	if a.indexer == nil {
		return nil
	}
	_, err := a.indexer.Candidate(ctx, account, slug)
	switch {
	case err == nil:
		return txflow.NewValidationError(txflow.KindInvalidState)
	case errors.Is(err, subgraph.ErrNotFound):
		return nil
	default:
		return indexerError(err, txflow.KindCandidateNotFound)
	}
}

// CreateCandidate submits createProposalCandidate with the current creation
// cost as value.
func (a *Actions) CreateCandidate(ctx context.Context, tr *txflow.Tracker, in CreateCandidateInput) error {
	return a.createCandidate(ctx, tr, in.Actions, in.Title, in.Body, in.slug(), in.ProposalIDToUpdate, txflow.TxCreateCandidate,
		func(ctx context.Context) *txflow.ValidationError { return a.ValidateCreateCandidate(ctx, in) })
}

func (a *Actions) createCandidate(
	ctx context.Context,
	tr *txflow.Tracker,
	actions gov.Actions,
	title, body, slug string,
	proposalIDToUpdate *big.Int,
	kind txflow.TxType,
	validate txflow.Validator,
) error {
	if ve := a.requireContracts(a.cfg.Data); ve != nil {
		return reject(tr, ve)
	}
	cost, ve := a.candidateCost(ctx, "createCandidateCost")
	if ve != nil {
		return reject(tr, ve)
	}
	data, err := gov.PackCreateCandidate(actions, gov.FormatDescription(title, body), slug, proposalIDToUpdate)
	if err != nil {
		return reject(tr, txflow.ValidationFailed(err))
	}
	req := txflow.NewRequest(a.cfg.Data, data, cost, GasCandidate)
	logging := txflow.Logging{Type: kind, Description: fmt.Sprintf("Create %q (%s)", strings.TrimSpace(title), slug)}
	return tr.Submit(ctx, req, logging, validate)
}

// UpdateCandidateInput replaces a candidate's content.
type UpdateCandidateInput struct {
	Proposer           common.Address `json:"proposer"`
	Slug               string         `json:"slug"`
	Title              string         `json:"title"`
	Body               string         `json:"description"`
	Actions            gov.Actions    `json:"actions"`
	ProposalIDToUpdate *big.Int       `json:"proposalIdToUpdate,omitempty"`
	Reason             string         `json:"reason"`
}

// ValidateUpdateCandidate requires the proposer and an open candidate that no
// sponsor has signed yet.
func (a *Actions) ValidateUpdateCandidate(ctx context.Context, in UpdateCandidateInput) (ve *txflow.ValidationError) {
	defer a.guard("update_candidate", &ve)
	account, ve := a.requireAccount()
	if ve != nil {
		return ve
	}
	if account != in.Proposer {
		return txflow.NewValidationError(txflow.KindUnauthorized)
	}
	if ve := validateTitleBody(in.Title, in.Body); ve != nil {
		return ve
	}
	if len(in.Actions) == 0 {
		return txflow.NewValidationError(txflow.KindInvalidState)
	}
	c, ve := a.candidate(ctx, in.Proposer, in.Slug)
	if ve != nil {
		return ve
	}
	if ve := checkCandidateOpen(c); ve != nil {
		return ve
	}
	// co-signed candidates need fresh signatures for any change
	if len(c.Signatures) > 0 {
		return txflow.NewValidationError(txflow.KindSignaturesRequired)
	}
	return nil
}

// UpdateCandidate submits updateProposalCandidate with the update cost.
func (a *Actions) UpdateCandidate(ctx context.Context, tr *txflow.Tracker, in UpdateCandidateInput) error {
	if ve := a.requireContracts(a.cfg.Data); ve != nil {
		return reject(tr, ve)
	}
	cost, ve := a.candidateCost(ctx, "updateCandidateCost")
	if ve != nil {
		return reject(tr, ve)
	}
	data, err := gov.PackUpdateCandidate(in.Actions, gov.FormatDescription(in.Title, in.Body), in.Slug, in.ProposalIDToUpdate, in.Reason)
	if err != nil {
		return reject(tr, txflow.ValidationFailed(err))
	}
	req := txflow.NewRequest(a.cfg.Data, data, cost, GasCandidate)
	logging := txflow.Logging{Type: txflow.TxUpdateCandidate, Description: fmt.Sprintf("Update candidate %s", in.Slug)}
	return tr.Submit(ctx, req, logging, func(ctx context.Context) *txflow.ValidationError {
		return a.ValidateUpdateCandidate(ctx, in)
	})
}

// CandidateRef addresses a candidate.
type CandidateRef struct {
	Proposer common.Address `json:"proposer"`
	Slug     string         `json:"slug"`
}

// ValidateCancelCandidate requires the proposer of an open candidate.
func (a *Actions) ValidateCancelCandidate(ctx context.Context, in CandidateRef) (ve *txflow.ValidationError) {
	defer a.guard("cancel_candidate", &ve)
	account, ve := a.requireAccount()
	if ve != nil {
		return ve
	}
	c, ve := a.candidate(ctx, in.Proposer, in.Slug)
	if ve != nil {
		return ve
	}
	if !gov.SameAddress(account.Hex(), c.Proposer.Hex()) {
		return txflow.NewValidationError(txflow.KindUnauthorized)
	}
	return checkCandidateOpen(c)
}

// CancelCandidate submits cancelProposalCandidate.
func (a *Actions) CancelCandidate(ctx context.Context, tr *txflow.Tracker, in CandidateRef) error {
	return a.cancelBySlug(ctx, tr, in.Slug, txflow.TxCancelCandidate, "Cancel candidate",
		func(ctx context.Context) *txflow.ValidationError { return a.ValidateCancelCandidate(ctx, in) })
}

func (a *Actions) cancelBySlug(ctx context.Context, tr *txflow.Tracker, slug string, kind txflow.TxType, verb string, validate txflow.Validator) error {
	if ve := a.requireContracts(a.cfg.Data); ve != nil {
		return reject(tr, ve)
	}
	data, err := gov.PackCancelCandidate(slug)
	if err != nil {
		return reject(tr, txflow.ValidationFailed(err))
	}
	req := txflow.NewRequest(a.cfg.Data, data, nil, GasCancel)
	logging := txflow.Logging{Type: kind, Description: fmt.Sprintf("%s %s", verb, slug)}
	return tr.Submit(ctx, req, logging, validate)
}

// CreateTopicInput opens a discussion topic.
type CreateTopicInput struct {
	Title string `json:"title"`
	Body  string `json:"description"`
}

// TopicSlug is the slug a topic titled title is stored under.
func TopicSlug(title string) string {
	return gov.TopicSlugPrefix + Slugify(title)
}

// ValidateCreateTopic checks the content and the slug.
func (a *Actions) ValidateCreateTopic(ctx context.Context, in CreateTopicInput) (ve *txflow.ValidationError) {
	defer a.guard("create_topic", &ve)
	account, ve := a.requireAccount()
	if ve != nil {
		return ve
	}
	if ve := validateTitleBody(in.Title, in.Body); ve != nil {
		return ve
	}
	if Slugify(in.Title) == "" {
		return txflow.NewValidationError(txflow.KindMissingTitle)
	}
	return a.checkSlugFree(ctx, account, TopicSlug(in.Title))
}

// CreateTopic submits a candidate carrying the single no-op topic action.
func (a *Actions) CreateTopic(ctx context.Context, tr *txflow.Tracker, in CreateTopicInput) error {
	return a.createCandidate(ctx, tr, gov.TopicActions(), in.Title, in.Body, TopicSlug(in.Title), nil, txflow.TxCreateTopic,
		func(ctx context.Context) *txflow.ValidationError { return a.ValidateCreateTopic(ctx, in) })
}

// TopicRef addresses a topic.
type TopicRef struct {
	Creator common.Address `json:"creator"`
	Slug    string         `json:"slug"`
}

func (r TopicRef) slug() string {
	if strings.HasPrefix(r.Slug, gov.TopicSlugPrefix) {
		return r.Slug
	}
	return gov.TopicSlugPrefix + r.Slug
}

// ValidateCancelTopic requires the creator of an open topic.
func (a *Actions) ValidateCancelTopic(ctx context.Context, in TopicRef) (ve *txflow.ValidationError) {
	defer a.guard("cancel_topic", &ve)
	account, ve := a.requireAccount()
	if ve != nil {
		return ve
	}
	if a.indexer == nil {
		return txflow.NewValidationError(txflow.KindConfigError)
	}
	topic, err := a.indexer.Topic(ctx, in.Creator, in.slug())
	if err != nil {
		return indexerError(err, txflow.KindTopicNotFound)
	}
	if !gov.SameAddress(account.Hex(), topic.Creator.Hex()) {
		return txflow.NewValidationError(txflow.KindUnauthorized)
	}
	if topic.Canceled() {
		return txflow.NewValidationError(txflow.KindAlreadyCanceled)
	}
	return nil
}

// CancelTopic submits cancelProposalCandidate for the topic's slug.
func (a *Actions) CancelTopic(ctx context.Context, tr *txflow.Tracker, in TopicRef) error {
	return a.cancelBySlug(ctx, tr, in.slug(), txflow.TxCancelTopic, "Close topic",
		func(ctx context.Context) *txflow.ValidationError { return a.ValidateCancelTopic(ctx, in) })
}

// CandidateFeedbackInput is a signal on a candidate.
type CandidateFeedbackInput struct {
	Proposer common.Address  `json:"proposer"`
	Slug     string          `json:"slug"`
	Support  gov.VoteSupport `json:"support"`
	Reason   string          `json:"reason"`
}

// ValidateCandidateFeedback requires an open candidate and a valid support.
func (a *Actions) ValidateCandidateFeedback(ctx context.Context, in CandidateFeedbackInput) (ve *txflow.ValidationError) {
	defer a.guard("candidate_feedback", &ve)
	if _, ve := a.requireAccount(); ve != nil {
		return ve
	}
	if !in.Support.Valid() {
		return txflow.NewValidationError(txflow.KindInvalidState)
	}
	c, ve := a.candidate(ctx, in.Proposer, in.Slug)
	if ve != nil {
		return ve
	}
	return checkCandidateOpen(c)
}

// SendCandidateFeedback submits sendCandidateFeedback.
func (a *Actions) SendCandidateFeedback(ctx context.Context, tr *txflow.Tracker, in CandidateFeedbackInput) error {
	if ve := a.requireContracts(a.cfg.Data); ve != nil {
		return reject(tr, ve)
	}
	data, err := gov.PackCandidateFeedback(in.Proposer, in.Slug, in.Support, in.Reason)
	if err != nil {
		return reject(tr, txflow.ValidationFailed(err))
	}
	req := txflow.NewRequest(a.cfg.Data, data, nil, GasFeedback)
	logging := txflow.Logging{
		Type:        txflow.TxCandidateFeedback,
		Description: fmt.Sprintf("Feedback %s on %s by %s", supportNames[in.Support], in.Slug, shortAddress(in.Proposer)),
	}
	return tr.Submit(ctx, req, logging, func(ctx context.Context) *txflow.ValidationError {
		return a.ValidateCandidateFeedback(ctx, in)
	})
}

// CancelSignatureInput withdraws a sponsor signature from a candidate.
type CancelSignatureInput struct {
	Proposer  common.Address `json:"proposer"`
	Slug      string         `json:"slug"`
	Signature hexutil.Bytes  `json:"signature"`
}

// ValidateCancelSignature requires the caller to be the signer of a
// signature the candidate still carries.
func (a *Actions) ValidateCancelSignature(ctx context.Context, in CancelSignatureInput) (ve *txflow.ValidationError) {
	defer a.guard("cancel_signature", &ve)
	account, ve := a.requireAccount()
	if ve != nil {
		return ve
	}
	c, ve := a.candidate(ctx, in.Proposer, in.Slug)
	if ve != nil {
		return ve
	}
	for _, sig := range c.Signatures {
		if !bytes.Equal(sig.Signature, in.Signature) {
			continue
		}
		if sig.Signer != account {
			return txflow.NewValidationError(txflow.KindUnauthorized)
		}
		if sig.Canceled {
			return txflow.NewValidationError(txflow.KindAlreadyCanceled)
		}
		return nil
	}
	return txflow.NewValidationError(txflow.KindInvalidState)
}

// CancelSignature submits cancelSig(bytes) on the DAO.
func (a *Actions) CancelSignature(ctx context.Context, tr *txflow.Tracker, in CancelSignatureInput) error {
	if ve := a.requireContracts(a.cfg.DAO); ve != nil {
		return reject(tr, ve)
	}
	data, err := gov.PackCancelSig(in.Signature)
	if err != nil {
		return reject(tr, txflow.ValidationFailed(err))
	}
	req := txflow.NewRequest(a.cfg.DAO, data, nil, GasCancelSig)
	logging := txflow.Logging{Type: txflow.TxCancelSignature, Description: fmt.Sprintf("Cancel signature on %s", in.Slug)}
	return tr.Submit(ctx, req, logging, func(ctx context.Context) *txflow.ValidationError {
		return a.ValidateCancelSignature(ctx, in)
	})
}
