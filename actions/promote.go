package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"nounsgov/gov"
	"nounsgov/txflow"
)

// PromotionMode selects how a candidate becomes a proposal.
type PromotionMode string

const (
	// PromoteAuto uses the sponsors' signatures when any are valid and the
	// proposer's own votes otherwise.
	PromoteAuto PromotionMode = "auto"
	// PromoteSignatures requires at least one valid sponsor signature.
	PromoteSignatures PromotionMode = "signatures"
	// PromoteTokens ignores signatures and relies on the proposer's votes.
	PromoteTokens PromotionMode = "tokens"
)

// ParsePromotionMode accepts the mode names; empty means auto.
func ParsePromotionMode(raw string) (PromotionMode, error) {
	switch m := PromotionMode(strings.ToLower(strings.TrimSpace(raw))); m {
	case "":
		return PromoteAuto, nil
	case PromoteAuto, PromoteSignatures, PromoteTokens:
		return m, nil
	default:
		return "", fmt.Errorf("actions: unknown promotion mode %q", raw)
	}
}

// PromotionPath is the contract entry point a promotion goes through.
type PromotionPath string

const (
	PathTokens     PromotionPath = "tokens"
	PathSignatures PromotionPath = "signatures"
)

// SelectPath picks the promotion path for mode given the currently valid
// signatures.
func SelectPath(mode PromotionMode, valid []gov.ProposerSignature) (PromotionPath, *txflow.ValidationError) {
	switch mode {
	case PromoteTokens:
		return PathTokens, nil
	case PromoteSignatures:
		if len(valid) == 0 {
			return "", txflow.NewValidationError(txflow.KindSignaturesRequired)
		}
		return PathSignatures, nil
	case PromoteAuto, "":
		if len(valid) > 0 {
			return PathSignatures, nil
		}
		return PathTokens, nil
	default:
		return "", txflow.NewValidationError(txflow.KindInvalidState)
	}
}

// PromoteInput turns a candidate into a proposal.
type PromoteInput struct {
	Proposer      common.Address `json:"proposer"`
	Slug          string         `json:"slug"`
	Mode          PromotionMode  `json:"mode"`
	UpdateMessage string         `json:"updateMessage"`
}

// ValidatePromoteCandidate checks the candidate with the path its mode
// selects right now.
func (a *Actions) ValidatePromoteCandidate(ctx context.Context, in PromoteInput) (ve *txflow.ValidationError) {
	defer a.guard("promote_candidate", &ve)
	account, c, ve := a.promotable(ctx, in)
	if ve != nil {
		return ve
	}
	valid := gov.ValidSignatures(c.Signatures, a.now())
	path, ve := SelectPath(in.Mode, valid)
	if ve != nil {
		return ve
	}
	return a.validatePromotion(ctx, account, c, path, valid)
}

func (a *Actions) promotable(ctx context.Context, in PromoteInput) (common.Address, *gov.Candidate, *txflow.ValidationError) {
	account, ve := a.requireAccount()
	if ve != nil {
		return common.Address{}, nil, ve
	}
	c, ve := a.candidate(ctx, in.Proposer, in.Slug)
	if ve != nil {
		return common.Address{}, nil, ve
	}
	if ve := checkCandidateOpen(c); ve != nil {
		return common.Address{}, nil, ve
	}
	// proposeBySigs binds the signatures to msg.sender as proposer
	if c.Proposer != account {
		return common.Address{}, nil, txflow.NewValidationError(txflow.KindUnauthorized)
	}
	return account, c, nil
}

// validatePromotion checks one path with a fixed signature set.
func (a *Actions) validatePromotion(ctx context.Context, account common.Address, c *gov.Candidate, path PromotionPath, sigs []gov.ProposerSignature) *txflow.ValidationError {
	if strings.TrimSpace(c.Description) == "" {
		return txflow.NewValidationError(txflow.KindMissingDescription)
	}
	if path == PathTokens {
		if c.IsUpdate() {
			return txflow.NewValidationError(txflow.KindSignaturesRequired)
		}
		return a.checkProposer(ctx, account)
	}

	payload := gov.SponsorPayload{
		Proposer:           c.Proposer,
		ProposalIDToUpdate: c.ProposalIDToUpdate,
		Actions:            c.Actions,
		Description:        c.Description,
	}
	if ve := a.checkSignatures(sigs, payload); ve != nil {
		return ve
	}
	if c.IsUpdate() {
		_, ve := a.checkUpdatable(ctx, account, c.ProposalIDToUpdate)
		return ve
	}

	accounts := make([]common.Address, 0, len(sigs)+1)
	accounts = append(accounts, account)
	for _, sig := range sigs {
		accounts = append(accounts, sig.Signer)
	}
	votes, threshold, ve := a.votingPower(ctx, accounts...)
	if ve != nil {
		return ve
	}
	if !meetsThreshold(votes, threshold) {
		return txflow.NewValidationError(txflow.KindInsufficientVotes)
	}
	for _, acc := range accounts {
		live, ve := a.hasLiveProposal(ctx, acc)
		if ve != nil {
			return ve
		}
		if live {
			return txflow.NewValidationError(txflow.KindActiveProposalExists)
		}
	}
	return nil
}

// PromoteCandidate submits propose, proposeBySigs or, for candidates that
// update a live proposal, updateProposalBySigs. The path and signature set
// are fixed when the request is built and revalidated before sending.
func (a *Actions) PromoteCandidate(ctx context.Context, tr *txflow.Tracker, in PromoteInput) error {
	if ve := a.requireContracts(a.cfg.DAO); ve != nil {
		return reject(tr, ve)
	}
	c, ve := a.candidate(ctx, in.Proposer, in.Slug)
	if ve != nil {
		return reject(tr, ve)
	}
	if ve := checkCandidateOpen(c); ve != nil {
		return reject(tr, ve)
	}
	sigs := gov.ValidSignatures(c.Signatures, a.now())
	path, ve := SelectPath(in.Mode, sigs)
	if ve != nil {
		return reject(tr, ve)
	}

	var (
		data []byte
		err  error
		gas  = GasPropose
		kind = txflow.TxPromoteCandidate
	)
	switch {
	case path == PathSignatures && c.IsUpdate():
		data, err = gov.PackUpdateProposalBySigs(c.ProposalIDToUpdate, sigs, c.Actions, c.Description, in.UpdateMessage)
		gas, kind = GasProposeBySigs, txflow.TxUpdateProposalBySigs
	case path == PathSignatures:
		data, err = gov.PackProposeBySigs(sigs, c.Actions, c.Description)
		gas, kind = GasProposeBySigs, txflow.TxProposeBySigs
	default:
		data, err = gov.PackPropose(c.Actions, c.Description)
	}
	if err != nil {
		return reject(tr, txflow.ValidationFailed(err))
	}
	req := txflow.NewRequest(a.cfg.DAO, data, nil, gas)
	logging := txflow.Logging{Type: kind, Description: fmt.Sprintf("Promote %s via %s", c.Slug, path)}
	return tr.Submit(ctx, req, logging, func(ctx context.Context) (ve *txflow.ValidationError) {
		defer a.guard("promote_candidate", &ve)
		account, fresh, ve := a.promotable(ctx, in)
		if ve != nil {
			return ve
		}
		return a.validatePromotion(ctx, account, fresh, path, sigs)
	})
}
