package actions

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"nounsgov/gov"
	"nounsgov/txflow"
)

// SponsorInput co-signs a candidate. A nil Expiry uses the default
// signature lifetime.
type SponsorInput struct {
	Proposer common.Address `json:"proposer"`
	Slug     string         `json:"slug"`
	Expiry   *big.Int       `json:"expirationTimestamp,omitempty"`
	Reason   string         `json:"reason"`
}

// ValidateSponsorCandidate requires an open candidate, a future expiry and a
// signer without a live proposal of their own.
func (a *Actions) ValidateSponsorCandidate(ctx context.Context, in SponsorInput) (ve *txflow.ValidationError) {
	defer a.guard("sponsor_candidate", &ve)
	signer, ve := a.requireAccount()
	if ve != nil {
		return ve
	}
	if in.Expiry != nil && in.Expiry.Cmp(big.NewInt(a.now().Unix())) <= 0 {
		return txflow.NewValidationError(txflow.KindInvalidState)
	}
	c, ve := a.candidate(ctx, in.Proposer, in.Slug)
	if ve != nil {
		return ve
	}
	if ve := checkCandidateOpen(c); ve != nil {
		return ve
	}
	if strings.TrimSpace(c.Description) == "" {
		return txflow.NewValidationError(txflow.KindMissingDescription)
	}
	live, ve := a.hasLiveProposal(ctx, signer)
	if ve != nil {
		return ve
	}
	if live {
		return txflow.NewValidationError(txflow.KindActiveProposalExists)
	}
	return nil
}

// SponsorCandidate validates, asks the wallet for an EIP-712 signature over
// the candidate's exact content and submits addSignature on the data
// contract. Nothing is signed when validation fails.
func (a *Actions) SponsorCandidate(ctx context.Context, tr *txflow.Tracker, in SponsorInput) error {
	if tr.Busy() {
		return txflow.ErrSubmissionInFlight
	}
	if ve := a.requireContracts(a.cfg.DAO, a.cfg.Data); ve != nil {
		return reject(tr, ve)
	}
	if in.Expiry == nil {
		in.Expiry = expiryFrom(a.now(), a.sigTTL)
	}
	if ve := a.ValidateSponsorCandidate(ctx, in); ve != nil {
		return reject(tr, ve)
	}
	signer, _ := a.account()
	c, ve := a.candidate(ctx, in.Proposer, in.Slug)
	if ve != nil {
		return reject(tr, ve)
	}

	payload := gov.SponsorPayload{
		Proposer:           c.Proposer,
		ProposalIDToUpdate: c.ProposalIDToUpdate,
		Actions:            c.Actions,
		Description:        c.Description,
		Expiry:             in.Expiry,
	}
	typed := gov.TypedData(a.cfg.Domain(), payload)
	sig, err := tr.Sign(ctx, func(ctx context.Context) ([]byte, error) {
		return a.session.SignTypedData(ctx, typed)
	})
	if err != nil {
		return err
	}
	digest, err := gov.ContractDigest(a.cfg.Domain(), payload)
	if err != nil {
		return reject(tr, txflow.ValidationFailed(err))
	}
	if recovered, err := gov.RecoverSigner(digest, sig); err != nil || recovered != signer {
		return reject(tr, txflow.ValidationFailed(fmt.Errorf("signature does not recover to %s", signer.Hex())))
	}
	encoded, err := gov.EncodeProp(payload)
	if err != nil {
		return reject(tr, txflow.ValidationFailed(err))
	}
	data, err := gov.PackAddSignature(sig, in.Expiry, c.Proposer, c.Slug, c.ProposalIDToUpdate, encoded, in.Reason)
	if err != nil {
		return reject(tr, txflow.ValidationFailed(err))
	}
	req := txflow.NewRequest(a.cfg.Data, data, nil, GasAddSignature)
	logging := txflow.Logging{
		Type:        txflow.TxSponsorCandidate,
		Description: fmt.Sprintf("Sponsor %s by %s", c.Slug, shortAddress(c.Proposer)),
	}
	return tr.Submit(ctx, req, logging, func(ctx context.Context) *txflow.ValidationError {
		return a.ValidateSponsorCandidate(ctx, in)
	})
}
