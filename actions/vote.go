package actions

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"nounsgov/chain"
	"nounsgov/gov"
	"nounsgov/txflow"
)

// CastVoteInput is a ballot on a proposal.
type CastVoteInput struct {
	ProposalID *big.Int        `json:"proposalId"`
	Support    gov.VoteSupport `json:"support"`
	Reason     string          `json:"reason"`
}

var supportNames = map[gov.VoteSupport]string{
	gov.VoteAgainst: "AGAINST",
	gov.VoteFor:     "FOR",
	gov.VoteAbstain: "ABSTAIN",
}

// ValidateCastVote checks the voter has not voted and that the current block
// is inside the voting window. The receipt and the window are read in the
// same batch as the block number.
func (a *Actions) ValidateCastVote(ctx context.Context, in CastVoteInput) (ve *txflow.ValidationError) {
	defer a.guard("cast_vote", &ve)
	voter, ve := a.requireAccount()
	if ve != nil {
		return ve
	}
	if !in.Support.Valid() {
		return txflow.NewValidationError(txflow.KindInvalidState)
	}
	if !validProposalID(in.ProposalID) {
		return txflow.NewValidationError(txflow.KindProposalNotFound)
	}
	if ve := a.requireContracts(a.cfg.DAO); ve != nil {
		return ve
	}

	results, batchErr := a.read(ctx,
		callOf(gov.DAOABI, a.cfg.DAO, "getReceipt", in.ProposalID, voter),
		callOf(gov.DAOABI, a.cfg.DAO, "proposalsV3", in.ProposalID),
		a.multicall.BlockNumberCall(),
	)

	voted, ve := a.hasVoted(ctx, in.ProposalID, voter, results[0], batchErr)
	if ve != nil {
		return ve
	}
	if voted.Value {
		return txflow.NewValidationError(txflow.KindAlreadyVoted)
	}

	info, ve := a.decodeProposalInfo(ctx, in.ProposalID, results[1], batchErr)
	if ve != nil {
		return ve
	}

	current, ve := a.currentBlock(ctx, results[2], batchErr)
	if ve != nil {
		return ve
	}
	switch {
	case current < info.Value.StartBlock:
		return txflow.NewValidationError(txflow.KindVotingNotStarted)
	case current > info.Value.EndBlock:
		return txflow.NewValidationError(txflow.KindVotingEnded)
	}
	return nil
}

// hasVoted reads the vote receipt, falling back to the indexer's vote list.
func (a *Actions) hasVoted(ctx context.Context, id *big.Int, voter common.Address, r chain.Result, batchErr error) (Sourced[bool], *txflow.ValidationError) {
	err := resultErr(r, batchErr)
	if err == nil {
		receipt, derr := gov.DecodeVoteReceipt(r.ReturnData)
		if derr == nil {
			return fromContract(receipt.HasVoted), nil
		}
		err = derr
	}
	if a.indexer == nil {
		return Sourced[bool]{}, txflow.WithDetail(txflow.KindContractError, err)
	}
	votes, ierr := a.indexer.ProposalVotes(ctx, id)
	if ierr != nil {
		return Sourced[bool]{}, indexerError(ierr, txflow.KindProposalNotFound)
	}
	a.fallback("vote_receipt", TierSubgraph, err)
	for _, v := range votes {
		if v.Voter == voter {
			return fromSubgraph(true), nil
		}
	}
	return fromSubgraph(false), nil
}

// currentBlock takes the batch's block number, or asks the node directly.
func (a *Actions) currentBlock(ctx context.Context, r chain.Result, batchErr error) (uint64, *txflow.ValidationError) {
	if batchErr == nil {
		if n, err := chain.DecodeBlockNumber(r); err == nil && n.IsUint64() {
			return n.Uint64(), nil
		}
	}
	n, err := a.chain.BlockNumber(ctx)
	if err != nil {
		return 0, txflow.WithDetail(txflow.KindNetworkError, err)
	}
	return n, nil
}

// CastVote submits castRefundableVote, or its WithReason variant when a
// reason is given.
func (a *Actions) CastVote(ctx context.Context, tr *txflow.Tracker, in CastVoteInput) error {
	if ve := a.requireContracts(a.cfg.DAO); ve != nil {
		return reject(tr, ve)
	}
	if !validProposalID(in.ProposalID) {
		return reject(tr, txflow.NewValidationError(txflow.KindProposalNotFound))
	}
	if !in.Support.Valid() {
		return reject(tr, txflow.NewValidationError(txflow.KindInvalidState))
	}
	data, err := gov.PackCastVote(in.ProposalID, in.Support, strings.TrimSpace(in.Reason))
	if err != nil {
		return reject(tr, txflow.ValidationFailed(err))
	}
	req := txflow.NewRequest(a.cfg.DAO, data, nil, GasCastVote)
	logging := txflow.Logging{
		Type:        txflow.TxCastVote,
		Description: fmt.Sprintf("Vote %s on proposal %s", supportNames[in.Support], in.ProposalID),
	}
	return tr.Submit(ctx, req, logging, func(ctx context.Context) *txflow.ValidationError {
		return a.ValidateCastVote(ctx, in)
	})
}
