package actions

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"nounsgov/chain"
	"nounsgov/gov"
	"nounsgov/txflow"
)

// read runs calls as one Multicall3 batch. When the batch itself fails every
// result is reported as failed, so callers can fall back per call.
func (a *Actions) read(ctx context.Context, calls ...chain.Call) ([]chain.Result, error) {
	results, err := a.multicall.Aggregate3(ctx, calls)
	if err != nil {
		return make([]chain.Result, len(calls)), err
	}
	return results, nil
}

func callOf(contract abi.ABI, target common.Address, method string, args ...interface{}) chain.Call {
	c, err := chain.NewCall(contract, target, method, args...)
	if err != nil {
		// argument types are fixed at compile time; the validator guard
		// converts this into VALIDATION_ERROR
		panic(err)
	}
	return c
}

func resultErr(r chain.Result, batchErr error) error {
	if batchErr != nil {
		return batchErr
	}
	return r.Err()
}

// votingPower reads the current votes of each account and the proposal
// threshold in one batch. Vote reads that fail are answered by the indexer's
// delegate record.
func (a *Actions) votingPower(ctx context.Context, accounts ...common.Address) ([]Sourced[*big.Int], *big.Int, *txflow.ValidationError) {
	if ve := a.requireContracts(a.cfg.DAO, a.cfg.Token); ve != nil {
		return nil, nil, ve
	}
	calls := make([]chain.Call, 0, len(accounts)+1)
	for _, acc := range accounts {
		calls = append(calls, callOf(gov.TokenABI, a.cfg.Token, "getCurrentVotes", acc))
	}
	calls = append(calls, callOf(gov.DAOABI, a.cfg.DAO, "proposalThreshold"))
	results, batchErr := a.read(ctx, calls...)

	last := results[len(accounts)]
	if err := resultErr(last, batchErr); err != nil {
		return nil, nil, txflow.WithDetail(txflow.KindContractError, fmt.Errorf("proposalThreshold: %w", err))
	}
	threshold, err := gov.DecodeBig(gov.DAOABI, "proposalThreshold", last.ReturnData)
	if err != nil {
		return nil, nil, txflow.WithDetail(txflow.KindContractError, err)
	}

	votes := make([]Sourced[*big.Int], len(accounts))
	for i, acc := range accounts {
		err := resultErr(results[i], batchErr)
		if err == nil {
			v, derr := gov.DecodeBig(gov.TokenABI, "getCurrentVotes", results[i].ReturnData)
			if derr == nil {
				votes[i] = fromContract(v)
				continue
			}
			err = derr
		}
		if a.indexer != nil {
			if v, ierr := a.indexer.DelegateVotes(ctx, acc); ierr == nil {
				a.fallback("current_votes", TierSubgraph, err)
				votes[i] = fromSubgraph(v)
				continue
			}
		}
		return nil, nil, txflow.WithDetail(txflow.KindContractError, fmt.Errorf("getCurrentVotes %s: %w", acc.Hex(), err))
	}
	return votes, threshold, nil
}

// meetsThreshold reports whether the summed votes reach the threshold.
// The comparison is inclusive; the DAO contract itself requires strictly more.
func meetsThreshold(votes []Sourced[*big.Int], threshold *big.Int) bool {
	sum := new(big.Int)
	for _, v := range votes {
		if v.Value != nil {
			sum.Add(sum, v.Value)
		}
	}
	return sum.Cmp(threshold) >= 0
}

// hasLiveProposal reports whether account's latest proposal still blocks a
// new one.
func (a *Actions) hasLiveProposal(ctx context.Context, account common.Address) (bool, *txflow.ValidationError) {
	if ve := a.requireContracts(a.cfg.DAO); ve != nil {
		return false, ve
	}
	results, batchErr := a.read(ctx, callOf(gov.DAOABI, a.cfg.DAO, "latestProposalIds", account))
	if err := resultErr(results[0], batchErr); err != nil {
		return false, txflow.WithDetail(txflow.KindContractError, fmt.Errorf("latestProposalIds: %w", err))
	}
	id, err := gov.DecodeBig(gov.DAOABI, "latestProposalIds", results[0].ReturnData)
	if err != nil {
		return false, txflow.WithDetail(txflow.KindContractError, err)
	}
	if id.Sign() == 0 {
		return false, nil
	}
	state, ve := a.proposalState(ctx, id)
	if ve != nil {
		return false, ve
	}
	return state.Value.Live(), nil
}

// proposalState reads state(id), falling back to the indexer's status.
func (a *Actions) proposalState(ctx context.Context, id *big.Int) (Sourced[gov.ProposalState], *txflow.ValidationError) {
	if ve := a.requireContracts(a.cfg.DAO); ve != nil {
		return Sourced[gov.ProposalState]{}, ve
	}
	results, batchErr := a.read(ctx, callOf(gov.DAOABI, a.cfg.DAO, "state", id))
	err := resultErr(results[0], batchErr)
	if err == nil {
		state, derr := gov.DecodeState(results[0].ReturnData)
		if derr == nil {
			return fromContract(state), nil
		}
		err = derr
	}
	if a.indexer == nil {
		return Sourced[gov.ProposalState]{}, txflow.WithDetail(txflow.KindContractError, err)
	}
	p, ierr := a.indexer.Proposal(ctx, id)
	if ierr != nil {
		return Sourced[gov.ProposalState]{}, indexerError(ierr, txflow.KindProposalNotFound)
	}
	state, ok := gov.ParseProposalState(p.Status)
	if !ok {
		return Sourced[gov.ProposalState]{}, txflow.WithDetail(txflow.KindContractError, fmt.Errorf("unknown proposal status %q", p.Status))
	}
	a.fallback("proposal_state", TierSubgraph, err)
	return fromSubgraph(state), nil
}

// proposalInfo is the part of a proposal validators need.
type proposalInfo struct {
	Proposer   common.Address
	Signers    []common.Address
	StartBlock uint64
	EndBlock   uint64
}

func infoFromV3(p gov.ProposalV3) proposalInfo {
	return proposalInfo{
		Proposer:   p.Proposer,
		Signers:    p.Signers,
		StartBlock: p.StartBlock.Uint64(),
		EndBlock:   p.EndBlock.Uint64(),
	}
}

func infoFromIndexer(p *gov.Proposal) proposalInfo {
	return proposalInfo{
		Proposer:   p.Proposer,
		Signers:    p.Signers,
		StartBlock: p.StartBlock,
		EndBlock:   p.EndBlock,
	}
}

// decodeProposalInfo interprets a proposalsV3 result. A zero id means the
// proposal does not exist.
func (a *Actions) decodeProposalInfo(ctx context.Context, id *big.Int, r chain.Result, batchErr error) (Sourced[proposalInfo], *txflow.ValidationError) {
	err := resultErr(r, batchErr)
	if err == nil {
		p, derr := gov.DecodeProposalV3(r.ReturnData)
		if derr == nil {
			if p.Id == nil || p.Id.Sign() == 0 {
				return Sourced[proposalInfo]{}, txflow.NewValidationError(txflow.KindProposalNotFound)
			}
			return fromContract(infoFromV3(p)), nil
		}
		err = derr
	}
	if a.indexer == nil {
		return Sourced[proposalInfo]{}, txflow.WithDetail(txflow.KindContractError, err)
	}
	p, ierr := a.indexer.Proposal(ctx, id)
	if ierr != nil {
		return Sourced[proposalInfo]{}, indexerError(ierr, txflow.KindProposalNotFound)
	}
	a.fallback("proposal", TierSubgraph, err)
	return fromSubgraph(infoFromIndexer(p)), nil
}

func (a *Actions) proposal(ctx context.Context, id *big.Int) (Sourced[proposalInfo], *txflow.ValidationError) {
	if ve := a.requireContracts(a.cfg.DAO); ve != nil {
		return Sourced[proposalInfo]{}, ve
	}
	results, batchErr := a.read(ctx, callOf(gov.DAOABI, a.cfg.DAO, "proposalsV3", id))
	return a.decodeProposalInfo(ctx, id, results[0], batchErr)
}

// candidateCost reads createCandidateCost or updateCandidateCost.
func (a *Actions) candidateCost(ctx context.Context, method string) (*big.Int, *txflow.ValidationError) {
	if ve := a.requireContracts(a.cfg.Data); ve != nil {
		return nil, ve
	}
	results, batchErr := a.read(ctx, callOf(gov.DataABI, a.cfg.Data, method))
	if err := resultErr(results[0], batchErr); err != nil {
		return nil, txflow.WithDetail(txflow.KindContractError, fmt.Errorf("%s: %w", method, err))
	}
	cost, err := gov.DecodeBig(gov.DataABI, method, results[0].ReturnData)
	if err != nil {
		return nil, txflow.WithDetail(txflow.KindContractError, err)
	}
	return cost, nil
}

func validProposalID(id *big.Int) bool {
	return id != nil && id.Sign() > 0
}
