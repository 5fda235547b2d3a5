package gov

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// signatureArg is the tuple shape proposeBySigs and updateProposalBySigs take.
// Field names follow the ABI component names.
type signatureArg struct {
	Sig                 []byte
	Signer              common.Address
	ExpirationTimestamp *big.Int
}

func signatureArgs(sigs []ProposerSignature) []signatureArg {
	out := make([]signatureArg, len(sigs))
	for i, s := range sigs {
		out[i] = signatureArg{Sig: common.CopyBytes(s.Signature), Signer: s.Signer, ExpirationTimestamp: bigOrZero(s.ExpirationTimestamp)}
	}
	return out
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func pack(contract abi.ABI, method string, args ...interface{}) ([]byte, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("gov: pack %s: %w", method, err)
	}
	return data, nil
}

// PackPropose encodes propose(address[],uint256[],string[],bytes[],string).
func PackPropose(actions Actions, description string) ([]byte, error) {
	targets, values, sigs, calldatas := actions.Split()
	return pack(DAOABI, "propose", targets, values, sigs, calldatas, description)
}

// PackProposeBySigs encodes proposeBySigs with the co-signer tuples first.
func PackProposeBySigs(signatures []ProposerSignature, actions Actions, description string) ([]byte, error) {
	targets, values, sigs, calldatas := actions.Split()
	return pack(DAOABI, "proposeBySigs", signatureArgs(signatures), targets, values, sigs, calldatas, description)
}

// PackUpdateProposal encodes a full update of actions and description.
func PackUpdateProposal(proposalID *big.Int, actions Actions, description, updateMessage string) ([]byte, error) {
	targets, values, sigs, calldatas := actions.Split()
	return pack(DAOABI, "updateProposal", bigOrZero(proposalID), targets, values, sigs, calldatas, description, updateMessage)
}

// PackUpdateProposalDescription encodes a description-only update.
func PackUpdateProposalDescription(proposalID *big.Int, description, updateMessage string) ([]byte, error) {
	return pack(DAOABI, "updateProposalDescription", bigOrZero(proposalID), description, updateMessage)
}

// PackUpdateProposalTransactions encodes an actions-only update.
func PackUpdateProposalTransactions(proposalID *big.Int, actions Actions, updateMessage string) ([]byte, error) {
	targets, values, sigs, calldatas := actions.Split()
	return pack(DAOABI, "updateProposalTransactions", bigOrZero(proposalID), targets, values, sigs, calldatas, updateMessage)
}

// PackUpdateProposalBySigs encodes an update backed by fresh co-signatures.
func PackUpdateProposalBySigs(proposalID *big.Int, signatures []ProposerSignature, actions Actions, description, updateMessage string) ([]byte, error) {
	targets, values, sigs, calldatas := actions.Split()
	return pack(DAOABI, "updateProposalBySigs", bigOrZero(proposalID), signatureArgs(signatures), targets, values, sigs, calldatas, description, updateMessage)
}

// PackCastVote encodes castRefundableVote, or castRefundableVoteWithReason
// when reason is non-empty.
func PackCastVote(proposalID *big.Int, support VoteSupport, reason string) ([]byte, error) {
	if reason == "" {
		return pack(DAOABI, "castRefundableVote", bigOrZero(proposalID), uint8(support))
	}
	return pack(DAOABI, "castRefundableVoteWithReason", bigOrZero(proposalID), uint8(support), reason)
}

// PackCancelProposal encodes cancel(uint256).
func PackCancelProposal(proposalID *big.Int) ([]byte, error) {
	return pack(DAOABI, "cancel", bigOrZero(proposalID))
}

// PackQueueProposal encodes queue(uint256).
func PackQueueProposal(proposalID *big.Int) ([]byte, error) {
	return pack(DAOABI, "queue", bigOrZero(proposalID))
}

// PackExecuteProposal encodes execute(uint256).
func PackExecuteProposal(proposalID *big.Int) ([]byte, error) {
	return pack(DAOABI, "execute", bigOrZero(proposalID))
}

// PackCancelSig encodes cancelSig(bytes).
func PackCancelSig(sig []byte) ([]byte, error) {
	return pack(DAOABI, "cancelSig", common.CopyBytes(sig))
}

// PackCreateCandidate encodes createProposalCandidate on the data contract.
func PackCreateCandidate(actions Actions, description, slug string, proposalIDToUpdate *big.Int) ([]byte, error) {
	targets, values, sigs, calldatas := actions.Split()
	return pack(DataABI, "createProposalCandidate", targets, values, sigs, calldatas, description, slug, bigOrZero(proposalIDToUpdate))
}

// PackUpdateCandidate encodes updateProposalCandidate on the data contract.
func PackUpdateCandidate(actions Actions, description, slug string, proposalIDToUpdate *big.Int, reason string) ([]byte, error) {
	targets, values, sigs, calldatas := actions.Split()
	return pack(DataABI, "updateProposalCandidate", targets, values, sigs, calldatas, description, slug, bigOrZero(proposalIDToUpdate), reason)
}

// PackCancelCandidate encodes cancelProposalCandidate(string).
func PackCancelCandidate(slug string) ([]byte, error) {
	return pack(DataABI, "cancelProposalCandidate", slug)
}

// PackAddSignature encodes addSignature on the data contract.
func PackAddSignature(sig []byte, expiry *big.Int, proposer common.Address, slug string, proposalIDToUpdate *big.Int, encodedProp []byte, reason string) ([]byte, error) {
	return pack(DataABI, "addSignature", common.CopyBytes(sig), bigOrZero(expiry), proposer, slug, bigOrZero(proposalIDToUpdate), common.CopyBytes(encodedProp), reason)
}

// PackCandidateFeedback encodes sendCandidateFeedback.
func PackCandidateFeedback(proposer common.Address, slug string, support VoteSupport, reason string) ([]byte, error) {
	return pack(DataABI, "sendCandidateFeedback", proposer, slug, uint8(support), reason)
}

// PackProposalFeedback encodes sendFeedback.
func PackProposalFeedback(proposalID *big.Int, support VoteSupport, reason string) ([]byte, error) {
	return pack(DataABI, "sendFeedback", bigOrZero(proposalID), uint8(support), reason)
}

// PackBuyNow encodes the VRGDA pool's buyNow(uint256,uint256).
func PackBuyNow(expectedBlock, expectedNounID *big.Int) ([]byte, error) {
	return pack(PoolABI, "buyNow", bigOrZero(expectedBlock), bigOrZero(expectedNounID))
}

// PackApprove encodes ERC-20 approve(address,uint256).
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return pack(TokenABI, "approve", spender, bigOrZero(amount))
}

// ProposalV3 is the condensed proposal returned by proposalsV3(uint256). Field
// names and order follow the ABI tuple so results can be converted directly.
type ProposalV3 struct {
	Id                      *big.Int
	Proposer                common.Address
	ProposalThreshold       *big.Int
	QuorumVotes             *big.Int
	Eta                     *big.Int
	StartBlock              *big.Int
	EndBlock                *big.Int
	ForVotes                *big.Int
	AgainstVotes            *big.Int
	AbstainVotes            *big.Int
	Canceled                bool
	Vetoed                  bool
	Executed                bool
	TotalSupply             *big.Int
	CreationBlock           *big.Int
	Signers                 []common.Address
	UpdatePeriodEndBlock    *big.Int
	ObjectionPeriodEndBlock *big.Int
	ExecuteOnTimelockV1     bool
}

// VoteReceipt is the result of getReceipt(uint256,address).
type VoteReceipt struct {
	HasVoted bool
	Support  uint8
	Votes    *big.Int
}

// FetchedNoun is the subset of fetchNoun(uint256) the auction flow consumes.
type FetchedNoun struct {
	NounID *big.Int
	Price  *big.Int
	Hash   common.Hash
}

// DecodeProposalV3 unpacks the return data of proposalsV3.
func DecodeProposalV3(data []byte) (ProposalV3, error) {
	out, err := DAOABI.Unpack("proposalsV3", data)
	if err != nil {
		return ProposalV3{}, fmt.Errorf("gov: unpack proposalsV3: %w", err)
	}
	if len(out) != 1 {
		return ProposalV3{}, fmt.Errorf("gov: unpack proposalsV3: %d outputs", len(out))
	}
	return *abi.ConvertType(out[0], new(ProposalV3)).(*ProposalV3), nil
}

// DecodeVoteReceipt unpacks the return data of getReceipt.
func DecodeVoteReceipt(data []byte) (VoteReceipt, error) {
	out, err := DAOABI.Unpack("getReceipt", data)
	if err != nil {
		return VoteReceipt{}, fmt.Errorf("gov: unpack getReceipt: %w", err)
	}
	if len(out) != 1 {
		return VoteReceipt{}, fmt.Errorf("gov: unpack getReceipt: %d outputs", len(out))
	}
	return *abi.ConvertType(out[0], new(VoteReceipt)).(*VoteReceipt), nil
}

// DecodeFetchNoun unpacks the return data of fetchNoun.
func DecodeFetchNoun(data []byte) (FetchedNoun, error) {
	out, err := PoolABI.Unpack("fetchNoun", data)
	if err != nil {
		return FetchedNoun{}, fmt.Errorf("gov: unpack fetchNoun: %w", err)
	}
	if len(out) != 5 {
		return FetchedNoun{}, fmt.Errorf("gov: unpack fetchNoun: %d outputs", len(out))
	}
	id, ok1 := out[0].(*big.Int)
	price, ok2 := out[3].(*big.Int)
	hash, ok3 := out[4].([32]byte)
	if !ok1 || !ok2 || !ok3 {
		return FetchedNoun{}, fmt.Errorf("gov: unpack fetchNoun: unexpected output types")
	}
	return FetchedNoun{NounID: id, Price: price, Hash: common.Hash(hash)}, nil
}

// DecodeBig unpacks a single integer return value such as proposalThreshold,
// getCurrentVotes or poolSize.
func DecodeBig(contract abi.ABI, method string, data []byte) (*big.Int, error) {
	out, err := contract.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("gov: unpack %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("gov: unpack %s: %d outputs", method, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("gov: unpack %s: unexpected %T", method, out[0])
	}
	return v, nil
}

// DecodeState unpacks the return data of state(uint256).
func DecodeState(data []byte) (ProposalState, error) {
	out, err := DAOABI.Unpack("state", data)
	if err != nil {
		return 0, fmt.Errorf("gov: unpack state: %w", err)
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("gov: unpack state: %d outputs", len(out))
	}
	v, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("gov: unpack state: unexpected %T", out[0])
	}
	return ProposalState(v), nil
}
