package gov

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract ABIs, reduced to the functions this module calls. Function
// signatures must match the deployed contracts exactly.
const daoABIJSON = `[
 {"type":"function","name":"propose","stateMutability":"nonpayable","inputs":[
  {"name":"targets","type":"address[]"},{"name":"values","type":"uint256[]"},
  {"name":"signatures","type":"string[]"},{"name":"calldatas","type":"bytes[]"},
  {"name":"description","type":"string"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"proposeBySigs","stateMutability":"nonpayable","inputs":[
  {"name":"proposerSignatures","type":"tuple[]","components":[
   {"name":"sig","type":"bytes"},{"name":"signer","type":"address"},{"name":"expirationTimestamp","type":"uint256"}]},
  {"name":"targets","type":"address[]"},{"name":"values","type":"uint256[]"},
  {"name":"signatures","type":"string[]"},{"name":"calldatas","type":"bytes[]"},
  {"name":"description","type":"string"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"updateProposal","stateMutability":"nonpayable","inputs":[
  {"name":"proposalId","type":"uint256"},
  {"name":"targets","type":"address[]"},{"name":"values","type":"uint256[]"},
  {"name":"signatures","type":"string[]"},{"name":"calldatas","type":"bytes[]"},
  {"name":"description","type":"string"},{"name":"updateMessage","type":"string"}],"outputs":[]},
 {"type":"function","name":"updateProposalDescription","stateMutability":"nonpayable","inputs":[
  {"name":"proposalId","type":"uint256"},{"name":"description","type":"string"},
  {"name":"updateMessage","type":"string"}],"outputs":[]},
 {"type":"function","name":"updateProposalTransactions","stateMutability":"nonpayable","inputs":[
  {"name":"proposalId","type":"uint256"},
  {"name":"targets","type":"address[]"},{"name":"values","type":"uint256[]"},
  {"name":"signatures","type":"string[]"},{"name":"calldatas","type":"bytes[]"},
  {"name":"updateMessage","type":"string"}],"outputs":[]},
 {"type":"function","name":"updateProposalBySigs","stateMutability":"nonpayable","inputs":[
  {"name":"proposalId","type":"uint256"},
  {"name":"proposerSignatures","type":"tuple[]","components":[
   {"name":"sig","type":"bytes"},{"name":"signer","type":"address"},{"name":"expirationTimestamp","type":"uint256"}]},
  {"name":"targets","type":"address[]"},{"name":"values","type":"uint256[]"},
  {"name":"signatures","type":"string[]"},{"name":"calldatas","type":"bytes[]"},
  {"name":"description","type":"string"},{"name":"updateMessage","type":"string"}],"outputs":[]},
 {"type":"function","name":"castRefundableVote","stateMutability":"nonpayable","inputs":[
  {"name":"proposalId","type":"uint256"},{"name":"support","type":"uint8"}],"outputs":[]},
 {"type":"function","name":"castRefundableVoteWithReason","stateMutability":"nonpayable","inputs":[
  {"name":"proposalId","type":"uint256"},{"name":"support","type":"uint8"},{"name":"reason","type":"string"}],"outputs":[]},
 {"type":"function","name":"cancel","stateMutability":"nonpayable","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"queue","stateMutability":"nonpayable","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"execute","stateMutability":"nonpayable","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"cancelSig","stateMutability":"nonpayable","inputs":[{"name":"sig","type":"bytes"}],"outputs":[]},
 {"type":"function","name":"proposalThreshold","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"latestProposalIds","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"state","stateMutability":"view","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[{"name":"","type":"uint8"}]},
 {"type":"function","name":"getReceipt","stateMutability":"view","inputs":[
  {"name":"proposalId","type":"uint256"},{"name":"voter","type":"address"}],"outputs":[
  {"name":"","type":"tuple","components":[
   {"name":"hasVoted","type":"bool"},{"name":"support","type":"uint8"},{"name":"votes","type":"uint96"}]}]},
 {"type":"function","name":"proposalsV3","stateMutability":"view","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[
  {"name":"","type":"tuple","components":[
   {"name":"id","type":"uint256"},{"name":"proposer","type":"address"},
   {"name":"proposalThreshold","type":"uint256"},{"name":"quorumVotes","type":"uint256"},
   {"name":"eta","type":"uint256"},{"name":"startBlock","type":"uint256"},{"name":"endBlock","type":"uint256"},
   {"name":"forVotes","type":"uint256"},{"name":"againstVotes","type":"uint256"},{"name":"abstainVotes","type":"uint256"},
   {"name":"canceled","type":"bool"},{"name":"vetoed","type":"bool"},{"name":"executed","type":"bool"},
   {"name":"totalSupply","type":"uint256"},{"name":"creationBlock","type":"uint256"},
   {"name":"signers","type":"address[]"},{"name":"updatePeriodEndBlock","type":"uint256"},
   {"name":"objectionPeriodEndBlock","type":"uint256"},{"name":"executeOnTimelockV1","type":"bool"}]}]}
]`

const dataABIJSON = `[
 {"type":"function","name":"createProposalCandidate","stateMutability":"payable","inputs":[
  {"name":"targets","type":"address[]"},{"name":"values","type":"uint256[]"},
  {"name":"signatures","type":"string[]"},{"name":"calldatas","type":"bytes[]"},
  {"name":"description","type":"string"},{"name":"slug","type":"string"},
  {"name":"proposalIdToUpdate","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"updateProposalCandidate","stateMutability":"payable","inputs":[
  {"name":"targets","type":"address[]"},{"name":"values","type":"uint256[]"},
  {"name":"signatures","type":"string[]"},{"name":"calldatas","type":"bytes[]"},
  {"name":"description","type":"string"},{"name":"slug","type":"string"},
  {"name":"proposalIdToUpdate","type":"uint256"},{"name":"reason","type":"string"}],"outputs":[]},
 {"type":"function","name":"cancelProposalCandidate","stateMutability":"nonpayable","inputs":[
  {"name":"slug","type":"string"}],"outputs":[]},
 {"type":"function","name":"addSignature","stateMutability":"nonpayable","inputs":[
  {"name":"sig","type":"bytes"},{"name":"expirationTimestamp","type":"uint256"},
  {"name":"proposer","type":"address"},{"name":"slug","type":"string"},
  {"name":"proposalIdToUpdate","type":"uint256"},{"name":"encodedProp","type":"bytes"},
  {"name":"reason","type":"string"}],"outputs":[]},
 {"type":"function","name":"sendCandidateFeedback","stateMutability":"nonpayable","inputs":[
  {"name":"proposer","type":"address"},{"name":"slug","type":"string"},
  {"name":"support","type":"uint8"},{"name":"reason","type":"string"}],"outputs":[]},
 {"type":"function","name":"sendFeedback","stateMutability":"nonpayable","inputs":[
  {"name":"proposalId","type":"uint256"},{"name":"support","type":"uint8"},
  {"name":"reason","type":"string"}],"outputs":[]},
 {"type":"function","name":"createCandidateCost","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"updateCandidateCost","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

const tokenABIJSON = `[
 {"type":"function","name":"getCurrentVotes","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint96"}]},
 {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[
  {"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const poolABIJSON = `[
 {"type":"function","name":"buyNow","stateMutability":"payable","inputs":[
  {"name":"expectedBlockNumber","type":"uint256"},{"name":"expectedNounId","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"fetchNoun","stateMutability":"view","inputs":[{"name":"blockNumber","type":"uint256"}],"outputs":[
  {"name":"nounId","type":"uint256"},
  {"name":"seed","type":"tuple","components":[
   {"name":"background","type":"uint48"},{"name":"body","type":"uint48"},{"name":"accessory","type":"uint48"},
   {"name":"head","type":"uint48"},{"name":"glasses","type":"uint48"}]},
  {"name":"svg","type":"string"},{"name":"price","type":"uint256"},{"name":"hash","type":"bytes32"}]},
 {"type":"function","name":"poolSize","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getCurrentVRGDAPrice","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	// DAOABI is the DAO logic contract (called through its proxy).
	DAOABI = mustParseABI("dao", daoABIJSON)
	// DataABI is the candidate/feedback data contract.
	DataABI = mustParseABI("data", dataABIJSON)
	// TokenABI covers the governance token's vote lookup and ERC-20 approve.
	TokenABI = mustParseABI("token", tokenABIJSON)
	// PoolABI is the VRGDA auction pool.
	PoolABI = mustParseABI("pool", poolABIJSON)
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("gov: parse %s abi: %v", name, err))
	}
	return parsed
}
