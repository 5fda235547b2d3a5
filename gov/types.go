package gov

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ProposalState mirrors the DAO logic contract's ProposalState enum. The
// numeric values are the ones returned by state(uint256) and must not be
// reordered.
type ProposalState uint8

const (
	ProposalStatePending ProposalState = iota
	ProposalStateActive
	ProposalStateCanceled
	ProposalStateDefeated
	ProposalStateSucceeded
	ProposalStateQueued
	ProposalStateExpired
	ProposalStateExecuted
	ProposalStateVetoed
	ProposalStateObjectionPeriod
	ProposalStateUpdatable
)

var proposalStateNames = [...]string{
	ProposalStatePending:         "pending",
	ProposalStateActive:          "active",
	ProposalStateCanceled:        "canceled",
	ProposalStateDefeated:        "defeated",
	ProposalStateSucceeded:       "succeeded",
	ProposalStateQueued:          "queued",
	ProposalStateExpired:         "expired",
	ProposalStateExecuted:        "executed",
	ProposalStateVetoed:          "vetoed",
	ProposalStateObjectionPeriod: "objection-period",
	ProposalStateUpdatable:       "updatable",
}

func (s ProposalState) String() string {
	if int(s) < len(proposalStateNames) {
		return proposalStateNames[s]
	}
	return "unknown"
}

// Live reports whether a proposal in this state still blocks its proposer (and
// its signers) from creating or sponsoring another proposal.
func (s ProposalState) Live() bool {
	switch s {
	case ProposalStatePending, ProposalStateActive, ProposalStateObjectionPeriod, ProposalStateUpdatable:
		return true
	default:
		return false
	}
}

// ParseProposalState accepts both the kebab-case names used here and the
// upper-case status strings reported by the subgraph (e.g. "OBJECTION_PERIOD").
func ParseProposalState(raw string) (ProposalState, bool) {
	norm := strings.ToLower(strings.TrimSpace(raw))
	norm = strings.ReplaceAll(norm, "_", "-")
	for i, name := range proposalStateNames {
		if name == norm {
			return ProposalState(i), true
		}
	}
	return 0, false
}

// VoteSupport is the ballot value accepted by castRefundableVote.
type VoteSupport uint8

const (
	VoteAgainst VoteSupport = 0
	VoteFor     VoteSupport = 1
	VoteAbstain VoteSupport = 2
)

// Valid reports whether the support value is accepted by the DAO.
func (v VoteSupport) Valid() bool { return v <= VoteAbstain }

// Action is one executable transaction of a proposal or candidate.
type Action struct {
	Target    common.Address `json:"target"`
	Value     *big.Int       `json:"value"`
	Signature string         `json:"signature"`
	Calldata  hexutil.Bytes  `json:"calldata"`
}

// Actions is the ordered list of a proposal's transactions.
type Actions []Action

// Split returns the parallel arrays the DAO contracts take as arguments.
// Nil values are encoded as zero.
func (a Actions) Split() (targets []common.Address, values []*big.Int, signatures []string, calldatas [][]byte) {
	targets = make([]common.Address, len(a))
	values = make([]*big.Int, len(a))
	signatures = make([]string, len(a))
	calldatas = make([][]byte, len(a))
	for i, act := range a {
		targets[i] = act.Target
		if act.Value != nil {
			values[i] = new(big.Int).Set(act.Value)
		} else {
			values[i] = new(big.Int)
		}
		signatures[i] = act.Signature
		if act.Calldata != nil {
			calldatas[i] = common.CopyBytes(act.Calldata)
		} else {
			calldatas[i] = []byte{}
		}
	}
	return targets, values, signatures, calldatas
}

// TopicActions is the single no-op transaction carried by a discussion topic.
// Topics ride on the candidate contract, which rejects an empty action list.
func TopicActions() Actions {
	return Actions{{Target: common.Address{}, Value: new(big.Int), Signature: "", Calldata: []byte{}}}
}

// TopicSlugPrefix marks candidates that represent discussion topics.
const TopicSlugPrefix = "topic-"

// MaxTitleLength bounds proposal, candidate and topic titles (in runes).
const MaxTitleLength = 120

// FormatDescription renders the on-chain description from a title and body.
func FormatDescription(title, body string) string {
	return "# " + strings.TrimSpace(title) + "\n\n" + body
}

// ProposerSignature is a co-signer's EIP-712 sponsorship of a candidate.
type ProposerSignature struct {
	Signature           hexutil.Bytes  `json:"signature"`
	Signer              common.Address `json:"signer"`
	ExpirationTimestamp *big.Int       `json:"expirationTimestamp"`
	Canceled            bool           `json:"canceled"`
}

// Valid reports whether the signature can still be used on chain at now.
func (s ProposerSignature) Valid(now time.Time) bool {
	if s.Canceled || s.ExpirationTimestamp == nil {
		return false
	}
	return s.ExpirationTimestamp.Cmp(big.NewInt(now.Unix())) > 0
}

// ValidSignatures filters sigs down to the ones usable at now, keeping one
// signature per signer (the one expiring last).
func ValidSignatures(sigs []ProposerSignature, now time.Time) []ProposerSignature {
	best := make(map[common.Address]int)
	out := make([]ProposerSignature, 0, len(sigs))
	for _, sig := range sigs {
		if !sig.Valid(now) {
			continue
		}
		if idx, ok := best[sig.Signer]; ok {
			if sig.ExpirationTimestamp.Cmp(out[idx].ExpirationTimestamp) > 0 {
				out[idx] = sig
			}
			continue
		}
		best[sig.Signer] = len(out)
		out = append(out, sig)
	}
	return out
}

// Vote is a recorded ballot as reported by the indexer.
type Vote struct {
	Voter   common.Address `json:"voter"`
	Support VoteSupport    `json:"support"`
	Votes   *big.Int       `json:"votes"`
}

// Proposal is the indexer's view of an on-chain proposal.
type Proposal struct {
	ID                   *big.Int         `json:"id"`
	Proposer             common.Address   `json:"proposer"`
	Signers              []common.Address `json:"signers"`
	StartBlock           uint64           `json:"startBlock"`
	EndBlock             uint64           `json:"endBlock"`
	UpdatePeriodEndBlock uint64           `json:"updatePeriodEndBlock"`
	Status               string           `json:"status"`
	Description          string           `json:"description"`
	Actions              Actions          `json:"actions"`
	Votes                []Vote           `json:"votes,omitempty"`
}

// HasVoted reports whether voter appears in the indexed vote list.
func (p *Proposal) HasVoted(voter common.Address) bool {
	for _, v := range p.Votes {
		if v.Voter == voter {
			return true
		}
	}
	return false
}

// Candidate is the indexer's view of a proposal candidate.
type Candidate struct {
	Proposer           common.Address      `json:"proposer"`
	Slug               string              `json:"slug"`
	Description        string              `json:"description"`
	Actions            Actions             `json:"actions"`
	ProposalIDToUpdate *big.Int            `json:"proposalIdToUpdate,omitempty"`
	CanceledTimestamp  *time.Time          `json:"canceledTimestamp,omitempty"`
	PromotedProposalID *big.Int            `json:"promotedProposalId,omitempty"`
	Signatures         []ProposerSignature `json:"signatures"`
}

// Canceled reports whether the candidate was canceled by its proposer.
func (c *Candidate) Canceled() bool { return c.CanceledTimestamp != nil }

// Promoted reports whether the candidate became an on-chain proposal.
func (c *Candidate) Promoted() bool {
	return c.PromotedProposalID != nil && c.PromotedProposalID.Sign() > 0
}

// IsUpdate reports whether the candidate proposes an update to an existing
// on-chain proposal.
func (c *Candidate) IsUpdate() bool {
	return c.ProposalIDToUpdate != nil && c.ProposalIDToUpdate.Sign() > 0
}

// Topic is a discussion item. It is stored as a candidate with TopicActions.
type Topic struct {
	Creator           common.Address `json:"creator"`
	Slug              string         `json:"slug"`
	Description       string         `json:"description"`
	CanceledTimestamp *time.Time     `json:"canceledTimestamp,omitempty"`
}

// Canceled reports whether the topic was closed by its creator.
func (t *Topic) Canceled() bool { return t.CanceledTimestamp != nil }

// SameAddress compares two addresses case-insensitively. Either side may be a
// checksummed or lower-case hex string.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
