package subgraph

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"nounsgov/gov"
)

func decodeProposal(n proposalNode) (*gov.Proposal, error) {
	id, err := parseBig("id", n.ID)
	if err != nil {
		return nil, err
	}
	p := &gov.Proposal{
		ID:          id,
		Proposer:    common.HexToAddress(n.Proposer.ID),
		Status:      normalizeStatus(n.Status),
		Description: n.Description,
	}
	for _, s := range n.Signers {
		p.Signers = append(p.Signers, common.HexToAddress(s.ID))
	}
	if p.StartBlock, err = parseUint("startBlock", n.StartBlock); err != nil {
		return nil, err
	}
	if p.EndBlock, err = parseUint("endBlock", n.EndBlock); err != nil {
		return nil, err
	}
	if p.UpdatePeriodEndBlock, err = parseUint("updatePeriodEndBlock", n.UpdatePeriodEndBlock); err != nil {
		return nil, err
	}
	if p.Actions, err = decodeActions(n.Targets, n.Values, n.Signatures, n.Calldatas); err != nil {
		return nil, err
	}
	if p.Votes, err = decodeVotes(n.Votes); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeVotes(nodes []voteNode) ([]gov.Vote, error) {
	out := make([]gov.Vote, 0, len(nodes))
	for _, n := range nodes {
		votes, err := parseBig("votes", n.Votes)
		if err != nil {
			return nil, err
		}
		out = append(out, gov.Vote{
			Voter:   common.HexToAddress(n.Voter.ID),
			Support: gov.VoteSupport(n.SupportDetailed),
			Votes:   votes,
		})
	}
	return out, nil
}

func decodeCandidate(n *candidateNode) (*gov.Candidate, error) {
	content := n.LatestVersion.Content
	c := &gov.Candidate{
		Proposer:    common.HexToAddress(n.Proposer),
		Slug:        n.Slug,
		Description: content.Description,
	}
	var err error
	if c.Actions, err = decodeActions(content.Targets, content.Values, content.Signatures, content.Calldatas); err != nil {
		return nil, err
	}
	if content.ProposalIDToUpdate != "" {
		if c.ProposalIDToUpdate, err = parseBig("proposalIdToUpdate", content.ProposalIDToUpdate); err != nil {
			return nil, err
		}
	}
	if n.Canceled {
		ts := time.Unix(0, 0).UTC()
		if n.CanceledTimestamp != nil && *n.CanceledTimestamp != "" {
			secs, err := parseUint("canceledTimestamp", *n.CanceledTimestamp)
			if err != nil {
				return nil, err
			}
			ts = time.Unix(int64(secs), 0).UTC()
		}
		c.CanceledTimestamp = &ts
	}
	// the latest matching proposal is the one the candidate was promoted to
	for _, raw := range content.MatchingProposalIDs {
		id, err := parseBig("matchingProposalIds", raw)
		if err != nil {
			return nil, err
		}
		if c.PromotedProposalID == nil || id.Cmp(c.PromotedProposalID) > 0 {
			c.PromotedProposalID = id
		}
	}
	for _, s := range content.ContentSignatures {
		sig, err := hexutil.Decode(s.Sig)
		if err != nil {
			return nil, fmt.Errorf("subgraph: decode signature: %w", err)
		}
		expiry, err := parseBig("expirationTimestamp", s.ExpirationTimestamp)
		if err != nil {
			return nil, err
		}
		c.Signatures = append(c.Signatures, gov.ProposerSignature{
			Signature:           sig,
			Signer:              common.HexToAddress(s.Signer.ID),
			ExpirationTimestamp: expiry,
			Canceled:            s.Canceled,
		})
	}
	return c, nil
}

func decodeActions(targets, values, signatures, calldatas []string) (gov.Actions, error) {
	n := len(targets)
	if len(values) != n || len(signatures) != n || len(calldatas) != n {
		return nil, fmt.Errorf("subgraph: action arrays differ in length (%d/%d/%d/%d)",
			len(targets), len(values), len(signatures), len(calldatas))
	}
	out := make(gov.Actions, n)
	for i := range targets {
		value, err := parseBig("values", values[i])
		if err != nil {
			return nil, err
		}
		data := []byte{}
		if raw := strings.TrimSpace(calldatas[i]); raw != "" && raw != "0x" {
			if data, err = hexutil.Decode(raw); err != nil {
				return nil, fmt.Errorf("subgraph: decode calldata %d: %w", i, err)
			}
		}
		out[i] = gov.Action{
			Target:    common.HexToAddress(targets[i]),
			Value:     value,
			Signature: signatures[i],
			Calldata:  data,
		}
	}
	return out, nil
}

// normalizeStatus maps indexer statuses onto the contract's state names.
func normalizeStatus(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "CANCELLED" {
		s = "CANCELED"
	}
	return s
}

func parseBig(field, raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("subgraph: invalid %s %q", field, raw)
	}
	return v, nil
}

func parseUint(field, raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("subgraph: invalid %s %q: %w", field, raw, err)
	}
	return v, nil
}
