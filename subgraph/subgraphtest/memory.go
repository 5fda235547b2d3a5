// Package subgraphtest provides an in-memory subgraph.Indexer.
package subgraphtest

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"nounsgov/gov"
	"nounsgov/subgraph"
)

// Memory serves governance state from maps. Err, when set, fails every call.
type Memory struct {
	mu sync.Mutex

	Err error

	proposals  map[string]*gov.Proposal
	candidates map[string]*gov.Candidate
	delegates  map[common.Address]*big.Int
}

var _ subgraph.Indexer = (*Memory)(nil)

// New returns an empty indexer.
func New() *Memory {
	return &Memory{
		proposals:  make(map[string]*gov.Proposal),
		candidates: make(map[string]*gov.Candidate),
		delegates:  make(map[common.Address]*big.Int),
	}
}

// PutProposal stores p under its id.
func (m *Memory) PutProposal(p *gov.Proposal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proposals[p.ID.String()] = p
}

// PutCandidate stores c under its proposer and slug.
func (m *Memory) PutCandidate(c *gov.Candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates[subgraph.CandidateID(c.Proposer, c.Slug)] = c
}

// PutTopic stores t as a topic candidate.
func (m *Memory) PutTopic(t *gov.Topic) {
	m.PutCandidate(&gov.Candidate{
		Proposer:          t.Creator,
		Slug:              t.Slug,
		Description:       t.Description,
		Actions:           gov.TopicActions(),
		CanceledTimestamp: t.CanceledTimestamp,
	})
}

// SetDelegateVotes sets the votes delegated to account.
func (m *Memory) SetDelegateVotes(account common.Address, votes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delegates[account] = big.NewInt(votes)
}

func (m *Memory) Proposal(_ context.Context, id *big.Int) (*gov.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if id == nil {
		return nil, subgraph.ErrNotFound
	}
	p, ok := m.proposals[id.String()]
	if !ok {
		return nil, subgraph.ErrNotFound
	}
	return p, nil
}

func (m *Memory) ProposalVotes(ctx context.Context, id *big.Int) ([]gov.Vote, error) {
	p, err := m.Proposal(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.Votes, nil
}

func (m *Memory) Candidate(_ context.Context, proposer common.Address, slug string) (*gov.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	c, ok := m.candidates[subgraph.CandidateID(proposer, slug)]
	if !ok {
		return nil, subgraph.ErrNotFound
	}
	return c, nil
}

func (m *Memory) Topic(ctx context.Context, creator common.Address, slug string) (*gov.Topic, error) {
	if !strings.HasPrefix(slug, gov.TopicSlugPrefix) {
		slug = gov.TopicSlugPrefix + slug
	}
	c, err := m.Candidate(ctx, creator, slug)
	if err != nil {
		return nil, err
	}
	return &gov.Topic{Creator: c.Proposer, Slug: c.Slug, Description: c.Description, CanceledTimestamp: c.CanceledTimestamp}, nil
}

func (m *Memory) DelegateVotes(_ context.Context, account common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if v, ok := m.delegates[account]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}
