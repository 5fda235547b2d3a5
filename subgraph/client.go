// Package subgraph reads proposal, candidate and topic state from the DAO's
// GraphQL indexer. Validators use it as the fallback source when a direct
// contract read is unavailable, and as the only source for off-chain shapes
// such as candidate signatures.
package subgraph

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hasura/go-graphql-client"

	"nounsgov/gov"
	"nounsgov/observability/metrics"
)

// ErrNotFound is returned when the indexer has no entity for the key.
var ErrNotFound = errors.New("subgraph: not found")

// votePageSize bounds the votes fetched with a proposal.
const votePageSize = 1000

// Indexer is the read-only view of governance state the validators consume.
type Indexer interface {
	Proposal(ctx context.Context, id *big.Int) (*gov.Proposal, error)
	Candidate(ctx context.Context, proposer common.Address, slug string) (*gov.Candidate, error)
	Topic(ctx context.Context, creator common.Address, slug string) (*gov.Topic, error)
	ProposalVotes(ctx context.Context, id *big.Int) ([]gov.Vote, error)
	DelegateVotes(ctx context.Context, account common.Address) (*big.Int, error)
}

// Client queries a hosted subgraph over HTTP.
type Client struct {
	gql *graphql.Client
}

var _ Indexer = (*Client)(nil)

// Option customises the client.
type Option func(*options)

type options struct {
	httpClient *http.Client
	apiKey     string
}

// WithHTTPClient overrides the transport.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithAPIKey sends key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = strings.TrimSpace(key) }
}

// New returns a client for the subgraph at endpoint.
func New(endpoint string, opts ...Option) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("subgraph: endpoint required")
	}
	cfg := options{httpClient: &http.Client{Timeout: 15 * time.Second}}
	for _, opt := range opts {
		opt(&cfg)
	}
	gql := graphql.NewClient(endpoint, cfg.httpClient)
	if cfg.apiKey != "" {
		key := cfg.apiKey
		gql = gql.WithRequestModifier(func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+key)
		})
	}
	return &Client{gql: gql}, nil
}

type accountRef struct {
	ID string `graphql:"id"`
}

type voteNode struct {
	Voter           accountRef `graphql:"voter"`
	SupportDetailed int        `graphql:"supportDetailed"`
	Votes           string     `graphql:"votes"`
}

type proposalNode struct {
	ID                   string       `graphql:"id"`
	Proposer             accountRef   `graphql:"proposer"`
	Signers              []accountRef `graphql:"signers"`
	StartBlock           string       `graphql:"startBlock"`
	EndBlock             string       `graphql:"endBlock"`
	UpdatePeriodEndBlock string       `graphql:"updatePeriodEndBlock"`
	Status               string       `graphql:"status"`
	Description          string       `graphql:"description"`
	Targets              []string     `graphql:"targets"`
	Values               []string     `graphql:"values"`
	Signatures           []string     `graphql:"signatures"`
	Calldatas            []string     `graphql:"calldatas"`
	Votes                []voteNode   `graphql:"votes(first: $first)"`
}

type signatureNode struct {
	Sig                 string     `graphql:"sig"`
	Signer              accountRef `graphql:"signer"`
	ExpirationTimestamp string     `graphql:"expirationTimestamp"`
	Canceled            bool       `graphql:"canceled"`
}

type candidateNode struct {
	ID                string  `graphql:"id"`
	Proposer          string  `graphql:"proposer"`
	Slug              string  `graphql:"slug"`
	Canceled          bool    `graphql:"canceled"`
	CanceledTimestamp *string `graphql:"canceledTimestamp"`
	LatestVersion     struct {
		Content struct {
			Description         string          `graphql:"description"`
			Targets             []string        `graphql:"targets"`
			Values              []string        `graphql:"values"`
			Signatures          []string        `graphql:"signatures"`
			Calldatas           []string        `graphql:"calldatas"`
			ProposalIDToUpdate  string          `graphql:"proposalIdToUpdate"`
			MatchingProposalIDs []string        `graphql:"matchingProposalIds"`
			ContentSignatures   []signatureNode `graphql:"contentSignatures"`
		} `graphql:"content"`
	} `graphql:"latestVersion"`
}

// Proposal fetches a proposal with its first page of votes.
func (c *Client) Proposal(ctx context.Context, id *big.Int) (*gov.Proposal, error) {
	if id == nil || id.Sign() <= 0 {
		return nil, ErrNotFound
	}
	var query struct {
		Proposal *proposalNode `graphql:"proposal(id: $id)"`
	}
	vars := map[string]any{
		"id":    graphql.ID(id.String()),
		"first": votePageSize,
	}
	if err := c.query(ctx, &query, vars, "GetProposal"); err != nil {
		return nil, fmt.Errorf("subgraph: query proposal %s: %w", id, err)
	}
	if query.Proposal == nil {
		return nil, ErrNotFound
	}
	return decodeProposal(*query.Proposal)
}

// ProposalVotes lists the votes cast on a proposal.
func (c *Client) ProposalVotes(ctx context.Context, id *big.Int) ([]gov.Vote, error) {
	if id == nil || id.Sign() <= 0 {
		return nil, ErrNotFound
	}
	var query struct {
		Proposal *struct {
			Votes []voteNode `graphql:"votes(first: $first)"`
		} `graphql:"proposal(id: $id)"`
	}
	vars := map[string]any{
		"id":    graphql.ID(id.String()),
		"first": votePageSize,
	}
	if err := c.query(ctx, &query, vars, "GetProposalVotes"); err != nil {
		return nil, fmt.Errorf("subgraph: query votes %s: %w", id, err)
	}
	if query.Proposal == nil {
		return nil, ErrNotFound
	}
	return decodeVotes(query.Proposal.Votes)
}

// Candidate fetches the latest version of a candidate.
func (c *Client) Candidate(ctx context.Context, proposer common.Address, slug string) (*gov.Candidate, error) {
	node, err := c.candidate(ctx, proposer, slug)
	if err != nil {
		return nil, err
	}
	return decodeCandidate(node)
}

// Topic fetches a discussion topic. Topics are candidates whose slug carries
// the topic prefix; the prefix is added when missing.
func (c *Client) Topic(ctx context.Context, creator common.Address, slug string) (*gov.Topic, error) {
	if !strings.HasPrefix(slug, gov.TopicSlugPrefix) {
		slug = gov.TopicSlugPrefix + slug
	}
	node, err := c.candidate(ctx, creator, slug)
	if err != nil {
		return nil, err
	}
	cand, err := decodeCandidate(node)
	if err != nil {
		return nil, err
	}
	return &gov.Topic{
		Creator:           cand.Proposer,
		Slug:              cand.Slug,
		Description:       cand.Description,
		CanceledTimestamp: cand.CanceledTimestamp,
	}, nil
}

func (c *Client) candidate(ctx context.Context, proposer common.Address, slug string) (*candidateNode, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, ErrNotFound
	}
	var query struct {
		Candidate *candidateNode `graphql:"proposalCandidate(id: $id)"`
	}
	vars := map[string]any{"id": graphql.ID(CandidateID(proposer, slug))}
	if err := c.query(ctx, &query, vars, "GetCandidate"); err != nil {
		return nil, fmt.Errorf("subgraph: query candidate %s: %w", slug, err)
	}
	if query.Candidate == nil {
		return nil, ErrNotFound
	}
	return query.Candidate, nil
}

// DelegateVotes returns the votes currently delegated to account. Accounts
// the indexer has never seen hold zero votes.
func (c *Client) DelegateVotes(ctx context.Context, account common.Address) (*big.Int, error) {
	var query struct {
		Delegate *struct {
			DelegatedVotes string `graphql:"delegatedVotes"`
		} `graphql:"delegate(id: $id)"`
	}
	vars := map[string]any{"id": graphql.ID(strings.ToLower(account.Hex()))}
	if err := c.query(ctx, &query, vars, "GetDelegate"); err != nil {
		return nil, fmt.Errorf("subgraph: query delegate %s: %w", account.Hex(), err)
	}
	if query.Delegate == nil {
		return new(big.Int), nil
	}
	return parseBig("delegatedVotes", query.Delegate.DelegatedVotes)
}

func (c *Client) query(ctx context.Context, q any, vars map[string]any, operation string) error {
	start := time.Now()
	err := c.gql.Query(ctx, q, vars, graphql.OperationName(operation))
	metrics.Reads().ObserveSubgraph(operation, time.Since(start), err)
	return err
}

// CandidateID is the indexer's key for a candidate: the lower-case proposer
// address and the slug joined by a dash.
func CandidateID(proposer common.Address, slug string) string {
	return strings.ToLower(proposer.Hex()) + "-" + slug
}
