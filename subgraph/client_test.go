package subgraph_test

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"

	"nounsgov/gov"
	"nounsgov/subgraph"
)

type gqlRequest struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
	OperationName string         `json:"operationName"`
}

type gqlServer struct {
	mu       sync.Mutex
	requests []gqlRequest
	auth     []string
	answers  map[string]string
}

func newServer(t *testing.T, answers map[string]string) (*gqlServer, *httptest.Server) {
	t.Helper()
	s := &gqlServer{answers: answers}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req gqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.auth = append(s.auth, r.Header.Get("Authorization"))
		s.mu.Unlock()
		data, ok := s.answers[req.OperationName]
		if !ok {
			data = `{}`
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":` + data + `}`))
	}))
	t.Cleanup(srv.Close)
	return s, srv
}

const proposalJSON = `{"proposal":{
  "id":"42",
  "proposer":{"id":"0x00000000000000000000000000000000000000a1"},
  "signers":[{"id":"0x00000000000000000000000000000000000000b2"}],
  "startBlock":"100","endBlock":"200","updatePeriodEndBlock":"90",
  "status":"ACTIVE","description":"# Fund\n\nbody",
  "targets":["0x00000000000000000000000000000000000000c3"],
  "values":["5"],"signatures":["transfer(address,uint256)"],"calldatas":["0xdeadbeef"],
  "votes":[{"voter":{"id":"0x00000000000000000000000000000000000000d4"},"supportDetailed":1,"votes":"3"}]
}}`

func TestProposal(t *testing.T) {
	srv, ts := newServer(t, map[string]string{"GetProposal": proposalJSON})
	client, err := subgraph.New(ts.URL, subgraph.WithAPIKey("secret"))
	require.NoError(t, err)

	p, err := client.Proposal(context.Background(), big.NewInt(42))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(42), p.ID)
	require.Equal(t, common.HexToAddress("0xa1"), p.Proposer)
	require.Equal(t, []common.Address{common.HexToAddress("0xb2")}, p.Signers)
	require.Equal(t, uint64(100), p.StartBlock)
	require.Equal(t, uint64(200), p.EndBlock)
	require.Equal(t, "ACTIVE", p.Status)
	require.Len(t, p.Actions, 1)
	require.Equal(t, hexutil.Bytes{0xde, 0xad, 0xbe, 0xef}, p.Actions[0].Calldata)
	require.Equal(t, big.NewInt(5), p.Actions[0].Value)
	require.True(t, p.HasVoted(common.HexToAddress("0xd4")))

	require.Len(t, srv.requests, 1)
	require.Equal(t, "42", srv.requests[0].Variables["id"])
	require.Contains(t, srv.requests[0].Query, "proposal(id: $id)")
	require.Equal(t, "Bearer secret", srv.auth[0])
}

func TestProposalNotFound(t *testing.T) {
	_, ts := newServer(t, map[string]string{"GetProposal": `{"proposal":null}`})
	client, err := subgraph.New(ts.URL)
	require.NoError(t, err)

	_, err = client.Proposal(context.Background(), big.NewInt(7))
	require.ErrorIs(t, err, subgraph.ErrNotFound)

	_, err = client.Proposal(context.Background(), big.NewInt(0))
	require.ErrorIs(t, err, subgraph.ErrNotFound)
}

func TestCandidateDecoding(t *testing.T) {
	proposer := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	answer := `{"proposalCandidate":{
	  "id":"0x00000000000000000000000000000000000000a1-fund-x",
	  "proposer":"0x00000000000000000000000000000000000000a1","slug":"fund-x",
	  "canceled":true,"canceledTimestamp":"1700000000",
	  "latestVersion":{"content":{
	    "description":"# Fund X\n\nbody",
	    "targets":[],"values":[],"signatures":[],"calldatas":[],
	    "proposalIdToUpdate":"0","matchingProposalIds":["12","15"],
	    "contentSignatures":[{"sig":"0x0102","signer":{"id":"0x00000000000000000000000000000000000000b2"},"expirationTimestamp":"1800000000","canceled":false}]
	  }}
	}}`
	srv, ts := newServer(t, map[string]string{"GetCandidate": answer})
	client, err := subgraph.New(ts.URL)
	require.NoError(t, err)

	c, err := client.Candidate(context.Background(), proposer, "fund-x")
	require.NoError(t, err)
	require.True(t, c.Canceled())
	require.Equal(t, int64(1700000000), c.CanceledTimestamp.Unix())
	require.True(t, c.Promoted())
	require.Equal(t, big.NewInt(15), c.PromotedProposalID)
	require.False(t, c.IsUpdate())
	require.Empty(t, c.Actions)
	require.Len(t, c.Signatures, 1)
	require.Equal(t, hexutil.Bytes{0x01, 0x02}, c.Signatures[0].Signature)
	require.Equal(t, big.NewInt(1800000000), c.Signatures[0].ExpirationTimestamp)

	require.Equal(t, subgraph.CandidateID(proposer, "fund-x"), srv.requests[0].Variables["id"])
	require.True(t, strings.HasPrefix(srv.requests[0].Variables["id"].(string), "0x00000000000000000000000000000000000000a1-"))
}

func TestTopicAddsPrefix(t *testing.T) {
	answer := `{"proposalCandidate":{
	  "id":"x","proposer":"0x00000000000000000000000000000000000000a1","slug":"topic-roadmap",
	  "canceled":false,"canceledTimestamp":null,
	  "latestVersion":{"content":{"description":"# Roadmap\n\n","targets":["0x0000000000000000000000000000000000000000"],
	  "values":["0"],"signatures":[""],"calldatas":["0x"],"proposalIdToUpdate":"0","matchingProposalIds":[],"contentSignatures":[]}}
	}}`
	srv, ts := newServer(t, map[string]string{"GetCandidate": answer})
	client, err := subgraph.New(ts.URL)
	require.NoError(t, err)

	topic, err := client.Topic(context.Background(), common.HexToAddress("0xa1"), "roadmap")
	require.NoError(t, err)
	require.False(t, topic.Canceled())
	require.Equal(t, "topic-roadmap", topic.Slug)
	require.True(t, strings.HasSuffix(srv.requests[0].Variables["id"].(string), "-topic-roadmap"))
}

func TestDelegateVotes(t *testing.T) {
	_, ts := newServer(t, map[string]string{"GetDelegate": `{"delegate":{"delegatedVotes":"9"}}`})
	client, err := subgraph.New(ts.URL)
	require.NoError(t, err)

	votes, err := client.DelegateVotes(context.Background(), common.HexToAddress("0xa1"))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(9), votes)
}

func TestDelegateUnknownHasZeroVotes(t *testing.T) {
	_, ts := newServer(t, map[string]string{"GetDelegate": `{"delegate":null}`})
	client, err := subgraph.New(ts.URL)
	require.NoError(t, err)

	votes, err := client.DelegateVotes(context.Background(), common.HexToAddress("0xa1"))
	require.NoError(t, err)
	require.Zero(t, votes.Sign())
}

func TestStatusNormalisation(t *testing.T) {
	answer := strings.Replace(proposalJSON, `"ACTIVE"`, `"CANCELLED"`, 1)
	_, ts := newServer(t, map[string]string{"GetProposal": answer})
	client, err := subgraph.New(ts.URL)
	require.NoError(t, err)

	p, err := client.Proposal(context.Background(), big.NewInt(42))
	require.NoError(t, err)
	state, ok := gov.ParseProposalState(p.Status)
	require.True(t, ok)
	require.Equal(t, gov.ProposalStateCanceled, state)
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := subgraph.New("  ")
	require.Error(t, err)
}
