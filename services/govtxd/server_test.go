package govtxd

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/glebarez/sqlite"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"nhooyr.io/websocket"

	"nounsgov/actions"
	"nounsgov/chain/chaintest"
	"nounsgov/history"
	"nounsgov/subgraph/subgraphtest"
	"nounsgov/txflow"
	"nounsgov/wallet"
)

var (
	daoAddr   = common.HexToAddress("0x6f3E6272A167e8AcCb32072d08E0957F9c79223d")
	dataAddr  = common.HexToAddress("0xf790A5f59678dd733fb3De93493A91f472ca1365")
	tokenAddr = common.HexToAddress("0x9C8fF314C9Bc7F6e59A9d9225Fb22946427eDC03")
	spender   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

const testSecret = "govtxd-test-secret"

type harness struct {
	fake    *chaintest.Fake
	store   *history.Store
	account common.Address
	srv     *httptest.Server
}

func newHarness(t *testing.T, opts ...ServerOption) *harness {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	h := &harness{fake: chaintest.New(), account: crypto.PubkeyToAddress(key.PublicKey)}
	h.fake.SetBalance(h.account, big.NewInt(1e18))

	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	h.store, err = history.New(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.store.Close() })

	session, err := wallet.NewLocalSession(key, h.fake)
	require.NoError(t, err)
	pipeline := txflow.New(h.fake, session,
		txflow.WithPollInterval(5*time.Millisecond),
		txflow.WithReceiptTimeout(2*time.Second),
		txflow.WithHistory(h.store),
	)
	acts := actions.New(actions.Deployment{
		ChainID: big.NewInt(1),
		DAO:     daoAddr,
		Data:    dataAddr,
		Token:   tokenAddr,
	}, pipeline, subgraphtest.New())

	opts = append([]ServerOption{WithHistoryReader(h.store), WithMetricsRoute(true)}, opts...)
	h.srv = httptest.NewServer(NewServer(pipeline, acts, opts...).Routes())
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rdr = strings.NewReader(b)
		default:
			raw, err := json.Marshal(b)
			require.NoError(t, err)
			rdr = bytes.NewReader(raw)
		}
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rdr)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func approveBody() map[string]any {
	return map[string]any{"spender": spender.Hex(), "amount": 5}
}

func (h *harness) submitApprove(t *testing.T) trackerView {
	t.Helper()
	resp := h.do(t, http.MethodPost, "/v1/actions/approve-token", "", approveBody())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	view := decode[trackerView](t, resp)
	require.Equal(t, string(txflow.TxApproveToken), view.Action)
	require.NotEmpty(t, view.ID)
	return view
}

func (h *harness) awaitState(t *testing.T, id string, want txflow.State) trackerView {
	t.Helper()
	var view trackerView
	require.Eventually(t, func() bool {
		resp := h.do(t, http.MethodGet, "/v1/trackers/"+id, "", nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		view = decode[trackerView](t, resp)
		return view.State == string(want)
	}, 2*time.Second, 10*time.Millisecond)
	return view
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	resp := h.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	require.Equal(t, "1", body["chainId"])
	require.Equal(t, h.account.Hex(), body["account"])
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestSubmitApproveSettles(t *testing.T) {
	h := newHarness(t)
	view := h.submitApprove(t)

	settled := h.awaitState(t, view.ID, txflow.StateSuccess)
	require.NotEmpty(t, settled.Hash)
	require.NotNil(t, settled.Receipt)
	require.Equal(t, uint64(1), settled.Receipt.Status)
	require.Nil(t, settled.Error)
	require.Equal(t, 1, h.fake.SentCount())

	resp := h.do(t, http.MethodGet, "/v1/trackers", "", nil)
	list := decode[struct {
		Trackers []trackerView `json:"trackers"`
	}](t, resp)
	require.Len(t, list.Trackers, 1)
	require.Equal(t, view.ID, list.Trackers[0].ID)
}

func TestSubmitRetriesOnNamedTracker(t *testing.T) {
	h := newHarness(t)
	view := h.submitApprove(t)
	h.awaitState(t, view.ID, txflow.StateSuccess)

	resp := h.do(t, http.MethodPost, "/v1/actions/approve-token?tracker="+view.ID, "", approveBody())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, view.ID, decode[trackerView](t, resp).ID)

	resp = h.do(t, http.MethodPost, "/v1/actions/cast-vote?tracker="+view.ID, "", map[string]any{"proposalId": 1, "support": 1})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/v1/actions/approve-token?tracker=missing", "", approveBody())
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubmitValidationFailure(t *testing.T) {
	h := newHarness(t)
	resp := h.do(t, http.MethodPost, "/v1/actions/approve-token", "", map[string]any{"amount": 5})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	view := decode[trackerView](t, resp)
	require.Equal(t, string(txflow.StateIdle), view.State)
	require.NotNil(t, view.Error)
	require.Equal(t, "validation", view.Error.Source)
	require.Equal(t, string(txflow.KindInvalidState), view.Error.Kind)
	require.Zero(t, h.fake.SentCount())

	reset := h.do(t, http.MethodPost, "/v1/trackers/"+view.ID+"/reset", "", nil)
	require.Equal(t, http.StatusOK, reset.StatusCode)
	require.Nil(t, decode[trackerView](t, reset).Error)
}

func TestValidateEndpoint(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodPost, "/v1/actions/cast-vote/validate", "", map[string]any{"proposalId": 1, "support": 7})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[validationView](t, resp)
	require.False(t, view.Valid)
	require.Equal(t, string(txflow.KindInvalidState), view.Error.Kind)

	resp = h.do(t, http.MethodPost, "/v1/actions/cast-vote/validate", "", map[string]any{"proposalId": 0, "support": 1})
	view = decode[validationView](t, resp)
	require.False(t, view.Valid)
	require.Equal(t, string(txflow.KindProposalNotFound), view.Error.Kind)

	resp = h.do(t, http.MethodPost, "/v1/actions/approve-token/validate", "", approveBody())
	view = decode[validationView](t, resp)
	require.True(t, view.Valid)
	require.Nil(t, view.Error)
}

func TestRejectsBadRequests(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodPost, "/v1/actions/mint-nouns", "", approveBody())
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/v1/actions/approve-token", "", "{not json")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/v1/actions/approve-token", "", map[string]any{"spender": spender.Hex(), "bogus": true})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/v1/trackers/unknown", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListActions(t *testing.T) {
	h := newHarness(t)
	resp := h.do(t, http.MethodGet, "/v1/actions", "", nil)
	body := decode[struct {
		Actions []string `json:"actions"`
	}](t, resp)
	require.Len(t, body.Actions, 19)
	require.Contains(t, body.Actions, string(txflow.TxPromoteCandidate))
	require.IsIncreasing(t, body.Actions)
}

func TestHistoryEndpoint(t *testing.T) {
	h := newHarness(t)
	view := h.submitApprove(t)
	h.awaitState(t, view.ID, txflow.StateSuccess)

	require.Eventually(t, func() bool {
		resp := h.do(t, http.MethodGet, "/v1/history?status=success", "", nil)
		body := decode[struct {
			Records []history.Record `json:"records"`
		}](t, resp)
		return len(body.Records) == 1 && body.Records[0].TrackerID == view.ID
	}, 2*time.Second, 10*time.Millisecond)

	resp := h.do(t, http.MethodGet, "/v1/history?format=csv&type=approve-token", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	rows, err := csv.NewReader(resp.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	resp = h.do(t, http.MethodGet, "/v1/history?sender=nope", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = h.do(t, http.MethodGet, "/v1/history?format=xlsx", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamClosesAfterSettlement(t *testing.T) {
	h := newHarness(t)
	view := h.submitApprove(t)
	h.awaitState(t, view.ID, txflow.StateSuccess)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/v1/trackers/" + view.ID + "/stream"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var snap trackerView
	require.NoError(t, json.Unmarshal(data, &snap))
	require.Equal(t, string(txflow.StateSuccess), snap.State)

	_, _, err = conn.Read(ctx)
	require.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func signToken(t *testing.T, scope string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "ops",
		"iss":   "nounsgov",
		"scope": scope,
		"exp":   exp.Unix(),
	})
	raw, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return raw
}

func TestAuthScopes(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{
		Enabled:    true,
		HMACSecret: testSecret,
		Issuer:     "nounsgov",
		ClockSkew:  Duration{time.Minute},
	}, nil)
	h := newHarness(t, WithAuthenticator(auth))
	reader := signToken(t, ScopeRead, time.Now().Add(time.Hour))
	writer := signToken(t, ScopeRead+" "+ScopeWrite, time.Now().Add(time.Hour))
	expired := signToken(t, ScopeWrite, time.Now().Add(-time.Hour))

	require.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodGet, "/v1/actions", "", nil).StatusCode)
	require.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodGet, "/v1/actions", "garbage", nil).StatusCode)
	require.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodPost, "/v1/actions/approve-token", expired, approveBody()).StatusCode)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/actions", reader, nil).StatusCode)
	require.Equal(t, http.StatusForbidden, h.do(t, http.MethodPost, "/v1/actions/approve-token", reader, approveBody()).StatusCode)
	require.Equal(t, http.StatusAccepted, h.do(t, http.MethodPost, "/v1/actions/approve-token", writer, approveBody()).StatusCode)

	// health stays public
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", "", nil).StatusCode)
}

func TestRateLimit(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 1, Burst: 2})
	h := newHarness(t, WithRateLimiter(limiter))
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/actions", "", nil).StatusCode)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/actions", "", nil).StatusCode)
	resp := h.do(t, http.MethodGet, "/v1/actions", "", nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "1", resp.Header.Get("Retry-After"))

	limiter.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	require.Equal(t, 1, limiter.Sweep())
	require.Zero(t, NewRateLimiter(RateLimitConfig{}).Sweep())
}

func TestMetricsRoute(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodGet, "/v1/actions", "", nil)
	resp := h.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "go_goroutines")
}
