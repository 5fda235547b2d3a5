package govtxd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"nounsgov/actions"
	"nounsgov/history"
	"nounsgov/observability"
	"nounsgov/txflow"
)

const maxBodyBytes = 1 << 20

// HistoryReader is the part of the history store the API serves.
type HistoryReader interface {
	List(ctx context.Context, f history.Filter) ([]history.Record, error)
	Export(ctx context.Context, w io.Writer, format history.Format, f history.Filter) (int, error)
}

// Server exposes the governance builders and their trackers over HTTP.
type Server struct {
	pipeline *txflow.Service
	handlers map[string]handler
	history  HistoryReader
	auth     *Authenticator
	limiter  *RateLimiter
	logger   *slog.Logger
	metrics  bool
}

// ServerOption customises a Server.
type ServerOption func(*Server)

// WithHistoryReader enables GET /v1/history.
func WithHistoryReader(h HistoryReader) ServerOption {
	return func(s *Server) { s.history = h }
}

// WithAuthenticator guards every /v1 route.
func WithAuthenticator(a *Authenticator) ServerOption {
	return func(s *Server) { s.auth = a }
}

// WithRateLimiter throttles every /v1 route.
func WithRateLimiter(l *RateLimiter) ServerOption {
	return func(s *Server) { s.limiter = l }
}

// WithServerLogger sets the request logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsRoute serves /metrics on the API listener.
func WithMetricsRoute(enabled bool) ServerOption {
	return func(s *Server) { s.metrics = enabled }
}

// NewServer wires the builders in acts to the pipeline's trackers.
func NewServer(pipeline *txflow.Service, acts *actions.Actions, opts ...ServerOption) *Server {
	s := &Server{
		pipeline: pipeline,
		handlers: registry(acts),
		logger:   pipeline.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the instrumented router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	if s.metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(s.limiter.Middleware("v1"))
		v1.Group(func(w chi.Router) {
			w.Use(s.auth.Require("actions", ScopeWrite))
			w.Post("/actions/{action}", s.handleSubmit)
			w.Post("/actions/{action}/validate", s.handleValidate)
			w.Post("/trackers/{id}/reset", s.handleReset)
		})
		v1.Group(func(rd chi.Router) {
			rd.Use(s.auth.Require("read", ScopeRead))
			rd.Get("/actions", s.handleListActions)
			rd.Get("/trackers", s.handleListTrackers)
			rd.Get("/trackers/{id}", s.handleTracker)
			rd.Get("/trackers/{id}/stream", s.handleStream)
			rd.Get("/history", s.handleHistory)
		})
	})
	return otelhttp.NewHandler(r, "govtxd")
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// Hijack lets the WebSocket upgrade take over the connection.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("govtxd: response writer cannot hijack")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		observability.API().Observe(route, r.Method, rec.status, time.Since(start))
		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", rec.status),
			slog.String("request_id", w.Header().Get("X-Request-ID")),
			slog.Duration("duration", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	id, err := s.pipeline.ChainID(ctx)
	if err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "chain unavailable")
		return
	}
	addr, connected := s.pipeline.Session().Address()
	body := map[string]any{"status": "ok", "chainId": id.String(), "connected": connected}
	if connected {
		body["account"] = addr.Hex()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handler(w http.ResponseWriter, r *http.Request) (handler, bool) {
	name := chi.URLParam(r, "action")
	h, ok := s.handlers[name]
	if !ok {
		writeProblem(w, http.StatusNotFound, fmt.Sprintf("unknown action %q", name))
	}
	return h, ok
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeProblem(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	return body, true
}

func (s *Server) handleListActions(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	writeJSON(w, http.StatusOK, map[string]any{"actions": names})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	h, ok := s.handler(w, r)
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	ve, err := h.validate(r.Context(), body)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, err.Error())
		return
	}
	view := validationView{Action: string(h.kind), Valid: ve == nil}
	if ve != nil {
		view.Error = txflow.ViewError(ve)
	}
	writeJSON(w, http.StatusOK, view)
}

// handleSubmit runs the builder on a new tracker, or on the tracker named by
// the "tracker" query parameter to retry a settled attempt.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	h, ok := s.handler(w, r)
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var tr *txflow.Tracker
	if id := strings.TrimSpace(r.URL.Query().Get("tracker")); id != "" {
		existing, found := s.pipeline.Tracker(id)
		if !found {
			writeProblem(w, http.StatusNotFound, "tracker not found")
			return
		}
		if existing.Action() != h.kind {
			writeProblem(w, http.StatusConflict, "tracker belongs to another action")
			return
		}
		tr = existing
	} else {
		tr = s.pipeline.NewTracker(h.kind)
	}

	err := h.submit(r.Context(), tr, body)
	snap := viewSnapshot(tr.Snapshot())
	var ve *txflow.ValidationError
	var se *txflow.SendError
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, snap)
	case errors.Is(err, txflow.ErrSubmissionInFlight):
		writeJSON(w, http.StatusConflict, snap)
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, snap)
	case errors.As(err, &se):
		writeJSON(w, http.StatusBadGateway, snap)
	case snap.Error == nil:
		writeProblem(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, http.StatusBadGateway, snap)
	}
}

func (s *Server) tracker(w http.ResponseWriter, r *http.Request) (*txflow.Tracker, bool) {
	tr, ok := s.pipeline.Tracker(chi.URLParam(r, "id"))
	if !ok {
		writeProblem(w, http.StatusNotFound, "tracker not found")
	}
	return tr, ok
}

func (s *Server) handleTracker(w http.ResponseWriter, r *http.Request) {
	if tr, ok := s.tracker(w, r); ok {
		writeJSON(w, http.StatusOK, viewSnapshot(tr.Snapshot()))
	}
}

func (s *Server) handleListTrackers(w http.ResponseWriter, _ *http.Request) {
	snaps := s.pipeline.Trackers()
	out := make([]trackerView, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, viewSnapshot(snap))
	}
	writeJSON(w, http.StatusOK, map[string]any{"trackers": out})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	tr, ok := s.tracker(w, r)
	if !ok {
		return
	}
	tr.Reset()
	writeJSON(w, http.StatusOK, viewSnapshot(tr.Snapshot()))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeProblem(w, http.StatusNotFound, "history disabled")
		return
	}
	filter, format, err := parseHistoryQuery(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, err.Error())
		return
	}
	switch format {
	case "", "json":
		records, err := s.history.List(r.Context(), filter)
		if err != nil {
			s.logger.Error("history list failed", slog.Any("error", err))
			writeProblem(w, http.StatusInternalServerError, "history unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"records": records})
	default:
		f, err := history.ParseFormat(format)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, err.Error())
			return
		}
		contentType := "text/csv"
		if f == history.FormatParquet {
			contentType = "application/vnd.apache.parquet"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=history.%s", f))
		if _, err := s.history.Export(r.Context(), w, f, filter); err != nil {
			s.logger.Error("history export failed", slog.Any("error", err))
		}
	}
}

func parseHistoryQuery(r *http.Request) (history.Filter, string, error) {
	q := r.URL.Query()
	var f history.Filter
	if raw := strings.TrimSpace(q.Get("sender")); raw != "" {
		if !common.IsHexAddress(raw) {
			return f, "", fmt.Errorf("invalid sender %q", raw)
		}
		f.Sender = common.HexToAddress(raw)
	}
	f.Type = txflow.TxType(strings.TrimSpace(q.Get("type")))
	f.Status = history.Status(strings.ToUpper(strings.TrimSpace(q.Get("status"))))
	for key, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
		if raw := strings.TrimSpace(q.Get(key)); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return f, "", fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = t
		}
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, "", fmt.Errorf("invalid limit %q", raw)
		}
		f.Limit = n
	}
	return f, strings.ToLower(strings.TrimSpace(q.Get("format"))), nil
}
