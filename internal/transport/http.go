package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rpggio/overseer/internal/domain/activity"
	"github.com/rpggio/overseer/internal/domain/approval"
	"github.com/rpggio/overseer/internal/domain/mode"
	"github.com/rpggio/overseer/internal/feed"
)

const maxBodyBytes = 1 << 20

// Ledger is the read side of the activity store.
type Ledger interface {
	Get(ctx context.Context, id int64) (*activity.Activity, error)
	Query(ctx context.Context, f activity.Filter) ([]activity.Activity, error)
	GetChain(ctx context.Context, id int64) ([]activity.Activity, error)
}

// Modes records activities through the gating policy and manages the mode.
type Modes interface {
	Submit(ctx context.Context, d activity.Draft) (*mode.Outcome, error)
	Current(ctx context.Context) (mode.State, error)
	SetMode(ctx context.Context, m mode.Mode, d time.Duration) (mode.State, error)
}

// Approvals resolves gated activities.
type Approvals interface {
	ListPending(ctx context.Context) ([]approval.PendingApproval, error)
	Approve(ctx context.Context, id int64, approver, comment string) (*activity.Activity, error)
	Reject(ctx context.Context, id int64, approver, reason string) (*activity.Activity, error)
}

// Feed hands out live subscriptions.
type Feed interface {
	Subscribe(filter activity.Filter) *feed.Subscription
	Unsubscribe(sub *feed.Subscription)
}

// Config wires the HTTP surface.
type Config struct {
	Ledger    Ledger
	Modes     Modes
	Approvals Approvals
	Feed      Feed

	// Auth guards /api and /mcp when set.
	Auth func(http.Handler) http.Handler
	// MCP is mounted at /mcp when set.
	MCP http.Handler

	Logger *slog.Logger
	// OnInternal receives unexpected errors, e.g. for error reporting.
	OnInternal func(error)
	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
}

type server struct {
	cfg    Config
	logger *slog.Logger
}

// NewServer creates the HTTP router.
func NewServer(cfg Config) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	s := &server{cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(logger))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if cfg.Auth != nil {
			r.Use(cfg.Auth)
		}

		r.Route("/api/v1", func(r chi.Router) {
			r.Route("/activities", func(r chi.Router) {
				r.Post("/", s.handleRecord)
				r.Get("/", s.handleList)
				r.Get("/stream", s.handleStream)
				r.Get("/{id}", s.handleGet)
			})
			r.Route("/approvals", func(r chi.Router) {
				r.Get("/", s.handleListPending)
				r.Post("/{id}/approve", s.handleApprove)
				r.Post("/{id}/reject", s.handleReject)
			})
			r.Get("/mode", s.handleGetMode)
			r.Put("/mode", s.handleSetMode)
		})

		if cfg.MCP != nil {
			r.Handle("/mcp", cfg.MCP)
		}
	})

	return r
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	WriteError(w, r, s.logger, err, s.cfg.OnInternal)
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// RecordRequest is the body of POST /api/v1/activities.
type RecordRequest struct {
	activity.Draft
	ApprovalTimeout string `json:"approvalTimeout,omitempty"`
}

func (s *server) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req RecordRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	draft := req.Draft
	timeout, err := ParseApprovalTimeout(req.ApprovalTimeout)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	draft.ApprovalTimeout = timeout

	outcome, err := s.cfg.Modes.Submit(r.Context(), draft)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	status := http.StatusCreated
	if outcome.Decision == mode.Queue {
		status = http.StatusAccepted
	}
	writeJSON(w, status, outcome)
}

// ListResponse is one page of activities, newest first.
type ListResponse struct {
	Activities   []activity.Activity `json:"activities"`
	NextBeforeID int64               `json:"nextBeforeId,omitempty"`
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseFilter(r.URL.Query())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	items, err := s.cfg.Ledger.Query(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewListResponse(items, filter))
}

// NewListResponse sets the page cursor when the page is full.
func NewListResponse(items []activity.Activity, f activity.Filter) ListResponse {
	if items == nil {
		items = []activity.Activity{}
	}
	resp := ListResponse{Activities: items}
	limit := f.Limit
	if limit <= 0 {
		limit = activity.DefaultListLimit
	}
	if len(items) > 0 && len(items) >= min(limit, activity.MaxListLimit) {
		resp.NextBeforeID = items[len(items)-1].ID
	}
	return resp
}

// DetailResponse is an activity with its optional causal chain.
type DetailResponse struct {
	Activity      *activity.Activity  `json:"activity"`
	Chain         []activity.Activity `json:"chain,omitempty"`
	UnknownParent bool                `json:"unknownParent,omitempty"`
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	a, err := s.cfg.Ledger.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := DetailResponse{Activity: a}

	if include, _ := strconv.ParseBool(r.URL.Query().Get("includeChain")); include {
		chain, err := s.cfg.Ledger.GetChain(r.Context(), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		resp.Chain = chain
		resp.UnknownParent = len(chain) > 0 && chain[0].ParentID != nil
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleListPending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.cfg.Approvals.ListPending(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if pending == nil {
		pending = []approval.PendingApproval{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": pending})
}

// DecisionRequest is the body of approve and reject.
type DecisionRequest struct {
	Approver string `json:"approver,omitempty"`
	Comment  string `json:"comment,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func (s *server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.handleDecision(w, r, s.cfg.Approvals.Approve, func(req DecisionRequest) string { return req.Comment })
}

func (s *server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.handleDecision(w, r, s.cfg.Approvals.Reject, func(req DecisionRequest) string { return req.Reason })
}

type decideFunc func(ctx context.Context, id int64, approver, note string) (*activity.Activity, error)

func (s *server) handleDecision(w http.ResponseWriter, r *http.Request, decide decideFunc, note func(DecisionRequest) string) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var req DecisionRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	a, err := decide(r.Context(), id, Approver(r.Context(), req.Approver), note(req))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	state, err := s.cfg.Modes.Current(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// ModeRequest is the body of PUT /api/v1/mode.
type ModeRequest struct {
	Mode     string `json:"mode"`
	Duration string `json:"duration,omitempty"`
}

func (s *server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req ModeRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	m, d, err := ParseModeChange(req.Mode, req.Duration)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	state, err := s.cfg.Modes.SetMode(r.Context(), m, d)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	s.logger.Info("mode changed via http", "mode", state.Mode, "principal", principal, "revert_at", state.RevertAt)
	writeJSON(w, http.StatusOK, state)
}

// Approver picks the identity recorded on a decision. An authenticated
// principal always wins over a self-declared approver.
func Approver(ctx context.Context, declared string) string {
	if principal, ok := PrincipalFromContext(ctx); ok {
		return principal
	}
	return strings.TrimSpace(declared)
}

// ParseApprovalTimeout parses an optional positive duration. "" means the
// configured default.
func ParseApprovalTimeout(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, InvalidInput("approvalTimeout %q is not a positive duration", raw)
	}
	return d, nil
}

// ParseModeChange validates a requested mode and its optional duration.
func ParseModeChange(rawMode, rawDuration string) (mode.Mode, time.Duration, error) {
	m, err := mode.ParseMode(rawMode)
	if err != nil {
		return "", 0, err
	}
	if rawDuration == "" {
		return m, 0, nil
	}
	d, err := time.ParseDuration(rawDuration)
	if err != nil {
		return "", 0, InvalidInput("duration %q: %v", rawDuration, err)
	}
	return m, d, nil
}

// ParseFilter builds an activity filter from query parameters.
func ParseFilter(q map[string][]string) (activity.Filter, error) {
	get := func(key string) string {
		if v := q[key]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}

	var f activity.Filter
	if v := get("source"); v != "" {
		src := activity.Source(v)
		f.Source = &src
	}
	if v := get("actionType"); v != "" {
		at := activity.ActionType(v)
		f.ActionType = &at
	}
	if v := get("result"); v != "" {
		res := activity.Result(v)
		f.Result = &res
	}
	if v := get("target"); v != "" {
		f.Target = &v
	}
	if v := get("parentId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, InvalidInput("parentId %q is not an integer", v)
		}
		f.ParentID = &id
	}
	if v := get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return f, InvalidInput("since %q is not RFC 3339", v)
		}
		f.Since = ts
	}
	if v := get("until"); v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return f, InvalidInput("until %q is not RFC 3339", v)
		}
		f.Until = ts
	}
	if v := get("resolvedSince"); v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return f, InvalidInput("resolvedSince %q is not RFC 3339", v)
		}
		f.ResolvedSince = ts
	}
	if v := get("beforeId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, InvalidInput("beforeId %q is not an integer", v)
		}
		f.BeforeID = id
	}
	if v := get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, InvalidInput("limit %q is not an integer", v)
		}
		f.Limit = n
	}
	if err := activity.ValidateFilter(f); err != nil {
		return f, err
	}
	return f, nil
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, InvalidInput("id %q is not a positive integer", raw)
	}
	return id, nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return InvalidInput("invalid JSON body: %v", err)
	}
	return nil
}
