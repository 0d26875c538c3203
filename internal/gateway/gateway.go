// Package gateway is the local HTTP surface over the planning session. All
// mutations funnel through the session so gateway and TUI observe the same
// state machine.
package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/basket/quarterdeck/internal/bus"
	"github.com/basket/quarterdeck/internal/cron"
	"github.com/basket/quarterdeck/internal/generation"
	"github.com/basket/quarterdeck/internal/otel"
	"github.com/basket/quarterdeck/internal/period"
	"github.com/basket/quarterdeck/internal/persistence"
	"github.com/basket/quarterdeck/internal/plan"
	"github.com/basket/quarterdeck/internal/planning"
	"github.com/basket/quarterdeck/internal/shared"
)

type Config struct {
	Session *planning.Session
	Store   *persistence.Store
	Bus     *bus.Bus
	Logger  *slog.Logger

	// AuthToken guards the /api endpoints. Empty disables auth; acceptable
	// only behind the default loopback bind.
	AuthToken string

	// ConfigFingerprint is the hash of the active config exposed in /api/status.
	ConfigFingerprint string

	// LLMEnabled reports whether a generation backend is configured, for
	// /api/status. Nil reads as false.
	LLMEnabled func() bool

	// Metrics records request durations when set.
	Metrics *otel.Metrics
}

type Server struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: logger}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/plan", s.handlePlan)
	mux.HandleFunc("/api/targets", s.handleTargets)
	mux.HandleFunc("/api/expand", s.handleExpand)
	mux.HandleFunc("/api/primary", s.handlePrimary)
	mux.HandleFunc("/api/actions/generate", s.handleGenerateActions)
	mux.HandleFunc("/api/selections", s.handleSelections)
	mux.HandleFunc("/api/period", s.handlePeriod)
	mux.HandleFunc("/api/periods", s.handlePeriods)
	mux.HandleFunc("/api/status", s.handleStatus)
	return s.withRequestID(mux)
}

// withRequestID tags every request with a request id and records duration.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := shared.WithRequestID(r.Context(), reqID)
		w.Header().Set("X-Request-ID", reqID)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RequestDuration.Record(ctx, time.Since(start).Seconds())
		}
	})
}

func (s *Server) authorize(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	return token != "" && token == s.cfg.AuthToken
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if _, err := s.cfg.Store.ListPeriods(r.Context()); err != nil {
		dbOK = false
	}
	payload := map[string]any{
		"healthy": dbOK,
		"db_ok":   dbOK,
		"period":  s.cfg.Session.Period().String(),
	}
	w.Header().Set("Content-Type", "application/json")
	if !dbOK {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// domainView is the per-domain slice of the plan exposed over the API.
type domainView struct {
	Target1          string        `json:"target1,omitempty"`
	Narrative1       string        `json:"narrative1,omitempty"`
	Target2          string        `json:"target2,omitempty"`
	Narrative2       string        `json:"narrative2,omitempty"`
	PrimaryIsTarget1 *bool         `json:"primary_is_target1,omitempty"`
	Missions1        plan.MonthMap `json:"missions1,omitempty"`
	Missions2        plan.MonthMap `json:"missions2,omitempty"`
	Gate             string        `json:"gate"`
	Stage            string        `json:"stage,omitempty"`
	Actions          []string      `json:"actions,omitempty"`
	Selections       []string      `json:"selections,omitempty"`
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	snap := s.cfg.Session.Snapshot()
	domains := make(map[string]domainView, len(plan.AllDomains))
	for _, d := range plan.AllDomains {
		t := snap.Targets[d]
		view := domainView{
			Target1:          t.Target1,
			Narrative1:       t.Narrative1,
			Target2:          t.Target2,
			Narrative2:       t.Narrative2,
			PrimaryIsTarget1: t.PrimaryIsTarget1,
			Missions1:        t.Missions1,
			Missions2:        t.Missions2,
			Gate:             plan.Gate(t).String(),
			Stage:            snap.Stages[d],
			Actions:          snap.ActionSets[d],
			Selections:       snap.Selections[d],
		}
		domains[string(d)] = view
	}
	months := snap.Period.Months()
	payload := map[string]any{
		"period":      snap.Period.String(),
		"display":     snap.Period.Display(),
		"months":      months[:],
		"domains":     domains,
		"can_proceed": snap.CanProceed,
		"expanding":   snap.Expanding,
		"generating":  snap.Generating,
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Domain     string `json:"domain"`
		Target1    string `json:"target1"`
		Narrative1 string `json:"narrative1"`
		Target2    string `json:"target2"`
		Narrative2 string `json:"narrative2"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	d, err := plan.ParseDomain(req.Domain)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.cfg.Session.UpdateTargets(r.Context(), d, plan.Targets{
		Target1:    strings.TrimSpace(req.Target1),
		Narrative1: strings.TrimSpace(req.Narrative1),
		Target2:    strings.TrimSpace(req.Target2),
		Narrative2: strings.TrimSpace(req.Narrative2),
	})
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	failures, err := s.cfg.Session.ExpandMissions(r.Context())
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       len(failures) == 0,
		"failures": failureStrings(failures),
	})
}

func (s *Server) handlePrimary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Domain    string `json:"domain"`
		IsTarget1 *bool  `json:"is_target1"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.IsTarget1 == nil {
		http.Error(w, "is_target1 required", http.StatusBadRequest)
		return
	}
	d, err := plan.ParseDomain(req.Domain)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.cfg.Session.SelectPrimary(r.Context(), d, *req.IsTarget1); err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleGenerateActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	failures, err := s.cfg.Session.GenerateDailyActions(r.Context())
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       len(failures) == 0,
		"failures": failureStrings(failures),
	})
}

func (s *Server) handleSelections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Selections map[string][]string `json:"selections"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	for raw, subset := range req.Selections {
		d, err := plan.ParseDomain(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.cfg.Session.SetSelection(d, subset)
	}
	// Accepted into the debounce window, not yet durable.
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (s *Server) handlePeriod(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Period string `json:"period"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	key, err := period.Parse(req.Period)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.cfg.Session.SetPeriod(r.Context(), key); err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"period":  key.String(),
		"display": key.Display(),
	})
}

func (s *Server) handlePeriods(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	periods, err := s.cfg.Store.ListPeriods(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"periods": periods})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	llmOn := false
	if s.cfg.LLMEnabled != nil {
		llmOn = s.cfg.LLMEnabled()
	}
	payload := map[string]any{
		"period":             s.cfg.Session.Period().String(),
		"can_proceed":        s.cfg.Session.CanProceed(),
		"expanding":          s.cfg.Session.Expanding(),
		"generating":         s.cfg.Session.Generating(),
		"llm_enabled":        llmOn,
		"config_fingerprint": s.cfg.ConfigFingerprint,
		"subscribers":        s.subscriberCount(),
		"version":            otel.Version,
	}
	if boundary, err := cron.NextBoundary(time.Now()); err == nil {
		payload["next_boundary"] = boundary.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) subscriberCount() int {
	if s.cfg.Bus == nil {
		return 0
	}
	return s.cfg.Bus.SubscriberCount()
}

// writeSessionError maps session errors onto HTTP statuses.
func (s *Server) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, planning.ErrNoTargets):
		status = http.StatusConflict
	case errors.Is(err, planning.ErrGateNotApplicable):
		status = http.StatusConflict
	case errors.Is(err, planning.ErrExpansionInFlight), errors.Is(err, planning.ErrGenerationInFlight):
		status = http.StatusTooManyRequests
	case errors.Is(err, planning.ErrSessionClosed):
		status = http.StatusServiceUnavailable
	}
	var verr *generation.ValidationError
	if errors.As(err, &verr) {
		status = http.StatusBadGateway
	}
	s.logger.Warn("request failed",
		"path", r.URL.Path,
		"status", status,
		"request_id", shared.RequestID(r.Context()),
		"error", err,
	)
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func failureStrings(failures map[plan.Domain]error) map[string]string {
	out := make(map[string]string, len(failures))
	for d, err := range failures {
		out[string(d)] = err.Error()
	}
	return out
}
