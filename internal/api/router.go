package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-cloudlink/internal/bindings/metoffice"
	"github.com/nerrad567/gray-logic-cloudlink/internal/bindings/unifiprotect"
	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/client"
	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/limiter"
	"github.com/nerrad567/gray-logic-cloudlink/internal/relay"
)

// healthCheckTimeout bounds each component probe.
const healthCheckTimeout = 3 * time.Second

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/limiters", func(r chi.Router) {
			r.Get("/", s.handleListLimiters)
			r.Get("/{source}", s.handleGetLimiter)
		})

		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.handleListSources)
			r.Post("/{source}/poll/{kind}", s.handlePoll)
		})
	})

	return r
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components,omitempty"`
}

// handleHealth probes every registered component. Any failure marks the
// service degraded with 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Version: s.version}
	if len(s.checks) > 0 {
		resp.Components = make(map[string]string, len(s.checks))
	}

	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check.HealthCheck(ctx)
		cancel()
		if err != nil {
			resp.Components[name] = err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Components[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// BudgetResponse is one binding's daily budget.
type BudgetResponse struct {
	Source     string    `json:"source"`
	Limiter    string    `json:"limiter"`
	DailyLimit int       `json:"daily_limit"`
	Used       int       `json:"used"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
}

func newBudgetResponse(source string, b limiter.Budget) BudgetResponse {
	return BudgetResponse{
		Source:     source,
		Limiter:    b.ID,
		DailyLimit: b.DailyLimit,
		Used:       b.Used,
		Remaining:  b.Remaining(),
		ResetAt:    b.ResetAt.UTC(),
	}
}

func (s *Server) handleListLimiters(w http.ResponseWriter, _ *http.Request) {
	out := make([]BudgetResponse, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, newBudgetResponse(name, s.sources[name].Limiter().Snapshot()))
	}
	writeJSON(w, http.StatusOK, map[string]any{"limiters": out})
}

func (s *Server) handleGetLimiter(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "source")
	src, ok := s.sources[name]
	if !ok {
		writeNotFound(w, "unknown source "+name)
		return
	}
	writeJSON(w, http.StatusOK, newBudgetResponse(name, src.Limiter().Snapshot()))
}

func (s *Server) handleListSources(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "status tracking not configured")
		return
	}

	out := s.status.Status()
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

// handlePoll runs a poll command synchronously and reports its outcome.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "poll commands not configured")
		return
	}

	var cmd relay.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	source := chi.URLParam(r, "source")
	kind := chi.URLParam(r, "kind")
	err := s.dispatcher.Dispatch(r.Context(), source, cmd.Subject, kind)
	if err != nil {
		s.writePollError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"source":  source,
		"subject": cmd.Subject,
		"kind":    kind,
	})
}

func (s *Server) writePollError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, relay.ErrUnknownSource),
		errors.Is(err, metoffice.ErrUnknownSite):
		writeNotFound(w, err.Error())
	case errors.Is(err, metoffice.ErrUnknownKind),
		errors.Is(err, unifiprotect.ErrUnknownKind):
		writeBadRequest(w, err.Error())
	case errors.Is(err, client.ErrRateLimitExceeded):
		writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, err.Error())
	case errors.Is(err, client.ErrAuthentication):
		writeError(w, http.StatusBadGateway, ErrCodeUpstreamAuth, err.Error())
	default:
		s.logger.Warn("poll command failed", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
	}
}
