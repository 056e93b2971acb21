package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/database"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/service"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Handlers holds the HTTP handler dependencies. Scheduler, Store and
// Payments may be nil.
type Handlers struct {
	Arbiter           *service.Arbiter
	Verifier          *service.Verifier
	Scheduler         *service.Scheduler
	Payments          *service.PaymentIndex
	Store             database.Store
	Checks            map[string]HealthCheck
	Version           string
	EvaluationTimeout time.Duration
}

// EvaluateDispute handles POST /api/v1/disputes/{key}/evaluate.
// The evaluation is detached from the request so a dropped client does not
// abort a ledger write half way.
func (h *Handlers) EvaluateDispute(w http.ResponseWriter, r *http.Request) {
	key, ok := disputeKey(w, r)
	if !ok {
		return
	}
	timeout := h.EvaluationTimeout
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), timeout)
	defer cancel()

	res, err := h.Arbiter.Evaluate(ctx, key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if h.Scheduler != nil {
		h.Scheduler.Notify(key)
	}
	writeJSON(w, http.StatusOK, res)
}

// ReplayDispute handles POST /api/v1/disputes/{key}/replay.
func (h *Handlers) ReplayDispute(w http.ResponseWriter, r *http.Request) {
	key, ok := disputeKey(w, r)
	if !ok {
		return
	}
	res, err := h.Verifier.Replay(r.Context(), key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// VerifyDispute handles GET /api/v1/disputes/{key}/verify.
func (h *Handlers) VerifyDispute(w http.ResponseWriter, r *http.Request) {
	key, ok := disputeKey(w, r)
	if !ok {
		return
	}
	v, err := h.Verifier.Verify(r.Context(), key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GetCommitment handles GET /api/v1/disputes/{key}/commitment.
func (h *Handlers) GetCommitment(w http.ResponseWriter, r *http.Request) {
	key, ok := disputeKey(w, r)
	if !ok {
		return
	}
	rec, err := h.Arbiter.GetCommitment(r.Context(), key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListDisputes handles GET /api/v1/disputes: the scheduler's tracked set.
func (h *Handlers) ListDisputes(w http.ResponseWriter, _ *http.Request) {
	if h.Scheduler == nil {
		writeJSON(w, http.StatusOK, []service.Tracked{})
		return
	}
	writeJSON(w, http.StatusOK, h.Scheduler.Snapshot())
}

// ListEvaluations handles GET /api/v1/evaluations?dispute=&limit=.
func (h *Handlers) ListEvaluations(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeError(w, http.StatusServiceUnavailable, domain.KindTransient, "evaluation audit is not configured")
		return
	}
	key := r.URL.Query().Get("dispute")
	if key != "" {
		parsed, err := parseKeyParam(key)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		key = parsed
	}
	out, err := h.Store.ListEvaluations(r.Context(), key, queryInt(r, "limit", defaultListLimit, maxListLimit))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GetPayment handles GET /api/v1/payments/{hash}.
func (h *Handlers) GetPayment(w http.ResponseWriter, r *http.Request) {
	if h.Payments == nil {
		writeError(w, http.StatusServiceUnavailable, domain.KindTransient, "payment index is not configured")
		return
	}
	info, err := h.Payments.Get(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type healthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Health handles GET /health (liveness).
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: h.Version})
}

// Ready handles GET /health/ready, probing every dependency.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Version: h.Version, Checks: make(map[string]string, len(h.Checks))}
	status := http.StatusOK
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}
