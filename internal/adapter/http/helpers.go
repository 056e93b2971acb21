package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/dispute"
)

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// disputeKey parses the {key} URL parameter, writing a 400 on failure.
func disputeKey(w http.ResponseWriter, r *http.Request) (dispute.Key, bool) {
	key, err := dispute.ParseKey(chi.URLParam(r, "key"))
	if err != nil {
		writeDomainError(w, err)
		return "", false
	}
	return key, true
}

func parseKeyParam(s string) (string, error) {
	k, err := dispute.ParseKey(s)
	if err != nil {
		return "", err
	}
	return k.String(), nil
}

// queryInt reads an integer query parameter, falling back to def when absent
// or malformed and clamping to limit.
func queryInt(r *http.Request, name string, def, limit int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 1 {
		return def
	}
	return min(v, limit)
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, kind domain.Kind, message string) {
	writeJSON(w, status, errorResponse{Error: message, Kind: string(kind)})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindMalformedOutput, domain.KindNoEvidence:
		return http.StatusUnprocessableEntity
	case domain.KindTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeDomainError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)
	switch {
	case status == http.StatusInternalServerError:
		slog.Error("request failed", "error", err)
		writeError(w, status, domain.KindInternal, "internal server error")
		return
	case status == http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "5")
	}

	msg := err.Error()
	var de *domain.Error
	if errors.As(err, &de) {
		msg = de.Msg
	}
	writeError(w, status, kind, msg)
}
