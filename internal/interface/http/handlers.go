package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dentameet/matching-engine/internal/application/command"
	"github.com/dentameet/matching-engine/internal/application/query"
	"github.com/dentameet/matching-engine/internal/domain/interaction"
	"github.com/dentameet/matching-engine/internal/domain/shared"
	"github.com/dentameet/matching-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeData(w, r, http.StatusOK, map[string]interface{}{
		"name":    "Matching Engine API",
		"version": s.config.Version,
		"endpoints": map[string]string{
			"candidates":   "GET /api/v1/users/{id}/candidates",
			"matches":      "GET /api/v1/users/{id}/matches",
			"interactions": "POST /api/v1/interactions",
			"unmatch":      "DELETE /api/v1/interactions/{pairKey}",
			"health":       "GET /health",
		},
	})
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Healthy {
		writeData(w, r, http.StatusServiceUnavailable, status)
		return
	}
	writeData(w, r, http.StatusOK, status)
}

// handleReady handles the readiness probe endpoint (for Kubernetes).
// A failed optional check leaves the service ready.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Ready {
		writeData(w, r, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": status.Message,
		})
		return
	}
	writeData(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeData(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// DISCOVERY
// ══════════════════════════════════════════════════════════════════════════════

// handleDiscoverCandidates handles GET /api/v1/users/{id}/candidates?role=&limit=
func (s *Server) handleDiscoverCandidates(w http.ResponseWriter, r *http.Request) {
	if s.deps.DiscoverCandidates == nil {
		writeProblem(w, r, http.StatusNotImplemented, "not_implemented", "Discovery not configured")
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.DiscoverCandidates.Handle(r.Context(), query.DiscoverCandidatesQuery{
		RequesterID: r.PathValue("id"),
		Role:        r.URL.Query().Get("role"),
		Limit:       limit,
	})
	if result != nil && result.Degraded {
		// Degraded discovery still answers with an explicit empty list.
		writeData(w, r, http.StatusServiceUnavailable, result)
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeList(w, r, http.StatusOK, result, len(result.Candidates))
}

// ══════════════════════════════════════════════════════════════════════════════
// INTERACTIONS
// ══════════════════════════════════════════════════════════════════════════════

// RecordActionRequest is the body of POST /api/v1/interactions.
type RecordActionRequest struct {
	ActingUserID string `json:"acting_user_id"`
	TargetUserID string `json:"target_user_id"`
	Action       string `json:"action"`
}

// InteractionResponse describes the pair after a recorded decision.
type InteractionResponse struct {
	PairKey      string            `json:"pair_key"`
	RecordID     string            `json:"record_id"`
	State        interaction.State `json:"state"`
	IsMutual     bool              `json:"is_mutual"`
	BecameMutual bool              `json:"became_mutual"`
	Created      bool              `json:"created"`
	Notified     bool              `json:"notified"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// handleRecordAction handles POST /api/v1/interactions
func (s *Server) handleRecordAction(w http.ResponseWriter, r *http.Request) {
	if s.deps.RecordAction == nil {
		writeProblem(w, r, http.StatusNotImplemented, "not_implemented", "Interactions not configured")
		return
	}

	var req RecordActionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	result, err := s.deps.RecordAction.Handle(r.Context(), command.RecordActionCommand{
		ActingUserID:  req.ActingUserID,
		TargetUserID:  req.TargetUserID,
		Action:        req.Action,
		CorrelationID: requestIDFrom(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rec := result.Record
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeData(w, r, status, InteractionResponse{
		PairKey:      rec.PairKey.String(),
		RecordID:     rec.ID,
		State:        rec.State(),
		IsMutual:     rec.IsMutual,
		BecameMutual: result.BecameMutual,
		Created:      result.Created,
		Notified:     result.Notified,
		UpdatedAt:    rec.UpdatedAt,
	})
}

// UnmatchResponse describes a removed pair.
type UnmatchResponse struct {
	PairKey       string `json:"pair_key"`
	CounterpartID string `json:"counterpart_id"`
	WasMutual     bool   `json:"was_mutual"`
}

// handleUnmatch handles DELETE /api/v1/interactions/{pairKey}?user_id=
func (s *Server) handleUnmatch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Unmatch == nil {
		writeProblem(w, r, http.StatusNotImplemented, "not_implemented", "Unmatch not configured")
		return
	}

	result, err := s.deps.Unmatch.Handle(r.Context(), command.UnmatchCommand{
		UserID:        r.URL.Query().Get("user_id"),
		PairKey:       r.PathValue("pairKey"),
		CorrelationID: requestIDFrom(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeData(w, r, http.StatusOK, UnmatchResponse{
		PairKey:       result.PairKey.String(),
		CounterpartID: result.CounterpartID.String(),
		WasMutual:     result.WasMutual,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// MATCHES
// ══════════════════════════════════════════════════════════════════════════════

// handleListMatches handles GET /api/v1/users/{id}/matches?limit=
func (s *Server) handleListMatches(w http.ResponseWriter, r *http.Request) {
	if s.deps.ListMatches == nil {
		writeProblem(w, r, http.StatusNotImplemented, "not_implemented", "Matches not configured")
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	q := query.ListMatchesQuery{UserID: r.PathValue("id")}
	if limit != nil {
		q.Limit = *limit
	}
	matches, err := s.deps.ListMatches.Handle(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeList(w, r, http.StatusOK, matches, len(matches))
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// writeError maps an engine error onto a status code by its kind.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case shared.IsValidation(err):
		status, code = http.StatusBadRequest, "invalid_request"
	case shared.IsNotFound(err):
		status, code = http.StatusNotFound, "not_found"
	case shared.IsConflict(err):
		status, code = http.StatusConflict, "conflict"
	case shared.IsStoreUnavailable(err):
		status, code = http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "timeout"
	}

	message := http.StatusText(status)
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) && status < http.StatusInternalServerError {
		message = domainErr.Message
	}

	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", logger.Err(err), logger.String("path", r.URL.Path))
	} else {
		log.Debug("request rejected", logger.Err(err), logger.String("path", r.URL.Path))
	}

	writeProblem(w, r, status, code, message)
}

// parseLimit reads ?limit=. Absent yields nil (handler default); anything
// other than a positive integer, zero included, is rejected.
func parseLimit(r *http.Request) (*int, error) {
	if !r.URL.Query().Has("limit") {
		return nil, nil
	}
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return nil, shared.ErrInvalidLimit
	}
	return &n, nil
}
