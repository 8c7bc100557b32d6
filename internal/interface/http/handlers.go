package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alem-hub/edu-progress/internal/application/command"
	"github.com/alem-hub/edu-progress/internal/domain/entitlement"
	"github.com/alem-hub/edu-progress/internal/domain/progress"
	"github.com/alem-hub/edu-progress/internal/domain/shared"
	"github.com/alem-hub/edu-progress/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST TYPES
// ══════════════════════════════════════════════════════════════════════════════

// ChargeRequest is the body of the quota check and consume endpoints.
type ChargeRequest struct {
	Kind string `json:"kind"`
}

// ActivityRequest is the body of POST /api/v1/activities.
type ActivityRequest struct {
	Type           string   `json:"type"`
	Subject        string   `json:"subject,omitempty"`
	RawScore       float64  `json:"raw_score"`
	MaxScore       float64  `json:"max_score"`
	ElapsedSeconds *float64 `json:"elapsed_seconds,omitempty"`

	// Stats is the caller-held aggregate for anonymous visitors.
	Stats *progress.Stats `json:"stats,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & ENTITLEMENTS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

func (s *Server) handleListEntitlements(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, entitlement.All())
}

func (s *Server) handleGetEntitlement(w http.ResponseWriter, r *http.Request) {
	tier, err := entitlement.ParseTier(chi.URLParam(r, "tier"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	policy, _ := entitlement.Get(tier)
	writeJSON(w, r, http.StatusOK, policy)
}

// ══════════════════════════════════════════════════════════════════════════════
// QUOTA
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetQuota(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	dto, err := s.deps.GetQuota.Handle(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto)
}

func (s *Server) handleCheckQuota(w http.ResponseWriter, r *http.Request) {
	s.charge(w, r, true)
}

func (s *Server) handleConsumeQuota(w http.ResponseWriter, r *http.Request) {
	s.charge(w, r, false)
}

// charge answers 200 for both allowed and denied charges; the body carries
// allowed and reason.
func (s *Server) charge(w http.ResponseWriter, r *http.Request, dryRun bool) {
	var req ChargeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	kind, err := entitlement.ParseChargeKind(req.Kind)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	id, _ := identityFrom(r.Context())
	res, err := s.deps.ChargeUsage.Handle(r.Context(), command.ChargeUsageCommand{
		Identity:      id,
		Kind:          kind,
		DryRun:        dryRun,
		CorrelationID: middleware.GetReqID(r.Context()),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleCompleteActivity(w http.ResponseWriter, r *http.Request) {
	var req ActivityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	activityType, err := progress.ParseActivityType(req.Type)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	id, _ := identityFrom(r.Context())
	res, err := s.deps.CompleteActivity.Handle(r.Context(), command.CompleteActivityCommand{
		Identity: id,
		Outcome: progress.Outcome{
			Type:           activityType,
			Subject:        req.Subject,
			RawScore:       req.RawScore,
			MaxScore:       req.MaxScore,
			ElapsedSeconds: req.ElapsedSeconds,
		},
		Stats:         req.Stats,
		CorrelationID: middleware.GetReqID(r.Context()),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	dto, err := s.deps.GetProgress.Handle(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto)
}

func (s *Server) handleListBadges(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	dto, err := s.deps.ListBadges.Handle(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      interface{}   `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC(), Version: "v1"},
		RequestID: middleware.GetReqID(r.Context()),
	})
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(JSONResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message},
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// writeDomainError maps domain error kinds to HTTP statuses.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case shared.IsValidation(err), errors.Is(err, shared.ErrInvalidFormat):
		writeJSONError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
	case shared.IsNotFound(err):
		writeJSONError(w, r, http.StatusNotFound, "not_found", err.Error())
	case shared.IsExternalService(err):
		logger.FromContext(r.Context()).Warn("store unavailable", "path", r.URL.Path, "error", err)
		writeJSONError(w, r, http.StatusServiceUnavailable, "unavailable", "storage is temporarily unavailable")
	default:
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		writeJSONError(w, r, http.StatusInternalServerError, "internal", "internal server error")
	}
}

// decodeBody decodes a JSON body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeJSONError(w, r, http.StatusBadRequest, "invalid_body", "request body is empty")
			return false
		}
		writeJSONError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return false
	}
	return true
}
