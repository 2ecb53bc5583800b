// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mstepanko/classreg/internal/engine"
	"github.com/mstepanko/classreg/internal/model"
	"github.com/mstepanko/classreg/internal/service"
)

// RegistrationHandler holds all HTTP handlers for the registration API.
type RegistrationHandler struct {
	svc *service.RegistrationService
}

// NewRegistrationHandler constructs a RegistrationHandler.
func NewRegistrationHandler(svc *service.RegistrationService) *RegistrationHandler {
	return &RegistrationHandler{svc: svc}
}

// Routes mounts all API routes on the router.
func (h *RegistrationHandler) Routes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Get("/", h.ListSessions)
		r.Get("/{id}", h.GetSession)
		r.Delete("/{id}", h.DeleteSession)
		r.Get("/{id}/trainers/{trainerID}/occupancy", h.Occupancy)
		r.Post("/{id}/trainers/{trainerID}/register", h.Register)
	})
	r.Route("/registrations", func(r chi.Router) {
		r.Get("/{id}", h.GetRegistration)
		r.Post("/{id}/cancel", h.Cancel)
		r.Post("/{id}/remove", h.Remove)
	})
	r.Post("/checkin/verify", h.VerifyCheckin)
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeEngineError maps the engine error taxonomy onto HTTP statuses.
// Retryable conditions carry a Retry-After hint.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, engine.ErrForged):
		writeError(w, http.StatusUnauthorized, "check-in payload rejected")
	case errors.Is(err, engine.ErrContention), errors.Is(err, engine.ErrUnavailable):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable, retry")
	case errors.Is(err, engine.ErrInvariantViolation), errors.Is(err, engine.ErrCodeSpaceExhausted):
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

// ─── Session handlers ─────────────────────────────────────────────────────────

// CreateSession handles POST /sessions
func (h *RegistrationHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req model.CreateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	session, err := h.svc.CreateSession(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// ListSessions handles GET /sessions
func (h *RegistrationHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.svc.ListSessions(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if sessions == nil {
		sessions = []model.Session{}
	}

	writeJSON(w, http.StatusOK, sessions)
}

// GetSession handles GET /sessions/{id}
// Loading a session triggers the opportunistic consistency audit.
func (h *RegistrationHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.svc.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// DeleteSession handles DELETE /sessions/{id}
// Cancels every registration in the session, then removes it.
func (h *RegistrationHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeEngineError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Occupancy handles GET /sessions/{id}/trainers/{trainerID}/occupancy
func (h *RegistrationHandler) Occupancy(w http.ResponseWriter, r *http.Request) {
	occ, err := h.svc.Occupancy(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "trainerID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, occ)
}

// ─── Registration handlers ────────────────────────────────────────────────────

// Register handles POST /sessions/{id}/trainers/{trainerID}/register
// A full slot yields a waitlisted registration, still HTTP 201.
func (h *RegistrationHandler) Register(w http.ResponseWriter, r *http.Request) {
	var contact model.Contact
	if err := decodeJSON(r, &contact); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	reg, err := h.svc.Register(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "trainerID"), contact)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, reg.View(true))
}

// GetRegistration handles GET /registrations/{id}
// Contact detail is masked; unmasking is for authorized callers only, and
// authorization lives outside this service.
func (h *RegistrationHandler) GetRegistration(w http.ResponseWriter, r *http.Request) {
	reg, err := h.svc.GetRegistration(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reg.View(false))
}

// Cancel handles POST /registrations/{id}/cancel
// Idempotent: cancelling twice succeeds both times.
func (h *RegistrationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeEngineError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// removeRequest is the payload for the administrative remove.
type removeRequest struct {
	Actor string `json:"actor"`
}

// Remove handles POST /registrations/{id}/remove
func (h *RegistrationHandler) Remove(w http.ResponseWriter, r *http.Request) {
	var req removeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.svc.Remove(r.Context(), chi.URLParam(r, "id"), req.Actor); err != nil {
		writeEngineError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// VerifyCheckin handles POST /checkin/verify
func (h *RegistrationHandler) VerifyCheckin(w http.ResponseWriter, r *http.Request) {
	var req model.VerifyCheckinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	reg, err := h.svc.VerifyCheckin(r.Context(), req.Payload)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reg.View(true))
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
