// Package service implements input validation and orchestration between
// HTTP handlers and the registration engine.
package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode"

	"github.com/mstepanko/classreg/internal/engine"
	"github.com/mstepanko/classreg/internal/model"
)

// RegistrationService validates requests and delegates to the engine.
type RegistrationService struct {
	engine *engine.Engine
}

// NewRegistrationService constructs a RegistrationService.
func NewRegistrationService(eng *engine.Engine) *RegistrationService {
	return &RegistrationService{engine: eng}
}

// CreateSession validates the request and creates the session with its
// trainer slots.
func (s *RegistrationService) CreateSession(ctx context.Context, req model.CreateSessionRequest) (*model.Session, error) {
	if req.StartsAt.IsZero() {
		return nil, fmt.Errorf("starts_at is required")
	}
	if req.DurationMinutes <= 0 {
		return nil, fmt.Errorf("duration_minutes must be a positive integer")
	}
	if len(req.Slots) == 0 {
		return nil, fmt.Errorf("at least one trainer slot is required")
	}
	seen := make(map[string]bool, len(req.Slots))
	for i := range req.Slots {
		req.Slots[i].TrainerID = strings.TrimSpace(req.Slots[i].TrainerID)
		if req.Slots[i].TrainerID == "" {
			return nil, fmt.Errorf("trainer_id is required for every slot")
		}
		if seen[req.Slots[i].TrainerID] {
			return nil, fmt.Errorf("duplicate trainer %q", req.Slots[i].TrainerID)
		}
		seen[req.Slots[i].TrainerID] = true
		if req.Slots[i].Capacity < 0 && req.Slots[i].Capacity != model.CapacityUnlimited {
			return nil, fmt.Errorf("capacity must be non-negative or %d for unlimited", model.CapacityUnlimited)
		}
	}
	duration := time.Duration(req.DurationMinutes) * time.Minute
	return s.engine.CreateSession(ctx, req.StartsAt.UTC(), duration, req.Slots)
}

// GetSession loads a session with per-slot occupancy, running the
// opportunistic consistency audit first. Audit failures are logged and never
// block the read.
func (s *RegistrationService) GetSession(ctx context.Context, id string) (*model.Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if err := s.engine.Audit(ctx, id); err != nil {
		log.Printf("audit session %s: %v", id, err)
	}
	return s.engine.Session(ctx, id)
}

// ListSessions returns all sessions ordered by start time.
func (s *RegistrationService) ListSessions(ctx context.Context) ([]model.Session, error) {
	return s.engine.Sessions(ctx)
}

// DeleteSession removes the session, cancelling all its registrations.
func (s *RegistrationService) DeleteSession(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	return s.engine.DeleteSession(ctx, id)
}

// Register validates the contact and places the participant on the slot.
func (s *RegistrationService) Register(ctx context.Context, sessionID, trainerID string, contact model.Contact) (*model.Registration, error) {
	if sessionID == "" || trainerID == "" {
		return nil, fmt.Errorf("session id and trainer id are required")
	}
	contact.Name = strings.TrimSpace(contact.Name)
	contact.Email = strings.TrimSpace(strings.ToLower(contact.Email))
	contact.Phone = strings.TrimSpace(contact.Phone)
	if contact.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if contact.Email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if !isPlausibleEmail(contact.Email) {
		return nil, fmt.Errorf("email is not a valid email address")
	}
	if contact.Phone == "" {
		return nil, fmt.Errorf("phone is required")
	}
	if !isPlausiblePhone(contact.Phone) {
		return nil, fmt.Errorf("phone is not a valid phone number")
	}
	return s.engine.Register(ctx, sessionID, trainerID, contact)
}

// Cancel transitions a registration to cancelled; idempotent.
func (s *RegistrationService) Cancel(ctx context.Context, registrationID string) error {
	if registrationID == "" {
		return fmt.Errorf("registration id is required")
	}
	return s.engine.Cancel(ctx, registrationID)
}

// Remove is the administrative cancel. The actor is recorded for the log;
// authorizing the actor is the caller's concern.
func (s *RegistrationService) Remove(ctx context.Context, registrationID, actor string) error {
	if registrationID == "" {
		return fmt.Errorf("registration id is required")
	}
	if strings.TrimSpace(actor) == "" {
		return fmt.Errorf("actor is required")
	}
	return s.engine.Remove(ctx, registrationID, actor)
}

// GetRegistration returns a registration by ID.
func (s *RegistrationService) GetRegistration(ctx context.Context, id string) (*model.Registration, error) {
	if id == "" {
		return nil, fmt.Errorf("registration id is required")
	}
	return s.engine.Registration(ctx, id)
}

// Occupancy returns a slot's occupancy summary.
func (s *RegistrationService) Occupancy(ctx context.Context, sessionID, trainerID string) (*model.Occupancy, error) {
	if sessionID == "" || trainerID == "" {
		return nil, fmt.Errorf("session id and trainer id are required")
	}
	return s.engine.Occupancy(ctx, sessionID, trainerID)
}

// VerifyCheckin authenticates a scanned payload against stored state.
func (s *RegistrationService) VerifyCheckin(ctx context.Context, payload string) (*model.Registration, error) {
	if payload == "" {
		return nil, fmt.Errorf("payload is required")
	}
	return s.engine.VerifyCheckin(ctx, payload)
}

// isPlausibleEmail does a basic structural check; exact validation is a UI
// concern, not enforced at this layer.
func isPlausibleEmail(email string) bool {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	return len(parts[0]) > 0 && strings.Contains(parts[1], ".")
}

// isPlausiblePhone accepts digits with common separators, at least five
// digits long.
func isPlausiblePhone(phone string) bool {
	digits := 0
	for _, r := range phone {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '+' || r == '-' || r == ' ' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return digits >= 5
}
