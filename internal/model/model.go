// Package model defines the core domain types for the session registration system.
package model

import (
	"strings"
	"time"
)

// CapacityUnlimited marks a slot that never fills.
const CapacityUnlimited = -1

// Status is the lifecycle state of a registration.
type Status string

const (
	StatusConfirmed  Status = "confirmed"
	StatusWaitlisted Status = "waitlisted"
	StatusCancelled  Status = "cancelled"
)

// Session is a scheduled occurrence taught by one or more trainers,
// each offering an independent capacity-bounded slot.
type Session struct {
	ID        string           `json:"id"`
	StartsAt  time.Time        `json:"starts_at"`
	Duration  time.Duration    `json:"duration"`
	Slots     map[string]*Slot `json:"slots"` // keyed by trainer ID
	CreatedAt time.Time        `json:"created_at"`
}

// Slot is one trainer's capacity within a session.
type Slot struct {
	SessionID      string `json:"session_id"`
	TrainerID      string `json:"trainer_id"`
	Capacity       int    `json:"capacity"` // CapacityUnlimited means unbounded
	ConfirmedCount int    `json:"confirmed_count"`
}

// Unlimited returns true when the slot has no capacity bound.
func (s *Slot) Unlimited() bool {
	return s.Capacity == CapacityUnlimited
}

// Registration is one participant's claim on one slot. Registrations are
// never physically deleted; cancellation is a status transition.
type Registration struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	TrainerID        string    `json:"trainer_id"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	Phone            string    `json:"phone"`
	UniqueCode       string    `json:"unique_code,omitempty"`     // set only when confirmed
	CheckinPayload   string    `json:"checkin_payload,omitempty"` // scannable encoding of (id, code)
	Status           Status    `json:"status"`
	WaitlistPosition int       `json:"waitlist_position,omitempty"` // 1-based, present iff waitlisted
	CreatedAt        time.Time `json:"created_at"`
}

// Active reports whether the registration still holds or awaits a spot.
func (r *Registration) Active() bool {
	return r.Status == StatusConfirmed || r.Status == StatusWaitlisted
}

// Occupancy summarises a slot for read access.
type Occupancy struct {
	TrainerID      string `json:"trainer_id"`
	Capacity       int    `json:"capacity"`
	ConfirmedCount int    `json:"confirmed_count"`
	WaitlistLength int    `json:"waitlist_length"`
}

// Contact carries the participant fields of a registration request.
type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// CreateSessionRequest is the payload for creating a new session.
type CreateSessionRequest struct {
	StartsAt        time.Time     `json:"starts_at"`
	DurationMinutes int           `json:"duration_minutes"`
	Slots           []SlotRequest `json:"slots"`
}

// SlotRequest declares one trainer slot at session creation.
type SlotRequest struct {
	TrainerID string `json:"trainer_id"`
	Capacity  int    `json:"capacity"` // -1 for unlimited
}

// VerifyCheckinRequest is the payload for check-in verification.
type VerifyCheckinRequest struct {
	Payload string `json:"payload"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RegistrationView is the public projection of a registration. Contact
// detail is masked unless the caller is authorized (an external concern).
type RegistrationView struct {
	ID               string `json:"id"`
	SessionID        string `json:"session_id"`
	TrainerID        string `json:"trainer_id"`
	Name             string `json:"name"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	Status           Status `json:"status"`
	WaitlistPosition int    `json:"waitlist_position,omitempty"`
	UniqueCode       string `json:"unique_code,omitempty"`
	CheckinPayload   string `json:"checkin_payload,omitempty"`
}

// View projects the registration, masking contact detail unless full is set.
func (r *Registration) View(full bool) RegistrationView {
	v := RegistrationView{
		ID:               r.ID,
		SessionID:        r.SessionID,
		TrainerID:        r.TrainerID,
		Name:             r.Name,
		Email:            r.Email,
		Phone:            r.Phone,
		Status:           r.Status,
		WaitlistPosition: r.WaitlistPosition,
		UniqueCode:       r.UniqueCode,
		CheckinPayload:   r.CheckinPayload,
	}
	if !full {
		v.Email = maskEmail(r.Email)
		v.Phone = maskPhone(r.Phone)
	}
	return v
}

func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 1 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "***"
	}
	return "***" + phone[len(phone)-4:]
}

// NormalizeLegacySession converts the single-trainer event shape, kept for
// rows imported from the old format, into the slot mapping the engine
// expects. Invoked at the storage boundary only.
func NormalizeLegacySession(s *Session, trainerID string, capacity, confirmed int) {
	if s.Slots == nil {
		s.Slots = make(map[string]*Slot, 1)
	}
	s.Slots[trainerID] = &Slot{
		SessionID:      s.ID,
		TrainerID:      trainerID,
		Capacity:       capacity,
		ConfirmedCount: confirmed,
	}
}
