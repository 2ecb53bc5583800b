// Package engine implements the registration and waitlist core: capacity
// accounting, FIFO waitlist promotion, check-in code issuance, and the
// consistency auditor. All mutations run as single atomic transactions
// against the store collaborator; conflicts are retried internally.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mstepanko/classreg/internal/model"
	"github.com/mstepanko/classreg/internal/store"
)

// defaultTxAttempts bounds internal retries on store conflicts.
const defaultTxAttempts = 3

// Engine orchestrates registration, cancellation, removal, and promotion
// against the transactional store.
type Engine struct {
	store      store.Store
	codec      *CheckinCodec
	txAttempts int
}

// Option configures an Engine.
type Option func(*Engine)

// WithTxAttempts overrides the bounded conflict-retry count.
func WithTxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.txAttempts = n
		}
	}
}

// New constructs an Engine.
func New(st store.Store, codec *CheckinCodec, opts ...Option) *Engine {
	e := &Engine{
		store:      st,
		codec:      codec,
		txAttempts: defaultTxAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// withRetry runs fn in a transaction, retrying on store conflicts with
// freshly re-read state up to the configured bound, then surfacing
// ErrContention. Store-level failures map into the engine taxonomy.
func (e *Engine) withRetry(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	var err error
	for attempt := 0; attempt < e.txAttempts; attempt++ {
		err = e.store.WithinTx(ctx, fn)
		if !errors.Is(err, store.ErrConflict) {
			if errors.Is(err, store.ErrUnavailable) {
				return fmt.Errorf("%v: %w", err, ErrUnavailable)
			}
			return err
		}
		txRetries.Inc()
	}
	return fmt.Errorf("gave up after %d conflicting attempts: %w", e.txAttempts, ErrContention)
}

// Register places a participant on the trainer's slot within a session.
// A free spot yields a confirmed registration with a fresh check-in code;
// a full slot appends to the waitlist. Joining the waitlist is a success,
// never an error.
func (e *Engine) Register(ctx context.Context, sessionID, trainerID string, contact model.Contact) (*model.Registration, error) {
	if contact.Name == "" || contact.Email == "" || contact.Phone == "" {
		return nil, fmt.Errorf("contact fields must be non-empty")
	}
	var created *model.Registration
	err := e.withRetry(ctx, func(ctx context.Context, tx store.Tx) error {
		slot, err := tx.Slot(ctx, sessionID, trainerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("slot %s/%s: %w", sessionID, trainerID, ErrNotFound)
			}
			return err
		}

		reg := &model.Registration{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			TrainerID: trainerID,
			Name:      contact.Name,
			Email:     contact.Email,
			Phone:     contact.Phone,
			CreatedAt: time.Now().UTC(),
		}

		if !IsFull(slot) {
			if err := e.confirm(ctx, tx, reg); err != nil {
				return err
			}
			count, err := ApplyDelta(slot, +1)
			if err != nil {
				return err
			}
			if err := tx.InsertRegistration(ctx, reg); err != nil {
				return err
			}
			if err := tx.SetConfirmedCount(ctx, sessionID, trainerID, count); err != nil {
				return err
			}
		} else {
			pos, err := nextWaitlistPosition(ctx, tx, sessionID, trainerID)
			if err != nil {
				return err
			}
			reg.Status = model.StatusWaitlisted
			reg.WaitlistPosition = pos
			if err := tx.InsertRegistration(ctx, reg); err != nil {
				return err
			}
		}
		created = reg
		return nil
	})
	if err != nil {
		return nil, err
	}
	registrationsTotal.WithLabelValues(string(created.Status)).Inc()
	return created, nil
}

// confirm marks the registration confirmed and issues its code and payload.
func (e *Engine) confirm(ctx context.Context, tx store.Tx, reg *model.Registration) error {
	code, err := GenerateCode(func(code string) (bool, error) {
		return tx.CodeInUse(ctx, code)
	})
	if err != nil {
		return err
	}
	reg.Status = model.StatusConfirmed
	reg.WaitlistPosition = 0
	reg.UniqueCode = code
	reg.CheckinPayload = e.codec.Encode(reg.ID, code)
	return nil
}

func nextWaitlistPosition(ctx context.Context, tx store.Tx, sessionID, trainerID string) (int, error) {
	waiting, err := tx.RegistrationsBySlot(ctx, sessionID, trainerID, model.StatusWaitlisted)
	if err != nil {
		return 0, err
	}
	maxPos := 0
	for _, r := range waiting {
		if r.WaitlistPosition > maxPos {
			maxPos = r.WaitlistPosition
		}
	}
	return maxPos + 1, nil
}

// Cancel transitions a registration to cancelled. Cancelling an already
// cancelled registration is a no-op success, so retried requests never fail
// visibly. A confirmed cancellation frees the spot and promotes the longest
// waiting registrant; a waitlisted cancellation closes the position gap.
func (e *Engine) Cancel(ctx context.Context, registrationID string) error {
	return e.cancel(ctx, registrationID, "")
}

// Remove is the administrative variant of Cancel. Authorization of the
// actor is the caller's concern; the engine only records who acted.
func (e *Engine) Remove(ctx context.Context, registrationID, actor string) error {
	return e.cancel(ctx, registrationID, actor)
}

func (e *Engine) cancel(ctx context.Context, registrationID, actor string) error {
	var prior model.Status
	err := e.withRetry(ctx, func(ctx context.Context, tx store.Tx) error {
		reg, err := tx.Registration(ctx, registrationID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("registration %s: %w", registrationID, ErrNotFound)
			}
			return err
		}
		prior = reg.Status
		if reg.Status == model.StatusCancelled {
			return nil // idempotent
		}

		switch reg.Status {
		case model.StatusConfirmed:
			slot, err := tx.Slot(ctx, reg.SessionID, reg.TrainerID)
			if err != nil {
				return err
			}
			count, err := ApplyDelta(slot, -1)
			if err != nil {
				return err
			}
			reg.Status = model.StatusCancelled
			if err := tx.UpdateRegistration(ctx, reg); err != nil {
				return err
			}
			if err := tx.SetConfirmedCount(ctx, reg.SessionID, reg.TrainerID, count); err != nil {
				return err
			}
			slot.ConfirmedCount = count
			if err := e.promote(ctx, tx, slot); err != nil {
				return err
			}
		case model.StatusWaitlisted:
			freed := reg.WaitlistPosition
			reg.Status = model.StatusCancelled
			reg.WaitlistPosition = 0
			if err := tx.UpdateRegistration(ctx, reg); err != nil {
				return err
			}
			if err := closeWaitlistGap(ctx, tx, reg.SessionID, reg.TrainerID, freed); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if prior != model.StatusCancelled {
		cancellationsTotal.WithLabelValues(string(prior)).Inc()
		if actor != "" {
			log.Printf("registration %s removed by %s", registrationID, actor)
		}
	}
	return nil
}

// closeWaitlistGap renumbers waitlist entries after position freed down by
// one, preserving the contiguous 1..N ordering.
func closeWaitlistGap(ctx context.Context, tx store.Tx, sessionID, trainerID string, freed int) error {
	waiting, err := tx.RegistrationsBySlot(ctx, sessionID, trainerID, model.StatusWaitlisted)
	if err != nil {
		return err
	}
	for i := range waiting {
		if waiting[i].WaitlistPosition > freed {
			waiting[i].WaitlistPosition--
			if err := tx.UpdateRegistration(ctx, &waiting[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeleteSession cancels every active registration in the session without
// promotion (the slots cease to exist) and then removes the session.
func (e *Engine) DeleteSession(ctx context.Context, sessionID string) error {
	return e.withRetry(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Session(ctx, sessionID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
			}
			return err
		}
		active, err := tx.ActiveRegistrations(ctx, sessionID)
		if err != nil {
			return err
		}
		for i := range active {
			active[i].Status = model.StatusCancelled
			active[i].WaitlistPosition = 0
			if err := tx.UpdateRegistration(ctx, &active[i]); err != nil {
				return err
			}
		}
		return tx.DeleteSession(ctx, sessionID)
	})
}

// Session returns a session with its normalized slots.
func (e *Engine) Session(ctx context.Context, sessionID string) (*model.Session, error) {
	var out *model.Session
	err := e.withRetry(ctx, func(ctx context.Context, tx store.Tx) error {
		s, err := tx.Session(ctx, sessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
			}
			return err
		}
		out = s
		return nil
	})
	return out, err
}

// Sessions returns all sessions ordered by start time.
func (e *Engine) Sessions(ctx context.Context) ([]model.Session, error) {
	var out []model.Session
	err := e.withRetry(ctx, func(ctx context.Context, tx store.Tx) error {
		s, err := tx.Sessions(ctx)
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

// CreateSession persists a new session with its trainer slots.
func (e *Engine) CreateSession(ctx context.Context, startsAt time.Time, duration time.Duration, slots []model.SlotRequest) (*model.Session, error) {
	s := &model.Session{
		ID:        uuid.New().String(),
		StartsAt:  startsAt,
		Duration:  duration,
		Slots:     make(map[string]*model.Slot, len(slots)),
		CreatedAt: time.Now().UTC(),
	}
	for _, req := range slots {
		s.Slots[req.TrainerID] = &model.Slot{
			SessionID: s.ID,
			TrainerID: req.TrainerID,
			Capacity:  req.Capacity,
		}
	}
	err := e.withRetry(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertSession(ctx, s)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Registration returns one registration by ID.
func (e *Engine) Registration(ctx context.Context, id string) (*model.Registration, error) {
	var out *model.Registration
	err := e.withRetry(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := tx.Registration(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("registration %s: %w", id, ErrNotFound)
			}
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// Occupancy summarises a slot: confirmed count, capacity, waitlist length.
func (e *Engine) Occupancy(ctx context.Context, sessionID, trainerID string) (*model.Occupancy, error) {
	var out *model.Occupancy
	err := e.withRetry(ctx, func(ctx context.Context, tx store.Tx) error {
		slot, err := tx.Slot(ctx, sessionID, trainerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("slot %s/%s: %w", sessionID, trainerID, ErrNotFound)
			}
			return err
		}
		waiting, err := tx.RegistrationsBySlot(ctx, sessionID, trainerID, model.StatusWaitlisted)
		if err != nil {
			return err
		}
		out = &model.Occupancy{
			TrainerID:      trainerID,
			Capacity:       slot.Capacity,
			ConfirmedCount: slot.ConfirmedCount,
			WaitlistLength: len(waiting),
		}
		return nil
	})
	return out, err
}

// VerifyCheckin authenticates a scanned payload and cross-checks it against
// stored registration state. Payloads that decode but do not match a live
// confirmed registration are rejected: a tampered payload is ErrForged, a
// cancelled or unknown registration is ErrNotFound.
func (e *Engine) VerifyCheckin(ctx context.Context, payload string) (*model.Registration, error) {
	registrationID, code, err := e.codec.Decode(payload)
	if err != nil {
		return nil, err
	}
	var out *model.Registration
	err = e.withRetry(ctx, func(ctx context.Context, tx store.Tx) error {
		reg, err := tx.Registration(ctx, registrationID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("registration %s: %w", registrationID, ErrNotFound)
			}
			return err
		}
		if reg.Status != model.StatusConfirmed {
			// Stale payload from a cancelled or still waitlisted registration.
			return fmt.Errorf("registration %s is %s: %w", registrationID, reg.Status, ErrNotFound)
		}
		if reg.UniqueCode != code {
			return fmt.Errorf("code mismatch for registration %s: %w", registrationID, ErrForged)
		}
		out = reg
		return nil
	})
	return out, err
}
