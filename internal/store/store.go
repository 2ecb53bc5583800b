// Package store defines the transactional store collaborator consumed by the
// registration engine, plus its Postgres and in-memory implementations.
package store

import (
	"context"
	"errors"

	"github.com/mstepanko/classreg/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a concurrent transaction mutated the same
// records first. Callers should re-read state and retry.
var ErrConflict = errors.New("transaction conflict")

// ErrUnavailable is returned when the store cannot be reached or a commit
// times out. Callers should treat it as retryable.
var ErrUnavailable = errors.New("store unavailable")

// Store runs functions inside atomic transactions. A transaction either
// commits every write or none; conflicting concurrent commits surface as
// ErrConflict rather than interleaving.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the record-level API available inside one transaction. Reads observe
// the transaction's own writes. Slot reads lock the slot against concurrent
// transactions for the duration of the transaction.
type Tx interface {
	// Session returns the session with its normalized slot mapping.
	Session(ctx context.Context, id string) (*model.Session, error)
	// Sessions returns all sessions ordered by start time ascending.
	Sessions(ctx context.Context) ([]model.Session, error)
	// Slot returns one trainer's slot, locked for update.
	Slot(ctx context.Context, sessionID, trainerID string) (*model.Slot, error)
	// Registration returns a registration by ID.
	Registration(ctx context.Context, id string) (*model.Registration, error)
	// RegistrationsBySlot returns registrations for a (session, trainer, status)
	// triple ordered by creation time ascending.
	RegistrationsBySlot(ctx context.Context, sessionID, trainerID string, status model.Status) ([]model.Registration, error)
	// ActiveRegistrations returns all confirmed and waitlisted registrations
	// for a session, ordered by creation time ascending.
	ActiveRegistrations(ctx context.Context, sessionID string) ([]model.Registration, error)
	// CodeInUse reports whether any confirmed registration carries the code.
	CodeInUse(ctx context.Context, code string) (bool, error)

	InsertSession(ctx context.Context, s *model.Session) error
	DeleteSession(ctx context.Context, id string) error
	InsertRegistration(ctx context.Context, r *model.Registration) error
	UpdateRegistration(ctx context.Context, r *model.Registration) error
	// SetConfirmedCount writes a slot's confirmed count.
	SetConfirmedCount(ctx context.Context, sessionID, trainerID string, count int) error
}
