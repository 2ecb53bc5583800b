package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mstepanko/classreg/internal/model"
)

// Postgres implements Store on top of a pgxpool. Slot reads use
// SELECT ... FOR UPDATE row locks, so concurrent transactions touching the
// same slot serialize instead of interleaving; serialization failures and
// deadlocks surface as ErrConflict for the caller to retry.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs a Postgres store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// WithinTx implements Store.
func (p *Postgres) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return mapPgError(fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// mapPgError translates driver-level failures into the store taxonomy while
// passing domain errors through untouched.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 40001 serialization_failure, 40P01 deadlock_detected
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return fmt.Errorf("%v: %w", err, ErrConflict)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%v: %w", err, ErrUnavailable)
	}
	return err
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Session(ctx context.Context, id string) (*model.Session, error) {
	var (
		s               model.Session
		durationMinutes int
		legacyTrainer   *string
		legacyCapacity  *int
	)
	err := t.tx.QueryRow(ctx,
		`SELECT id, starts_at, duration_minutes, legacy_trainer_id, legacy_capacity, created_at
		 FROM sessions WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.StartsAt, &durationMinutes, &legacyTrainer, &legacyCapacity, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	s.Duration = time.Duration(durationMinutes) * time.Minute
	s.Slots = make(map[string]*model.Slot)

	rows, err := t.tx.Query(ctx,
		`SELECT trainer_id, capacity, confirmed_count
		 FROM slots WHERE session_id = $1`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		slot := model.Slot{SessionID: s.ID}
		if err := rows.Scan(&slot.TrainerID, &slot.Capacity, &slot.ConfirmedCount); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		s.Slots[slot.TrainerID] = &slot
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows imported from the single-trainer era carry their slot inline.
	if len(s.Slots) == 0 && legacyTrainer != nil {
		capacity := model.CapacityUnlimited
		if legacyCapacity != nil {
			capacity = *legacyCapacity
		}
		confirmed, err := t.countConfirmed(ctx, s.ID, *legacyTrainer)
		if err != nil {
			return nil, err
		}
		model.NormalizeLegacySession(&s, *legacyTrainer, capacity, confirmed)
	}
	return &s, nil
}

func (t *pgTx) countConfirmed(ctx context.Context, sessionID, trainerID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM registrations
		 WHERE session_id = $1 AND trainer_id = $2 AND status = $3`,
		sessionID, trainerID, model.StatusConfirmed,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count confirmed: %w", err)
	}
	return n, nil
}

func (t *pgTx) Sessions(ctx context.Context) ([]model.Session, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id FROM sessions ORDER BY starts_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sessions := make([]model.Session, 0, len(ids))
	for _, id := range ids {
		s, err := t.Session(ctx, id)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, nil
}

// Slot acquires an exclusive row-level lock on the slot so concurrent
// registration attempts against the same trainer serialize.
func (t *pgTx) Slot(ctx context.Context, sessionID, trainerID string) (*model.Slot, error) {
	slot := model.Slot{SessionID: sessionID, TrainerID: trainerID}
	err := t.tx.QueryRow(ctx,
		`SELECT capacity, confirmed_count
		 FROM slots
		 WHERE session_id = $1 AND trainer_id = $2
		 FOR UPDATE`,
		sessionID, trainerID,
	).Scan(&slot.Capacity, &slot.ConfirmedCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return t.legacySlot(ctx, sessionID, trainerID)
		}
		return nil, fmt.Errorf("lock slot row: %w", err)
	}
	return &slot, nil
}

// legacySlot resolves a slot for a session stored in the single-trainer
// shape, locking the session row instead of a slot row.
func (t *pgTx) legacySlot(ctx context.Context, sessionID, trainerID string) (*model.Slot, error) {
	var (
		legacyTrainer  *string
		legacyCapacity *int
	)
	err := t.tx.QueryRow(ctx,
		`SELECT legacy_trainer_id, legacy_capacity
		 FROM sessions WHERE id = $1
		 FOR UPDATE`,
		sessionID,
	).Scan(&legacyTrainer, &legacyCapacity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock session row: %w", err)
	}
	if legacyTrainer == nil || *legacyTrainer != trainerID {
		return nil, ErrNotFound
	}
	capacity := model.CapacityUnlimited
	if legacyCapacity != nil {
		capacity = *legacyCapacity
	}
	confirmed, err := t.countConfirmed(ctx, sessionID, trainerID)
	if err != nil {
		return nil, err
	}
	// Materialize the slot row so subsequent writes in this and later
	// transactions go through the current shape.
	_, err = t.tx.Exec(ctx,
		`INSERT INTO slots (session_id, trainer_id, capacity, confirmed_count)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id, trainer_id) DO NOTHING`,
		sessionID, trainerID, capacity, confirmed,
	)
	if err != nil {
		return nil, fmt.Errorf("materialize legacy slot: %w", err)
	}
	return &model.Slot{
		SessionID:      sessionID,
		TrainerID:      trainerID,
		Capacity:       capacity,
		ConfirmedCount: confirmed,
	}, nil
}

const registrationColumns = `id, session_id, trainer_id, name, email, phone,
	COALESCE(unique_code, ''), COALESCE(checkin_payload, ''), status,
	COALESCE(waitlist_position, 0), created_at`

func scanRegistration(row pgx.Row) (*model.Registration, error) {
	var r model.Registration
	err := row.Scan(&r.ID, &r.SessionID, &r.TrainerID, &r.Name, &r.Email, &r.Phone,
		&r.UniqueCode, &r.CheckinPayload, &r.Status, &r.WaitlistPosition, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *pgTx) Registration(ctx context.Context, id string) (*model.Registration, error) {
	r, err := scanRegistration(t.tx.QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return r, nil
}

func (t *pgTx) RegistrationsBySlot(ctx context.Context, sessionID, trainerID string, status model.Status) ([]model.Registration, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE session_id = $1 AND trainer_id = $2 AND status = $3
		 ORDER BY created_at ASC, id ASC`,
		sessionID, trainerID, status,
	)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	return collectRegistrations(rows)
}

func (t *pgTx) ActiveRegistrations(ctx context.Context, sessionID string) ([]model.Registration, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE session_id = $1 AND status IN ($2, $3)
		 ORDER BY created_at ASC, id ASC`,
		sessionID, model.StatusConfirmed, model.StatusWaitlisted,
	)
	if err != nil {
		return nil, fmt.Errorf("list active registrations: %w", err)
	}
	return collectRegistrations(rows)
}

func collectRegistrations(rows pgx.Rows) ([]model.Registration, error) {
	defer rows.Close()
	var regs []model.Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, *r)
	}
	return regs, rows.Err()
}

func (t *pgTx) CodeInUse(ctx context.Context, code string) (bool, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM registrations WHERE unique_code = $1 AND status = $2`,
		code, model.StatusConfirmed,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("probe code: %w", err)
	}
	return n > 0, nil
}

func (t *pgTx) InsertSession(ctx context.Context, s *model.Session) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO sessions (id, starts_at, duration_minutes, created_at)
		 VALUES ($1, $2, $3, $4)`,
		s.ID, s.StartsAt, int(s.Duration/time.Minute), s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	for _, slot := range s.Slots {
		_, err := t.tx.Exec(ctx,
			`INSERT INTO slots (session_id, trainer_id, capacity, confirmed_count)
			 VALUES ($1, $2, $3, $4)`,
			s.ID, slot.TrainerID, slot.Capacity, slot.ConfirmedCount,
		)
		if err != nil {
			return fmt.Errorf("insert slot: %w", err)
		}
	}
	return nil
}

func (t *pgTx) DeleteSession(ctx context.Context, id string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	// Slot rows cascade; registrations stay as history with their terminal status.
	return nil
}

func (t *pgTx) InsertRegistration(ctx context.Context, r *model.Registration) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO registrations
		 (id, session_id, trainer_id, name, email, phone, unique_code, checkin_payload, status, waitlist_position, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, NULLIF($10, 0), $11)`,
		r.ID, r.SessionID, r.TrainerID, r.Name, r.Email, r.Phone,
		r.UniqueCode, r.CheckinPayload, r.Status, r.WaitlistPosition, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateRegistration(ctx context.Context, r *model.Registration) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE registrations
		 SET unique_code = NULLIF($2, ''), checkin_payload = NULLIF($3, ''),
		     status = $4, waitlist_position = NULLIF($5, 0)
		 WHERE id = $1`,
		r.ID, r.UniqueCode, r.CheckinPayload, r.Status, r.WaitlistPosition,
	)
	if err != nil {
		return fmt.Errorf("update registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) SetConfirmedCount(ctx context.Context, sessionID, trainerID string, count int) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE slots SET confirmed_count = $3 WHERE session_id = $1 AND trainer_id = $2`,
		sessionID, trainerID, count,
	)
	if err != nil {
		return fmt.Errorf("update confirmed count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
