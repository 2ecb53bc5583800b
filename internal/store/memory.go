package store

import (
	"context"
	"sort"
	"sync"

	"github.com/mstepanko/classreg/internal/model"
)

// Memory is an in-process Store used by tests and local development. Each
// transaction runs against a deep copy of the state and swaps it in on
// commit, so a failed transaction leaves nothing behind. Transactions are
// serialized by a mutex; FailCommits injects artificial conflicts so callers
// can exercise their retry paths.
type Memory struct {
	mu        sync.Mutex
	sessions  map[string]*model.Session
	regs      map[string]*model.Registration
	conflicts int
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*model.Session),
		regs:     make(map[string]*model.Registration),
	}
}

// FailCommits makes the next n commits return ErrConflict.
func (m *Memory) FailCommits(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts = n
}

// WithinTx implements Store.
func (m *Memory) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return ErrUnavailable
	}

	tx := &memTx{
		sessions: cloneSessions(m.sessions),
		regs:     cloneRegistrations(m.regs),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if m.conflicts > 0 {
		m.conflicts--
		return ErrConflict
	}
	m.sessions = tx.sessions
	m.regs = tx.regs
	return nil
}

func cloneSessions(src map[string]*model.Session) map[string]*model.Session {
	dst := make(map[string]*model.Session, len(src))
	for id, s := range src {
		cp := *s
		cp.Slots = make(map[string]*model.Slot, len(s.Slots))
		for tid, slot := range s.Slots {
			sc := *slot
			cp.Slots[tid] = &sc
		}
		dst[id] = &cp
	}
	return dst
}

func cloneRegistrations(src map[string]*model.Registration) map[string]*model.Registration {
	dst := make(map[string]*model.Registration, len(src))
	for id, r := range src {
		cp := *r
		dst[id] = &cp
	}
	return dst
}

type memTx struct {
	sessions map[string]*model.Session
	regs     map[string]*model.Registration
}

func (t *memTx) Session(ctx context.Context, id string) (*model.Session, error) {
	s, ok := t.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	cp.Slots = make(map[string]*model.Slot, len(s.Slots))
	for tid, slot := range s.Slots {
		sc := *slot
		cp.Slots[tid] = &sc
	}
	return &cp, nil
}

func (t *memTx) Sessions(ctx context.Context) ([]model.Session, error) {
	out := make([]model.Session, 0, len(t.sessions))
	for id := range t.sessions {
		s, _ := t.Session(ctx, id)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartsAt.Before(out[j].StartsAt)
	})
	return out, nil
}

func (t *memTx) Slot(ctx context.Context, sessionID, trainerID string) (*model.Slot, error) {
	s, ok := t.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	slot, ok := s.Slots[trainerID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *slot
	return &cp, nil
}

func (t *memTx) Registration(ctx context.Context, id string) (*model.Registration, error) {
	r, ok := t.regs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (t *memTx) RegistrationsBySlot(ctx context.Context, sessionID, trainerID string, status model.Status) ([]model.Registration, error) {
	var out []model.Registration
	for _, r := range t.regs {
		if r.SessionID == sessionID && r.TrainerID == trainerID && r.Status == status {
			out = append(out, *r)
		}
	}
	sortByCreation(out)
	return out, nil
}

func (t *memTx) ActiveRegistrations(ctx context.Context, sessionID string) ([]model.Registration, error) {
	var out []model.Registration
	for _, r := range t.regs {
		if r.SessionID == sessionID && r.Active() {
			out = append(out, *r)
		}
	}
	sortByCreation(out)
	return out, nil
}

func (t *memTx) CodeInUse(ctx context.Context, code string) (bool, error) {
	for _, r := range t.regs {
		if r.Status == model.StatusConfirmed && r.UniqueCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertSession(ctx context.Context, s *model.Session) error {
	cp := *s
	cp.Slots = make(map[string]*model.Slot, len(s.Slots))
	for tid, slot := range s.Slots {
		sc := *slot
		cp.Slots[tid] = &sc
	}
	t.sessions[s.ID] = &cp
	return nil
}

func (t *memTx) DeleteSession(ctx context.Context, id string) error {
	if _, ok := t.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(t.sessions, id)
	return nil
}

func (t *memTx) InsertRegistration(ctx context.Context, r *model.Registration) error {
	cp := *r
	t.regs[r.ID] = &cp
	return nil
}

func (t *memTx) UpdateRegistration(ctx context.Context, r *model.Registration) error {
	if _, ok := t.regs[r.ID]; !ok {
		return ErrNotFound
	}
	cp := *r
	t.regs[r.ID] = &cp
	return nil
}

func (t *memTx) SetConfirmedCount(ctx context.Context, sessionID, trainerID string, count int) error {
	s, ok := t.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	slot, ok := s.Slots[trainerID]
	if !ok {
		return ErrNotFound
	}
	slot.ConfirmedCount = count
	return nil
}

// sortByCreation orders registrations by creation time, registration ID as a
// stable tie-break for entries created in the same instant.
func sortByCreation(regs []model.Registration) {
	sort.Slice(regs, func(i, j int) bool {
		if regs[i].CreatedAt.Equal(regs[j].CreatedAt) {
			return regs[i].ID < regs[j].ID
		}
		return regs[i].CreatedAt.Before(regs[j].CreatedAt)
	})
}
