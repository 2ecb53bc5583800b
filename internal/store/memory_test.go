package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstepanko/classreg/internal/model"
)

func seedSession(t *testing.T, m *Memory, id string) {
	t.Helper()
	err := m.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.InsertSession(ctx, &model.Session{
			ID:       id,
			StartsAt: time.Now().UTC(),
			Duration: time.Hour,
			Slots: map[string]*model.Slot{
				"anna": {SessionID: id, TrainerID: "anna", Capacity: 2},
			},
			CreatedAt: time.Now().UTC(),
		})
	})
	require.NoError(t, err)
}

func TestMemory_CommitIsVisible(t *testing.T) {
	m := NewMemory()
	seedSession(t, m, "s1")

	err := m.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		slot, err := tx.Slot(ctx, "s1", "anna")
		require.NoError(t, err)
		assert.Equal(t, 2, slot.Capacity)
		return nil
	})
	require.NoError(t, err)
}

func TestMemory_FailedTxLeavesNothingBehind(t *testing.T) {
	m := NewMemory()
	seedSession(t, m, "s1")
	boom := errors.New("boom")

	err := m.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		if err := tx.SetConfirmedCount(ctx, "s1", "anna", 2); err != nil {
			return err
		}
		if err := tx.InsertRegistration(ctx, &model.Registration{
			ID: "r1", SessionID: "s1", TrainerID: "anna",
			Status: model.StatusConfirmed, CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = m.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		slot, err := tx.Slot(ctx, "s1", "anna")
		require.NoError(t, err)
		assert.Equal(t, 0, slot.ConfirmedCount, "count write rolled back")
		_, err = tx.Registration(ctx, "r1")
		assert.ErrorIs(t, err, ErrNotFound, "registration insert rolled back")
		return nil
	})
	require.NoError(t, err)
}

func TestMemory_FailCommitsInjectsConflicts(t *testing.T) {
	m := NewMemory()
	seedSession(t, m, "s1")
	m.FailCommits(1)

	err := m.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.SetConfirmedCount(ctx, "s1", "anna", 1)
	})
	assert.ErrorIs(t, err, ErrConflict)

	// The conflicting commit applied nothing; the next one succeeds.
	err = m.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		slot, err := tx.Slot(ctx, "s1", "anna")
		require.NoError(t, err)
		assert.Equal(t, 0, slot.ConfirmedCount)
		return nil
	})
	require.NoError(t, err)
}

func TestMemory_CancelledContextIsUnavailable(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.WithinTx(ctx, func(ctx context.Context, tx Tx) error { return nil })
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMemory_RegistrationsOrderedByCreation(t *testing.T) {
	m := NewMemory()
	seedSession(t, m, "s1")
	base := time.Now().UTC()

	err := m.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		for i, id := range []string{"later", "earlier", "middle"} {
			offsets := map[string]time.Duration{"earlier": 0, "middle": time.Second, "later": 2 * time.Second}
			if err := tx.InsertRegistration(ctx, &model.Registration{
				ID: id, SessionID: "s1", TrainerID: "anna",
				Status:           model.StatusWaitlisted,
				WaitlistPosition: i + 1,
				CreatedAt:        base.Add(offsets[id]),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = m.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		regs, err := tx.RegistrationsBySlot(ctx, "s1", "anna", model.StatusWaitlisted)
		require.NoError(t, err)
		require.Len(t, regs, 3)
		assert.Equal(t, "earlier", regs[0].ID)
		assert.Equal(t, "middle", regs[1].ID)
		assert.Equal(t, "later", regs[2].ID)
		return nil
	})
	require.NoError(t, err)
}

func TestMemory_SessionsOrderedByStart(t *testing.T) {
	m := NewMemory()
	base := time.Now().UTC()

	err := m.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		for id, offset := range map[string]time.Duration{"b": 2 * time.Hour, "a": time.Hour} {
			if err := tx.InsertSession(ctx, &model.Session{
				ID: id, StartsAt: base.Add(offset), Duration: time.Hour,
				Slots: map[string]*model.Slot{}, CreatedAt: base,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = m.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		sessions, err := tx.Sessions(ctx)
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, "a", sessions[0].ID)
		assert.Equal(t, "b", sessions[1].ID)
		return nil
	})
	require.NoError(t, err)
}

func TestMemory_TxSeesItsOwnWrites(t *testing.T) {
	m := NewMemory()
	seedSession(t, m, "s1")

	err := m.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		if err := tx.InsertRegistration(ctx, &model.Registration{
			ID: "r1", SessionID: "s1", TrainerID: "anna",
			UniqueCode: "123-456", Status: model.StatusConfirmed,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		inUse, err := tx.CodeInUse(ctx, "123-456")
		require.NoError(t, err)
		assert.True(t, inUse)
		return nil
	})
	require.NoError(t, err)
}
