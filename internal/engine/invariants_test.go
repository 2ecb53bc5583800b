package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/mstepanko/classreg/internal/model"
	"github.com/mstepanko/classreg/internal/store"
)

// TestProperty_SlotInvariantsHoldUnderAnySequence drives random
// register/cancel sequences against one bounded slot and checks, after every
// operation, that the confirmed count never exceeds capacity or goes
// negative, matches the authoritative registration set, that waitlist
// positions form a contiguous 1..N sequence in request order, and that
// active confirmed codes stay unique.
func TestProperty_SlotInvariantsHoldUnderAnySequence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		st := store.NewMemory()
		eng := New(st, NewCheckinCodec([]byte("test-secret")))
		ctx := context.Background()

		capacity := rapid.IntRange(0, 4).Draw(t, "capacity")
		session, err := eng.CreateSession(ctx, time.Now().Add(24*time.Hour).UTC(), time.Hour,
			[]model.SlotRequest{{TrainerID: "anna", Capacity: capacity}})
		require.NoError(t, err)

		var created []string   // all registration IDs ever created
		var requested []string // active IDs in request order

		numOps := rapid.IntRange(1, 40).Draw(t, "numOps")
		for i := 0; i < numOps; i++ {
			doCancel := len(created) > 0 && rapid.Bool().Draw(t, fmt.Sprintf("cancel-%d", i))
			if doCancel {
				idx := rapid.IntRange(0, len(created)-1).Draw(t, fmt.Sprintf("victim-%d", i))
				id := created[idx]
				require.NoError(t, eng.Cancel(ctx, id))
				for j, rid := range requested {
					if rid == id {
						requested = append(requested[:j], requested[j+1:]...)
						break
					}
				}
			} else {
				reg, err := eng.Register(ctx, session.ID, "anna", model.Contact{
					Name:  fmt.Sprintf("p%d", i),
					Email: fmt.Sprintf("p%d@example.com", i),
					Phone: "555-0100",
				})
				require.NoError(t, err, "a full slot waitlists, it never errors")
				created = append(created, reg.ID)
				requested = append(requested, reg.ID)
			}
			checkSlotInvariants(t, st, session.ID, "anna", capacity, requested)
		}
	})
}

func checkSlotInvariants(t *rapid.T, st *store.Memory, sessionID, trainerID string, capacity int, requested []string) {
	var confirmed, waitlisted []model.Registration
	var slot *model.Slot
	err := st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		if confirmed, err = tx.RegistrationsBySlot(ctx, sessionID, trainerID, model.StatusConfirmed); err != nil {
			return err
		}
		if waitlisted, err = tx.RegistrationsBySlot(ctx, sessionID, trainerID, model.StatusWaitlisted); err != nil {
			return err
		}
		slot, err = tx.Slot(ctx, sessionID, trainerID)
		return err
	})
	require.NoError(t, err)

	require.Equal(t, len(confirmed), slot.ConfirmedCount,
		"confirmed count must equal the authoritative set")
	require.GreaterOrEqual(t, slot.ConfirmedCount, 0)
	if !slot.Unlimited() {
		require.LessOrEqual(t, slot.ConfirmedCount, capacity)
	}

	// Contiguous positions 1..N, FIFO by request order: the waitlist must be
	// exactly the active registrations beyond the confirmed ones, in order.
	positions := make(map[int]string, len(waitlisted))
	for _, r := range waitlisted {
		require.Empty(t, r.UniqueCode, "waitlisted entries carry no code")
		_, dup := positions[r.WaitlistPosition]
		require.False(t, dup, "duplicate waitlist position %d", r.WaitlistPosition)
		positions[r.WaitlistPosition] = r.ID
	}
	for pos := 1; pos <= len(waitlisted); pos++ {
		_, ok := positions[pos]
		require.True(t, ok, "gap at waitlist position %d", pos)
	}

	codes := make(map[string]bool, len(confirmed))
	for _, r := range confirmed {
		require.NotEmpty(t, r.UniqueCode)
		require.False(t, codes[r.UniqueCode], "duplicate active code %s", r.UniqueCode)
		codes[r.UniqueCode] = true
	}

	require.Equal(t, len(requested), len(confirmed)+len(waitlisted),
		"every active request is either confirmed or waitlisted")
}
