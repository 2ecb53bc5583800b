package engine

import (
	"context"

	"github.com/mstepanko/classreg/internal/model"
	"github.com/mstepanko/classreg/internal/store"
)

// promote fills one freed confirmed spot from the slot's waitlist, inside
// the same transaction as the cancellation that freed it. The registration
// with the lowest waitlist position flips to confirmed, keeping its original
// record and timestamp, receives a fresh check-in code, and the remaining
// entries shift down by one. No waitlist, no-op. Exactly one registrant is
// promoted per call; bulk flows must loop one freed spot at a time.
func (e *Engine) promote(ctx context.Context, tx store.Tx, slot *model.Slot) error {
	if IsFull(slot) {
		return nil
	}
	waiting, err := tx.RegistrationsBySlot(ctx, slot.SessionID, slot.TrainerID, model.StatusWaitlisted)
	if err != nil {
		return err
	}
	if len(waiting) == 0 {
		return nil
	}

	// Positions are assigned once at registration time and never reused, so
	// the minimum is unambiguous.
	next := &waiting[0]
	for i := range waiting {
		if waiting[i].WaitlistPosition < next.WaitlistPosition {
			next = &waiting[i]
		}
	}
	freed := next.WaitlistPosition

	if err := e.confirm(ctx, tx, next); err != nil {
		return err
	}
	if err := tx.UpdateRegistration(ctx, next); err != nil {
		return err
	}
	count, err := ApplyDelta(slot, +1)
	if err != nil {
		return err
	}
	if err := tx.SetConfirmedCount(ctx, slot.SessionID, slot.TrainerID, count); err != nil {
		return err
	}
	if err := closeWaitlistGap(ctx, tx, slot.SessionID, slot.TrainerID, freed); err != nil {
		return err
	}
	promotionsTotal.Inc()
	return nil
}
