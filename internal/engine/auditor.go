package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/mstepanko/classreg/internal/model"
	"github.com/mstepanko/classreg/internal/store"
)

// Audit reconciles each slot's confirmed count against the authoritative
// registration set and restores contiguous waitlist ordering, repairing and
// logging any drift. It runs opportunistically on session load, inside its
// own transaction so a concurrent registration cannot race the repair. A
// repair immediately invalidated by a later write is benign; the next pass
// catches it again.
func (e *Engine) Audit(ctx context.Context, sessionID string) error {
	return e.withRetry(ctx, func(ctx context.Context, tx store.Tx) error {
		session, err := tx.Session(ctx, sessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
			}
			return err
		}
		for _, slot := range session.Slots {
			if err := e.auditSlot(ctx, tx, slot); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) auditSlot(ctx context.Context, tx store.Tx, slot *model.Slot) error {
	confirmed, err := tx.RegistrationsBySlot(ctx, slot.SessionID, slot.TrainerID, model.StatusConfirmed)
	if err != nil {
		return err
	}
	if got, want := slot.ConfirmedCount, len(confirmed); got != want {
		log.Printf("audit: slot %s/%s confirmed count %d, true count %d, repairing",
			slot.SessionID, slot.TrainerID, got, want)
		if err := tx.SetConfirmedCount(ctx, slot.SessionID, slot.TrainerID, want); err != nil {
			return err
		}
		auditRepairs.Inc()
	}

	waiting, err := tx.RegistrationsBySlot(ctx, slot.SessionID, slot.TrainerID, model.StatusWaitlisted)
	if err != nil {
		return err
	}
	// Renumber to 1..N keeping the existing order; request order is
	// preserved because positions only ever shrink.
	sort.SliceStable(waiting, func(i, j int) bool {
		return waiting[i].WaitlistPosition < waiting[j].WaitlistPosition
	})
	for i := range waiting {
		if want := i + 1; waiting[i].WaitlistPosition != want {
			log.Printf("audit: slot %s/%s waitlist position %d renumbered to %d",
				slot.SessionID, slot.TrainerID, waiting[i].WaitlistPosition, want)
			waiting[i].WaitlistPosition = want
			if err := tx.UpdateRegistration(ctx, &waiting[i]); err != nil {
				return err
			}
			auditRepairs.Inc()
		}
	}
	return nil
}
