package engine

import (
	"fmt"

	"github.com/mstepanko/classreg/internal/model"
)

// IsFull reports whether the slot has no confirmed spot left. Unlimited
// slots are never full.
func IsFull(slot *model.Slot) bool {
	if slot.Unlimited() {
		return false
	}
	return slot.ConfirmedCount >= slot.Capacity
}

// ApplyDelta computes the slot's new confirmed count. It fails when the
// result would go negative or exceed a bounded capacity; callers apply the
// returned count only inside the transaction that read the slot.
func ApplyDelta(slot *model.Slot, delta int) (int, error) {
	count := slot.ConfirmedCount + delta
	if count < 0 {
		return 0, fmt.Errorf("confirmed count %d would go negative: %w",
			slot.ConfirmedCount, ErrInvariantViolation)
	}
	if !slot.Unlimited() && count > slot.Capacity {
		return 0, fmt.Errorf("confirmed count %d would exceed capacity %d: %w",
			count, slot.Capacity, ErrInvariantViolation)
	}
	return count, nil
}
