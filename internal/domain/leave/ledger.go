package leave

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Ledger owns the per-user monthly allocation records.
type Ledger struct {
	store AllocationStore
	Now   func() time.Time
}

func NewLedger(store AllocationStore) *Ledger {
	return &Ledger{store: store, Now: time.Now}
}

// GetOrCreateAllocation returns the allocation for (userID, year, month),
// creating it on first access. A new record carries forward the previous
// month's remaining balance when that balance is positive.
func (l *Ledger) GetOrCreateAllocation(ctx context.Context, userID string, year, month int) (MonthlyAllocation, error) {
	alloc, err := l.store.FindAllocation(ctx, userID, year, month)
	if err == nil {
		return alloc, nil
	}
	if !errors.Is(err, ErrAllocationNotFound) {
		return MonthlyAllocation{}, err
	}

	carried := 0
	prevYear, prevMonth := PreviousMonth(year, month)
	prev, err := l.store.FindAllocation(ctx, userID, prevYear, prevMonth)
	switch {
	case err == nil:
		carried = max(0, prev.RemainingLeaves)
	case !errors.Is(err, ErrAllocationNotFound):
		return MonthlyAllocation{}, err
	}

	now := l.Now().UTC()
	alloc = MonthlyAllocation{
		ID:             uuid.NewString(),
		UserID:         userID,
		Year:           year,
		Month:          month,
		BaseAllocation: BaseMonthlyAllocation,
		CarriedForward: carried,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	alloc.Recompute()

	if err := l.store.InsertAllocation(ctx, alloc); err != nil {
		if errors.Is(err, ErrDuplicateAllocation) {
			// Lost the create race; the winner's record is authoritative.
			return l.store.FindAllocation(ctx, userID, year, month)
		}
		return MonthlyAllocation{}, err
	}
	return alloc, nil
}

// UpdateLeaveCount moves the used and pending counters by the given deltas.
// Counters never drop below zero; the remaining balance may go negative.
func (l *Ledger) UpdateLeaveCount(ctx context.Context, userID string, year, month, usedDelta, pendingDelta int) (MonthlyAllocation, error) {
	if _, err := l.GetOrCreateAllocation(ctx, userID, year, month); err != nil {
		return MonthlyAllocation{}, err
	}
	return l.store.AdjustAllocation(ctx, userID, year, month, usedDelta, pendingDelta)
}
