package leave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

type ReconcileSummary struct {
	Year      int `json:"year"`
	Month     int `json:"month"`
	Checked   int `json:"checked"`
	Corrected int `json:"corrected"`
	// Skipped counts allocations written to between the sum and the rewrite.
	// The next run picks them up again.
	Skipped int `json:"skipped"`
}

// ReconcileMonth re-derives used and pending days of every allocation in the
// month from the Approved and Pending requests that start in it, and rewrites
// the records that drifted (for example after a failed pending reservation).
func (s *Service) ReconcileMonth(ctx context.Context, year, month int) (ReconcileSummary, error) {
	summary := ReconcileSummary{Year: year, Month: month}
	if month < 1 || month > 12 {
		return summary, invalidInput("month must be between 1 and 12")
	}

	allocations, err := s.Store.ListAllocations(ctx, year, month)
	if err != nil {
		return summary, fmt.Errorf("list allocations: %w", err)
	}

	from, to := MonthRange(year, month)
	for _, alloc := range allocations {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Checked++

		sums, err := s.Store.SumDaysByStatus(ctx, alloc.UserID, from, to)
		if err != nil {
			return summary, fmt.Errorf("sum leave days for %s: %w", alloc.UserID, err)
		}
		used, pending := sums[StatusApproved], sums[StatusPending]
		if used == alloc.UsedLeaves && pending == alloc.PendingLeaves {
			continue
		}

		prev := AllocationCounts{Used: alloc.UsedLeaves, Pending: alloc.PendingLeaves}
		_, err = s.Store.SetAllocationCounts(ctx, alloc.UserID, year, month, prev, AllocationCounts{Used: used, Pending: pending})
		if errors.Is(err, ErrAllocationChanged) {
			slog.Info("leave allocation changed during reconcile, skipped",
				"userId", alloc.UserID, "year", year, "month", month)
			summary.Skipped++
			continue
		}
		if err != nil {
			return summary, fmt.Errorf("rewrite allocation for %s: %w", alloc.UserID, err)
		}
		slog.Info("leave allocation reconciled",
			"userId", alloc.UserID, "year", year, "month", month,
			"usedBefore", alloc.UsedLeaves, "usedAfter", used,
			"pendingBefore", alloc.PendingLeaves, "pendingAfter", pending)
		summary.Corrected++
	}
	return summary, nil
}
