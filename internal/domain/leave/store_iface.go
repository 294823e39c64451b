package leave

import (
	"context"
	"time"
)

type RequestStore interface {
	CreateRequest(ctx context.Context, req LeaveRequest) error
	GetRequest(ctx context.Context, id string) (LeaveRequest, error)
	// UpdateReview writes the decision fields only while the stored status is
	// still prevStatus, and returns ErrReviewConflict when it is not.
	UpdateReview(ctx context.Context, req LeaveRequest, prevStatus string) error
	// ActiveOverlapping returns Pending or Approved requests of the user whose
	// inclusive range intersects [start, end].
	ActiveOverlapping(ctx context.Context, userID string, start, end time.Time) ([]LeaveRequest, error)
	ListRequests(ctx context.Context, filter RequestFilter) (RequestListResult, error)
	// SumDaysByStatus totals TotalDays per status over requests starting in [from, to].
	SumDaysByStatus(ctx context.Context, userID string, from, to time.Time) (map[string]int, error)
}

// AllocationCounts is the used and pending pair of an allocation.
type AllocationCounts struct {
	Used    int
	Pending int
}

type AllocationStore interface {
	FindAllocation(ctx context.Context, userID string, year, month int) (MonthlyAllocation, error)
	// InsertAllocation returns ErrDuplicateAllocation when the (user, year, month) key exists.
	InsertAllocation(ctx context.Context, alloc MonthlyAllocation) error
	// AdjustAllocation applies the deltas atomically, clamping used and pending at zero
	// and recomputing the remaining balance in the same write.
	AdjustAllocation(ctx context.Context, userID string, year, month, usedDelta, pendingDelta int) (MonthlyAllocation, error)
	// SetAllocationCounts overwrites used and pending only while the record still
	// holds prev, and returns ErrAllocationChanged when it does not.
	SetAllocationCounts(ctx context.Context, userID string, year, month int, prev, next AllocationCounts) (MonthlyAllocation, error)
	ListAllocations(ctx context.Context, year, month int) ([]MonthlyAllocation, error)
}

type Store interface {
	RequestStore
	AllocationStore
	Ping(ctx context.Context) error
}

// Transactor is implemented by stores able to run several writes atomically.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(Store) error) error
}
