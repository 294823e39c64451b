package leave

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("leave request not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrOverlap             = errors.New("an active leave request already covers these dates")
	ErrInsufficientBalance = errors.New("insufficient leave balance")
	ErrReviewConflict      = errors.New("leave request was reviewed by someone else in the meantime")

	ErrAllocationNotFound  = errors.New("allocation not found")
	ErrDuplicateAllocation = errors.New("allocation already exists")
	ErrAllocationChanged   = errors.New("allocation changed since it was read")
)

// InputError is a validation failure with a caller-facing message.
type InputError struct {
	Message string
}

func invalidInput(format string, args ...any) error {
	return &InputError{Message: fmt.Sprintf(format, args...)}
}

func (e *InputError) Error() string {
	return e.Message
}

func (e *InputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// BalanceError reports the allocation state that blocked a request.
type BalanceError struct {
	Requested       int `json:"requestedDays"`
	RemainingLeaves int `json:"remainingLeaves"`
	TotalAllocation int `json:"totalAllocation"`
	UsedLeaves      int `json:"usedLeaves"`
	PendingLeaves   int `json:"pendingLeaves"`
}

func newBalanceError(requested int, a MonthlyAllocation) *BalanceError {
	return &BalanceError{
		Requested:       requested,
		RemainingLeaves: a.RemainingLeaves,
		TotalAllocation: a.TotalAllocation,
		UsedLeaves:      a.UsedLeaves,
		PendingLeaves:   a.PendingLeaves,
	}
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("insufficient leave balance: requested %d day(s), remaining %d (total %d, used %d, pending %d)",
		e.Requested, e.RemainingLeaves, e.TotalAllocation, e.UsedLeaves, e.PendingLeaves)
}

func (e *BalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}
