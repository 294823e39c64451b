package leave

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/rittima/CRM-Team-sub000/internal/domain/users"
)

type Service struct {
	Store  Store
	Users  users.Resolver
	Ledger *Ledger
	Now    func() time.Time
}

func NewService(store Store, resolver users.Resolver) *Service {
	return &Service{
		Store:  store,
		Users:  resolver,
		Ledger: NewLedger(store),
		Now:    time.Now,
	}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Service) ledgerFor(store AllocationStore) *Ledger {
	return &Ledger{store: store, Now: s.now}
}

// inTx runs fn inside a storage transaction when the store offers one and
// falls back to sequential writes otherwise.
func (s *Service) inTx(ctx context.Context, fn func(Store) error) error {
	if tx, ok := s.Store.(Transactor); ok {
		return tx.WithinTx(ctx, fn)
	}
	return fn(s.Store)
}

type ApplyInput struct {
	UserID    string
	LeaveType string
	StartDate time.Time
	EndDate   time.Time
	Reason    string
}

// Apply validates a leave application against the calendar and the start
// month's allocation, stores it as Pending and reserves its working days.
func (s *Service) Apply(ctx context.Context, in ApplyInput) (LeaveRequest, error) {
	user, err := s.Users.Resolve(ctx, in.UserID)
	if err != nil {
		return LeaveRequest{}, err
	}

	if !ValidLeaveType(in.LeaveType) {
		return LeaveRequest{}, invalidInput("leave type must be one of %s", strings.Join(LeaveTypes, ", "))
	}
	reason := strings.TrimSpace(in.Reason)
	if utf8.RuneCountInString(reason) > MaxReasonLength {
		return LeaveRequest{}, invalidInput("reason must be at most %d characters", MaxReasonLength)
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return LeaveRequest{}, invalidInput("start date and end date are required")
	}

	start, end := DateOnly(in.StartDate), DateOnly(in.EndDate)
	if start.Before(DateOnly(s.now())) {
		return LeaveRequest{}, invalidInput("start date cannot be in the past")
	}
	if end.Before(start) {
		return LeaveRequest{}, invalidInput("end date must be on or after start date")
	}

	overlapping, err := s.Store.ActiveOverlapping(ctx, user.ID, start, end)
	if err != nil {
		return LeaveRequest{}, fmt.Errorf("check overlapping leave: %w", err)
	}
	if len(overlapping) > 0 {
		return LeaveRequest{}, ErrOverlap
	}

	days := WorkingDays(start, end)
	if days <= 0 {
		return LeaveRequest{}, invalidInput("the selected dates contain no working days")
	}

	year, month := start.Year(), int(start.Month())
	alloc, err := s.Ledger.GetOrCreateAllocation(ctx, user.ID, year, month)
	if err != nil {
		return LeaveRequest{}, fmt.Errorf("load allocation: %w", err)
	}
	projected := alloc.TotalAllocation - alloc.UsedLeaves - (alloc.PendingLeaves + days)
	if projected < 0 {
		return LeaveRequest{}, newBalanceError(days, alloc)
	}

	now := s.now().UTC()
	req := LeaveRequest{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		UserName:  user.Name,
		UserEmail: user.Email,
		LeaveType: in.LeaveType,
		StartDate: start,
		EndDate:   end,
		Reason:    reason,
		Status:    StatusPending,
		TotalDays: days,
		AppliedAt: now,
		UpdatedAt: now,
	}

	err = s.inTx(ctx, func(store Store) error {
		if err := store.CreateRequest(ctx, req); err != nil {
			return fmt.Errorf("create leave request: %w", err)
		}
		if _, err := s.ledgerFor(store).UpdateLeaveCount(ctx, user.ID, year, month, 0, days); err != nil {
			slog.Error("leave pending reservation failed", "leaveId", req.ID, "userId", user.ID, "err", err)
			return fmt.Errorf("reserve pending days: %w", err)
		}
		return nil
	})
	if err != nil {
		return LeaveRequest{}, err
	}
	return req, nil
}

type ReviewInput struct {
	LeaveID         string
	Status          string
	ReviewerID      string
	HRComments      string
	RejectionReason string
}

// ReviewResult is the request as stored after a decision. StatusChanged is
// false when the decision repeated the status the request already had.
type ReviewResult struct {
	LeaveRequest
	StatusChanged bool `json:"-"`
}

// Review records an HR decision and moves the request's days between the
// pending, used and available parts of its start month's allocation. A
// concurrent decision on the same request fails with ErrReviewConflict.
func (s *Service) Review(ctx context.Context, in ReviewInput) (ReviewResult, error) {
	if in.Status != StatusApproved && in.Status != StatusRejected {
		return ReviewResult{}, invalidInput("status must be %s or %s", StatusApproved, StatusRejected)
	}
	comments := strings.TrimSpace(in.HRComments)
	if utf8.RuneCountInString(comments) > MaxCommentLength {
		return ReviewResult{}, invalidInput("hr comments must be at most %d characters", MaxCommentLength)
	}
	rejection := strings.TrimSpace(in.RejectionReason)
	if utf8.RuneCountInString(rejection) > MaxRejectionReasonLength {
		return ReviewResult{}, invalidInput("rejection reason must be at most %d characters", MaxRejectionReasonLength)
	}

	req, err := s.Store.GetRequest(ctx, in.LeaveID)
	if err != nil {
		return ReviewResult{}, err
	}

	year, month := req.StartDate.Year(), int(req.StartDate.Month())
	move := reviewTransition(req.Status, in.Status, req.TotalDays)
	if move.recheck {
		alloc, err := s.Ledger.GetOrCreateAllocation(ctx, req.UserID, year, month)
		if err != nil {
			return ReviewResult{}, fmt.Errorf("load allocation: %w", err)
		}
		if req.TotalDays > alloc.RemainingLeaves {
			return ReviewResult{}, newBalanceError(req.TotalDays, alloc)
		}
	}

	prevStatus := req.Status
	now := s.now().UTC()
	req.Status = in.Status
	req.HRComments = comments
	req.ReviewedBy = in.ReviewerID
	req.ReviewedAt = &now
	req.UpdatedAt = now
	if in.Status == StatusRejected {
		req.RejectionReason = rejection
	} else {
		req.RejectionReason = ""
	}

	// The status write goes first so only the decision that wins it moves days.
	err = s.inTx(ctx, func(store Store) error {
		if err := store.UpdateReview(ctx, req, prevStatus); err != nil {
			return fmt.Errorf("update leave request: %w", err)
		}
		if move.touches {
			if _, err := s.ledgerFor(store).UpdateLeaveCount(ctx, req.UserID, year, month, move.usedDelta, move.pendingDelta); err != nil {
				return fmt.Errorf("update allocation: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return ReviewResult{}, err
	}
	return ReviewResult{LeaveRequest: req, StatusChanged: prevStatus != req.Status}, nil
}

func (s *Service) Get(ctx context.Context, id string) (LeaveRequest, error) {
	return s.Store.GetRequest(ctx, id)
}

// List returns a page of requests. An empty UserID lists every user.
func (s *Service) List(ctx context.Context, filter RequestFilter) (RequestListResult, error) {
	if filter.Status != "" && filter.Status != StatusPending && filter.Status != StatusApproved && filter.Status != StatusRejected {
		return RequestListResult{}, invalidInput("status filter must be %s, %s or %s", StatusPending, StatusApproved, StatusRejected)
	}
	if !filter.StartFrom.IsZero() && !filter.EndTo.IsZero() && filter.EndTo.Before(filter.StartFrom) {
		return RequestListResult{}, invalidInput("endDate filter must be on or after startDate filter")
	}
	return s.Store.ListRequests(ctx, filter)
}

// Stats summarises the caller's current month.
func (s *Service) Stats(ctx context.Context, userID string) (Stats, error) {
	user, err := s.Users.Resolve(ctx, userID)
	if err != nil {
		return Stats{}, err
	}

	now := s.now()
	alloc, err := s.Ledger.GetOrCreateAllocation(ctx, user.ID, now.Year(), int(now.Month()))
	if err != nil {
		return Stats{}, fmt.Errorf("load allocation: %w", err)
	}
	from, to := MonthRange(now.Year(), int(now.Month()))
	sums, err := s.Store.SumDaysByStatus(ctx, user.ID, from, to)
	if err != nil {
		return Stats{}, fmt.Errorf("sum leave days: %w", err)
	}

	return Stats{
		Taken:             alloc.UsedLeaves,
		Pending:           alloc.PendingLeaves,
		Rejected:          sums[StatusRejected],
		Remaining:         alloc.RemainingLeaves,
		MonthlyAllocation: alloc,
	}, nil
}

// Allocation returns the allocation for the given month; zero year or month
// default to the current ones.
func (s *Service) Allocation(ctx context.Context, userID string, year, month int) (AllocationView, error) {
	now := s.now()
	if year == 0 {
		year = now.Year()
	}
	if month == 0 {
		month = int(now.Month())
	}
	if month < 1 || month > 12 {
		return AllocationView{}, invalidInput("month must be between 1 and 12")
	}
	if year < 1970 || year > 9999 {
		return AllocationView{}, invalidInput("year is out of range")
	}

	user, err := s.Users.Resolve(ctx, userID)
	if err != nil {
		return AllocationView{}, err
	}
	alloc, err := s.Ledger.GetOrCreateAllocation(ctx, user.ID, year, month)
	if err != nil {
		return AllocationView{}, fmt.Errorf("load allocation: %w", err)
	}
	return AllocationView{
		Allocation: alloc,
		MonthInfo: MonthInfo{
			Year:      year,
			Month:     month,
			MonthName: time.Month(month).String(),
		},
	}, nil
}
