package leave_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/rittima/CRM-Team-sub000/internal/domain/leave"
	"github.com/rittima/CRM-Team-sub000/internal/domain/leave/leavetest"
	"github.com/rittima/CRM-Team-sub000/internal/domain/users"
)

var fixedNow = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type ServiceSuite struct {
	suite.Suite
	ctx   context.Context
	store *leavetest.Store
	svc   *leave.Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = leavetest.New()
	s.store.AddUser(users.User{ID: "emp-1", Name: "Asha Rao", Email: "asha@example.com", Role: "Employee"})
	s.store.AddUser(users.User{ID: "hr-1", Name: "HR Admin", Email: "hr@example.com", Role: "HR"})
	s.svc = leave.NewService(s.store, s.store)
	s.svc.Now = func() time.Time { return fixedNow }
}

func (s *ServiceSuite) apply(start, end time.Time) (leave.LeaveRequest, error) {
	return s.svc.Apply(s.ctx, leave.ApplyInput{
		UserID:    "emp-1",
		LeaveType: leave.TypeCasual,
		StartDate: start,
		EndDate:   end,
		Reason:    "family event",
	})
}

func (s *ServiceSuite) allocation() leave.MonthlyAllocation {
	alloc, err := s.store.FindAllocation(s.ctx, "emp-1", 2026, 10)
	s.Require().NoError(err)
	return alloc
}

func (s *ServiceSuite) review(id, status string) (leave.ReviewResult, error) {
	return s.svc.Review(s.ctx, leave.ReviewInput{LeaveID: id, Status: status, ReviewerID: "hr-1"})
}

func (s *ServiceSuite) TestApplyWithinBalance() {
	req, err := s.apply(date(2026, 10, 19), date(2026, 10, 21))
	s.Require().NoError(err)

	s.Equal(leave.StatusPending, req.Status)
	s.Equal(3, req.TotalDays)
	s.Equal("Asha Rao", req.UserName)
	s.Equal("asha@example.com", req.UserEmail)
	s.Equal(fixedNow, req.AppliedAt)

	alloc := s.allocation()
	s.Equal(3, alloc.PendingLeaves)
	s.Equal(0, alloc.UsedLeaves)
	s.Equal(2, alloc.RemainingLeaves)
}

func (s *ServiceSuite) TestApplyExceedingBalance() {
	_, err := s.apply(date(2026, 10, 19), date(2026, 10, 21))
	s.Require().NoError(err)
	before := s.allocation()

	_, err = s.apply(date(2026, 10, 22), date(2026, 10, 26))
	s.Require().ErrorIs(err, leave.ErrInsufficientBalance)
	var balanceErr *leave.BalanceError
	s.Require().ErrorAs(err, &balanceErr)
	s.Equal(3, balanceErr.Requested)
	s.Equal(2, balanceErr.RemainingLeaves)

	list, err := s.svc.List(s.ctx, leave.RequestFilter{UserID: "emp-1"})
	s.Require().NoError(err)
	s.Equal(1, list.Total)
	s.Equal(before, s.allocation())
}

func (s *ServiceSuite) TestApplyOverlapRejected() {
	_, err := s.apply(date(2026, 10, 19), date(2026, 10, 21))
	s.Require().NoError(err)
	before := s.allocation()

	_, err = s.apply(date(2026, 10, 20), date(2026, 10, 22))
	s.Require().ErrorIs(err, leave.ErrOverlap)

	list, err := s.svc.List(s.ctx, leave.RequestFilter{UserID: "emp-1"})
	s.Require().NoError(err)
	s.Equal(1, list.Total)
	s.Equal(before, s.allocation())
}

func (s *ServiceSuite) TestApplyAllowedOverRejectedRequest() {
	first, err := s.apply(date(2026, 10, 19), date(2026, 10, 20))
	s.Require().NoError(err)
	_, err = s.review(first.ID, leave.StatusRejected)
	s.Require().NoError(err)

	_, err = s.apply(date(2026, 10, 19), date(2026, 10, 20))
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestApplyValidation() {
	cases := []struct {
		name string
		in   leave.ApplyInput
	}{
		{"unknown type", leave.ApplyInput{UserID: "emp-1", LeaveType: "Sabbatical", StartDate: date(2026, 10, 19), EndDate: date(2026, 10, 19)}},
		{"missing dates", leave.ApplyInput{UserID: "emp-1", LeaveType: leave.TypeSick}},
		{"start in the past", leave.ApplyInput{UserID: "emp-1", LeaveType: leave.TypeSick, StartDate: date(2026, 10, 15), EndDate: date(2026, 10, 19)}},
		{"end before start", leave.ApplyInput{UserID: "emp-1", LeaveType: leave.TypeSick, StartDate: date(2026, 10, 21), EndDate: date(2026, 10, 19)}},
		{"weekend only", leave.ApplyInput{UserID: "emp-1", LeaveType: leave.TypeSick, StartDate: date(2026, 10, 31), EndDate: date(2026, 11, 1)}},
	}
	for _, tc := range cases {
		_, err := s.svc.Apply(s.ctx, tc.in)
		s.ErrorIs(err, leave.ErrInvalidInput, tc.name)
	}

	list, err := s.svc.List(s.ctx, leave.RequestFilter{})
	s.Require().NoError(err)
	s.Zero(list.Total)
}

func (s *ServiceSuite) TestApplyTodayIsAllowed() {
	req, err := s.apply(date(2026, 10, 16), date(2026, 10, 16))
	s.Require().NoError(err)
	s.Equal(1, req.TotalDays)
}

func (s *ServiceSuite) TestApplyUnknownUser() {
	_, err := s.svc.Apply(s.ctx, leave.ApplyInput{UserID: "ghost", LeaveType: leave.TypeSick, StartDate: date(2026, 10, 19), EndDate: date(2026, 10, 19)})
	s.ErrorIs(err, users.ErrNotFound)
}

func (s *ServiceSuite) TestApplySpanningMonthsChargesStartMonth() {
	req, err := s.apply(date(2026, 10, 30), date(2026, 11, 2))
	s.Require().NoError(err)
	s.Equal(2, req.TotalDays)
	s.Equal(2, s.allocation().PendingLeaves)

	_, err = s.store.FindAllocation(s.ctx, "emp-1", 2026, 11)
	s.ErrorIs(err, leave.ErrAllocationNotFound)
}

func (s *ServiceSuite) TestApproveMovesPendingToUsed() {
	req, err := s.apply(date(2026, 10, 19), date(2026, 10, 21))
	s.Require().NoError(err)

	reviewed, err := s.svc.Review(s.ctx, leave.ReviewInput{LeaveID: req.ID, Status: leave.StatusApproved, ReviewerID: "hr-1", HRComments: "enjoy"})
	s.Require().NoError(err)
	s.Equal(leave.StatusApproved, reviewed.Status)
	s.Equal("hr-1", reviewed.ReviewedBy)
	s.Equal("enjoy", reviewed.HRComments)
	s.Require().NotNil(reviewed.ReviewedAt)

	alloc := s.allocation()
	s.Equal(3, alloc.UsedLeaves)
	s.Equal(0, alloc.PendingLeaves)
	s.Equal(2, alloc.RemainingLeaves)

	stored, err := s.svc.Get(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(leave.StatusApproved, stored.Status)
}

func (s *ServiceSuite) TestRejectThenReapproveWithoutBalance() {
	first, err := s.apply(date(2026, 10, 19), date(2026, 10, 21))
	s.Require().NoError(err)
	_, err = s.review(first.ID, leave.StatusApproved)
	s.Require().NoError(err)

	// Second 3-day request reserved outside the balance check.
	second := leave.LeaveRequest{
		ID: "second", UserID: "emp-1", LeaveType: leave.TypeAnnual, Status: leave.StatusPending,
		StartDate: date(2026, 10, 26), EndDate: date(2026, 10, 28), TotalDays: 3, AppliedAt: fixedNow,
	}
	s.store.PutRequest(second)
	_, err = s.store.AdjustAllocation(s.ctx, "emp-1", 2026, 10, 0, 3)
	s.Require().NoError(err)

	rejected, err := s.svc.Review(s.ctx, leave.ReviewInput{LeaveID: "second", Status: leave.StatusRejected, ReviewerID: "hr-1", RejectionReason: "team offsite"})
	s.Require().NoError(err)
	s.Equal("team offsite", rejected.RejectionReason)
	alloc := s.allocation()
	s.Equal(0, alloc.PendingLeaves)
	s.Equal(2, alloc.RemainingLeaves)

	_, err = s.review("second", leave.StatusApproved)
	s.Require().ErrorIs(err, leave.ErrInsufficientBalance)

	stored, err := s.svc.Get(s.ctx, "second")
	s.Require().NoError(err)
	s.Equal(leave.StatusRejected, stored.Status)
	s.Equal(alloc, s.allocation())
}

func (s *ServiceSuite) TestRejectApprovedReleasesUsedDays() {
	req, err := s.apply(date(2026, 10, 19), date(2026, 10, 20))
	s.Require().NoError(err)
	_, err = s.review(req.ID, leave.StatusApproved)
	s.Require().NoError(err)

	_, err = s.review(req.ID, leave.StatusRejected)
	s.Require().NoError(err)

	alloc := s.allocation()
	s.Equal(0, alloc.UsedLeaves)
	s.Equal(0, alloc.PendingLeaves)
	s.Equal(5, alloc.RemainingLeaves)
}

func (s *ServiceSuite) TestReapproveWithBalance() {
	req, err := s.apply(date(2026, 10, 19), date(2026, 10, 20))
	s.Require().NoError(err)
	_, err = s.review(req.ID, leave.StatusRejected)
	s.Require().NoError(err)

	approved, err := s.review(req.ID, leave.StatusApproved)
	s.Require().NoError(err)
	s.Empty(approved.RejectionReason)
	s.Equal(2, s.allocation().UsedLeaves)
}

func (s *ServiceSuite) TestSameStatusReviewLeavesLedger() {
	req, err := s.apply(date(2026, 10, 19), date(2026, 10, 20))
	s.Require().NoError(err)
	first, err := s.review(req.ID, leave.StatusApproved)
	s.Require().NoError(err)
	s.True(first.StatusChanged)
	before := s.allocation()

	again, err := s.review(req.ID, leave.StatusApproved)
	s.Require().NoError(err)
	s.False(again.StatusChanged)
	s.Equal(before.UsedLeaves, s.allocation().UsedLeaves)
	s.Equal(before.PendingLeaves, s.allocation().PendingLeaves)
}

func (s *ServiceSuite) TestReviewValidation() {
	req, err := s.apply(date(2026, 10, 19), date(2026, 10, 20))
	s.Require().NoError(err)

	_, err = s.review(req.ID, leave.StatusPending)
	s.ErrorIs(err, leave.ErrInvalidInput)

	_, err = s.review("missing", leave.StatusApproved)
	s.ErrorIs(err, leave.ErrNotFound)

	long := make([]byte, leave.MaxRejectionReasonLength+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = s.svc.Review(s.ctx, leave.ReviewInput{LeaveID: req.ID, Status: leave.StatusRejected, RejectionReason: string(long)})
	s.ErrorIs(err, leave.ErrInvalidInput)
}

func (s *ServiceSuite) TestFailedReservationIsReported() {
	s.store.FailAdjust = errors.New("write conflict")

	_, err := s.apply(date(2026, 10, 19), date(2026, 10, 21))
	s.Require().Error(err)
	s.NotErrorIs(err, leave.ErrInvalidInput)
}

func (s *ServiceSuite) TestStats() {
	first, err := s.apply(date(2026, 10, 19), date(2026, 10, 19))
	s.Require().NoError(err)
	second, err := s.apply(date(2026, 10, 20), date(2026, 10, 21))
	s.Require().NoError(err)
	_, err = s.apply(date(2026, 10, 22), date(2026, 10, 22))
	s.Require().NoError(err)

	_, err = s.review(first.ID, leave.StatusApproved)
	s.Require().NoError(err)
	_, err = s.review(second.ID, leave.StatusRejected)
	s.Require().NoError(err)

	stats, err := s.svc.Stats(s.ctx, "emp-1")
	s.Require().NoError(err)
	s.Equal(1, stats.Taken)
	s.Equal(1, stats.Pending)
	s.Equal(2, stats.Rejected)
	s.Equal(3, stats.Remaining)
	s.Equal(5, stats.MonthlyAllocation.TotalAllocation)
}

func (s *ServiceSuite) TestAllocationDefaultsToCurrentMonth() {
	view, err := s.svc.Allocation(s.ctx, "emp-1", 0, 0)
	s.Require().NoError(err)
	s.Equal(leave.MonthInfo{Year: 2026, Month: 10, MonthName: "October"}, view.MonthInfo)
	s.Equal(5, view.Allocation.TotalAllocation)

	_, err = s.svc.Allocation(s.ctx, "emp-1", 2026, 13)
	s.ErrorIs(err, leave.ErrInvalidInput)

	_, err = s.svc.Allocation(s.ctx, "ghost", 2026, 10)
	s.ErrorIs(err, users.ErrNotFound)
}

func (s *ServiceSuite) TestListFiltersAndPages() {
	for _, start := range []time.Time{date(2026, 10, 19), date(2026, 10, 20), date(2026, 10, 21)} {
		s.svc.Now = func() time.Time { return fixedNow.Add(time.Duration(start.Day()) * time.Minute) }
		_, err := s.apply(start, start)
		s.Require().NoError(err)
	}

	page, err := s.svc.List(s.ctx, leave.RequestFilter{UserID: "emp-1", Limit: 2})
	s.Require().NoError(err)
	s.Equal(3, page.Total)
	s.Require().Len(page.Requests, 2)
	s.Equal(date(2026, 10, 21), page.Requests[0].StartDate)

	ranged, err := s.svc.List(s.ctx, leave.RequestFilter{StartFrom: date(2026, 10, 20), EndTo: date(2026, 10, 20)})
	s.Require().NoError(err)
	s.Equal(1, ranged.Total)

	_, err = s.svc.List(s.ctx, leave.RequestFilter{Status: "Cancelled"})
	s.ErrorIs(err, leave.ErrInvalidInput)

	_, err = s.svc.List(s.ctx, leave.RequestFilter{StartFrom: date(2026, 10, 21), EndTo: date(2026, 10, 20)})
	s.ErrorIs(err, leave.ErrInvalidInput)
}

// staleReads serves a fixed copy of one request, as a reviewer that loaded it
// before another decision landed would see it.
type staleReads struct {
	*leavetest.Store
	stale leave.LeaveRequest
}

func (s staleReads) GetRequest(ctx context.Context, id string) (leave.LeaveRequest, error) {
	if id == s.stale.ID {
		return s.stale, nil
	}
	return s.Store.GetRequest(ctx, id)
}

func (s *ServiceSuite) TestReviewOfStaleStatusConflicts() {
	req, err := s.apply(date(2026, 10, 19), date(2026, 10, 20))
	s.Require().NoError(err)
	_, err = s.review(req.ID, leave.StatusApproved)
	s.Require().NoError(err)

	late := leave.NewService(staleReads{Store: s.store, stale: req}, s.store)
	late.Now = s.svc.Now
	_, err = late.Review(s.ctx, leave.ReviewInput{LeaveID: req.ID, Status: leave.StatusApproved, ReviewerID: "hr-2"})
	s.Require().ErrorIs(err, leave.ErrReviewConflict)

	alloc := s.allocation()
	s.Equal(2, alloc.UsedLeaves)
	s.Equal(0, alloc.PendingLeaves)
	stored, err := s.svc.Get(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal("hr-1", stored.ReviewedBy)
}

func (s *ServiceSuite) TestConcurrentApprovalsCountDaysOnce() {
	req, err := s.apply(date(2026, 10, 19), date(2026, 10, 21))
	s.Require().NoError(err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.review(req.ID, leave.StatusApproved)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			s.ErrorIs(err, leave.ErrReviewConflict)
		}
	}
	alloc := s.allocation()
	s.Equal(3, alloc.UsedLeaves)
	s.Equal(0, alloc.PendingLeaves)
	s.Equal(2, alloc.RemainingLeaves)
}

func (s *ServiceSuite) TestUpdateReviewChecksPreviousStatus() {
	req, err := s.apply(date(2026, 10, 19), date(2026, 10, 19))
	s.Require().NoError(err)

	decided := req
	decided.Status = leave.StatusRejected
	s.ErrorIs(s.store.UpdateReview(s.ctx, decided, leave.StatusApproved), leave.ErrReviewConflict)
	s.Require().NoError(s.store.UpdateReview(s.ctx, decided, leave.StatusPending))
	s.ErrorIs(s.store.UpdateReview(s.ctx, leave.LeaveRequest{ID: "missing"}, leave.StatusPending), leave.ErrNotFound)
}
