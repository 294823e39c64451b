// Package leavetest provides an in-memory leave store and user directory for tests.
package leavetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rittima/CRM-Team-sub000/internal/domain/leave"
	"github.com/rittima/CRM-Team-sub000/internal/domain/users"
)

type allocKey struct {
	userID string
	year   int
	month  int
}

// Store implements leave.Store and users.Store. Each method holds the lock
// for its whole body, so AdjustAllocation is atomic like the real stores.
type Store struct {
	mu          sync.Mutex
	users       map[string]users.User
	requests    map[string]leave.LeaveRequest
	allocations map[allocKey]leave.MonthlyAllocation

	// FailAdjust, when set, is returned by the next AdjustAllocation call.
	FailAdjust error
	// BeforeSum, when set, runs at the start of SumDaysByStatus without the lock held.
	BeforeSum func()
}

func New() *Store {
	return &Store{
		users:       map[string]users.User{},
		requests:    map[string]leave.LeaveRequest{},
		allocations: map[allocKey]leave.MonthlyAllocation{},
	}
}

func (s *Store) AddUser(u users.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) Resolve(_ context.Context, id string) (users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	return u, nil
}

func (s *Store) Upsert(_ context.Context, u users.User) error {
	s.AddUser(u)
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) CreateRequest(_ context.Context, req leave.LeaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req
	return nil
}

// PutRequest stores a request as-is, bypassing the service rules.
func (s *Store) PutRequest(req leave.LeaveRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req
}

func (s *Store) GetRequest(_ context.Context, id string) (leave.LeaveRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return leave.LeaveRequest{}, leave.ErrNotFound
	}
	return req, nil
}

func (s *Store) UpdateReview(_ context.Context, req leave.LeaveRequest, prevStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.requests[req.ID]
	if !ok {
		return leave.ErrNotFound
	}
	if stored.Status != prevStatus {
		return leave.ErrReviewConflict
	}
	s.requests[req.ID] = req
	return nil
}

func (s *Store) ActiveOverlapping(_ context.Context, userID string, start, end time.Time) ([]leave.LeaveRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []leave.LeaveRequest
	for _, req := range s.requests {
		if req.UserID != userID || req.Status == leave.StatusRejected {
			continue
		}
		if leave.Overlaps(req.StartDate, req.EndDate, start, end) {
			out = append(out, req)
		}
	}
	return out, nil
}

func (s *Store) ListRequests(_ context.Context, filter leave.RequestFilter) (leave.RequestListResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []leave.LeaveRequest
	for _, req := range s.requests {
		if filter.UserID != "" && req.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if !filter.StartFrom.IsZero() && req.StartDate.Before(filter.StartFrom) {
			continue
		}
		if !filter.EndTo.IsZero() && req.EndDate.After(filter.EndTo) {
			continue
		}
		matched = append(matched, req)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].AppliedAt.After(matched[j].AppliedAt)
	})

	total := len(matched)
	if filter.Limit > 0 {
		from := min(max(filter.Offset, 0), total)
		to := min(from+filter.Limit, total)
		matched = matched[from:to]
	}
	return leave.RequestListResult{Requests: matched, Total: total}, nil
}

func (s *Store) SumDaysByStatus(_ context.Context, userID string, from, to time.Time) (map[string]int, error) {
	if s.BeforeSum != nil {
		s.BeforeSum()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sums := map[string]int{}
	for _, req := range s.requests {
		if req.UserID != userID || req.StartDate.Before(from) || req.StartDate.After(to) {
			continue
		}
		sums[req.Status] += req.TotalDays
	}
	return sums, nil
}

func (s *Store) FindAllocation(_ context.Context, userID string, year, month int) (leave.MonthlyAllocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alloc, ok := s.allocations[allocKey{userID, year, month}]
	if !ok {
		return leave.MonthlyAllocation{}, leave.ErrAllocationNotFound
	}
	return alloc, nil
}

func (s *Store) InsertAllocation(_ context.Context, alloc leave.MonthlyAllocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := allocKey{alloc.UserID, alloc.Year, alloc.Month}
	if _, ok := s.allocations[key]; ok {
		return leave.ErrDuplicateAllocation
	}
	alloc.Recompute()
	s.allocations[key] = alloc
	return nil
}

// PutAllocation stores an allocation as-is.
func (s *Store) PutAllocation(alloc leave.MonthlyAllocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allocations[allocKey{alloc.UserID, alloc.Year, alloc.Month}] = alloc
}

func (s *Store) update(userID string, year, month int, fn func(*leave.MonthlyAllocation)) (leave.MonthlyAllocation, error) {
	key := allocKey{userID, year, month}
	alloc, ok := s.allocations[key]
	if !ok {
		return leave.MonthlyAllocation{}, leave.ErrAllocationNotFound
	}
	fn(&alloc)
	alloc.Recompute()
	alloc.UpdatedAt = time.Now().UTC()
	s.allocations[key] = alloc
	return alloc, nil
}

func (s *Store) AdjustAllocation(_ context.Context, userID string, year, month, usedDelta, pendingDelta int) (leave.MonthlyAllocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailAdjust; err != nil {
		s.FailAdjust = nil
		return leave.MonthlyAllocation{}, err
	}
	return s.update(userID, year, month, func(a *leave.MonthlyAllocation) {
		a.UsedLeaves += usedDelta
		a.PendingLeaves += pendingDelta
	})
}

func (s *Store) SetAllocationCounts(_ context.Context, userID string, year, month int, prev, next leave.AllocationCounts) (leave.MonthlyAllocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alloc, ok := s.allocations[allocKey{userID, year, month}]
	if !ok {
		return leave.MonthlyAllocation{}, leave.ErrAllocationNotFound
	}
	if alloc.UsedLeaves != prev.Used || alloc.PendingLeaves != prev.Pending {
		return leave.MonthlyAllocation{}, leave.ErrAllocationChanged
	}
	return s.update(userID, year, month, func(a *leave.MonthlyAllocation) {
		a.UsedLeaves = max(0, next.Used)
		a.PendingLeaves = max(0, next.Pending)
	})
}

func (s *Store) ListAllocations(_ context.Context, year, month int) ([]leave.MonthlyAllocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []leave.MonthlyAllocation
	for key, alloc := range s.allocations {
		if key.year == year && key.month == month {
			out = append(out, alloc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

var (
	_ leave.Store = (*Store)(nil)
	_ users.Store = (*Store)(nil)
)
