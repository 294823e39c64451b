package leave

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rittima/CRM-Team-sub000/internal/platform/querier"
)

const pgUniqueViolation = "23505"

const requestColumns = `id, user_id, user_name, user_email, leave_type, start_date, end_date, reason, status, total_days,
  applied_at, COALESCE(reviewed_by, ''), reviewed_at, hr_comments, rejection_reason, updated_at`

const allocationColumns = `id, user_id, year, month, base_allocation, carried_forward, total_allocation,
  used_leaves, pending_leaves, remaining_leaves, created_at, updated_at`

type PGStore struct {
	DB   querier.Querier
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{DB: pool, pool: pool}
}

func (s *PGStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

func (s *PGStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	if s.pool == nil {
		return fn(s)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(&PGStore{DB: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit(ctx)
}

func scanRequest(row pgx.Row) (LeaveRequest, error) {
	var req LeaveRequest
	err := row.Scan(&req.ID, &req.UserID, &req.UserName, &req.UserEmail, &req.LeaveType, &req.StartDate, &req.EndDate,
		&req.Reason, &req.Status, &req.TotalDays, &req.AppliedAt, &req.ReviewedBy, &req.ReviewedAt, &req.HRComments,
		&req.RejectionReason, &req.UpdatedAt)
	return req, err
}

func scanAllocation(row pgx.Row) (MonthlyAllocation, error) {
	var a MonthlyAllocation
	err := row.Scan(&a.ID, &a.UserID, &a.Year, &a.Month, &a.BaseAllocation, &a.CarriedForward, &a.TotalAllocation,
		&a.UsedLeaves, &a.PendingLeaves, &a.RemainingLeaves, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (s *PGStore) CreateRequest(ctx context.Context, req LeaveRequest) error {
	_, err := s.DB.Exec(ctx, `
    INSERT INTO leave_requests (id, user_id, user_name, user_email, leave_type, start_date, end_date, reason, status, total_days, applied_at, updated_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
  `, req.ID, req.UserID, req.UserName, req.UserEmail, req.LeaveType, req.StartDate, req.EndDate, req.Reason, req.Status,
		req.TotalDays, req.AppliedAt, req.UpdatedAt)
	return err
}

func (s *PGStore) GetRequest(ctx context.Context, id string) (LeaveRequest, error) {
	req, err := scanRequest(s.DB.QueryRow(ctx, "SELECT "+requestColumns+" FROM leave_requests WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return LeaveRequest{}, ErrNotFound
	}
	return req, err
}

func (s *PGStore) UpdateReview(ctx context.Context, req LeaveRequest, prevStatus string) error {
	tag, err := s.DB.Exec(ctx, `
    UPDATE leave_requests
    SET status = $2, reviewed_by = NULLIF($3, ''), reviewed_at = $4, hr_comments = $5, rejection_reason = $6, updated_at = $7
    WHERE id = $1 AND status = $8
  `, req.ID, req.Status, req.ReviewedBy, req.ReviewedAt, req.HRComments, req.RejectionReason, req.UpdatedAt, prevStatus)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetRequest(ctx, req.ID); err != nil {
			return err
		}
		return ErrReviewConflict
	}
	return nil
}

func (s *PGStore) ActiveOverlapping(ctx context.Context, userID string, start, end time.Time) ([]LeaveRequest, error) {
	rows, err := s.DB.Query(ctx, "SELECT "+requestColumns+`
    FROM leave_requests
    WHERE user_id = $1 AND status = ANY($2) AND start_date <= $3 AND end_date >= $4
  `, userID, []string{StatusPending, StatusApproved}, end, start)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

func collectRequests(rows pgx.Rows) ([]LeaveRequest, error) {
	defer rows.Close()
	var out []LeaveRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *PGStore) ListRequests(ctx context.Context, filter RequestFilter) (RequestListResult, error) {
	var where []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if !filter.StartFrom.IsZero() {
		add("start_date >= $%d", filter.StartFrom)
	}
	if !filter.EndTo.IsZero() {
		add("end_date <= $%d", filter.EndTo)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.DB.QueryRow(ctx, "SELECT COUNT(1) FROM leave_requests"+clause, args...).Scan(&total); err != nil {
		return RequestListResult{}, err
	}

	query := "SELECT " + requestColumns + " FROM leave_requests" + clause + " ORDER BY applied_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, filter.Limit, filter.Offset)
	}
	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return RequestListResult{}, err
	}
	requests, err := collectRequests(rows)
	if err != nil {
		return RequestListResult{}, err
	}
	return RequestListResult{Requests: requests, Total: total}, nil
}

func (s *PGStore) SumDaysByStatus(ctx context.Context, userID string, from, to time.Time) (map[string]int, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT status, COALESCE(SUM(total_days), 0)
    FROM leave_requests
    WHERE user_id = $1 AND start_date >= $2 AND start_date <= $3
    GROUP BY status
  `, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sums := map[string]int{}
	for rows.Next() {
		var status string
		var days int
		if err := rows.Scan(&status, &days); err != nil {
			return nil, err
		}
		sums[status] = days
	}
	return sums, rows.Err()
}

func (s *PGStore) FindAllocation(ctx context.Context, userID string, year, month int) (MonthlyAllocation, error) {
	alloc, err := scanAllocation(s.DB.QueryRow(ctx, "SELECT "+allocationColumns+`
    FROM leave_allocations
    WHERE user_id = $1 AND year = $2 AND month = $3
  `, userID, year, month))
	if errors.Is(err, pgx.ErrNoRows) {
		return MonthlyAllocation{}, ErrAllocationNotFound
	}
	return alloc, err
}

func (s *PGStore) InsertAllocation(ctx context.Context, alloc MonthlyAllocation) error {
	alloc.Recompute()
	tag, err := s.DB.Exec(ctx, `
    INSERT INTO leave_allocations (id, user_id, year, month, base_allocation, carried_forward, total_allocation,
      used_leaves, pending_leaves, remaining_leaves, created_at, updated_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
    ON CONFLICT (user_id, year, month) DO NOTHING
  `, alloc.ID, alloc.UserID, alloc.Year, alloc.Month, alloc.BaseAllocation, alloc.CarriedForward, alloc.TotalAllocation,
		alloc.UsedLeaves, alloc.PendingLeaves, alloc.RemainingLeaves, alloc.CreatedAt, alloc.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrDuplicateAllocation
	}
	if err != nil {
		return err
	}
	// ON CONFLICT keeps a surrounding transaction usable for the re-fetch.
	if tag.RowsAffected() == 0 {
		return ErrDuplicateAllocation
	}
	return nil
}

func (s *PGStore) AdjustAllocation(ctx context.Context, userID string, year, month, usedDelta, pendingDelta int) (MonthlyAllocation, error) {
	// SET expressions read the pre-update row, so remaining is derived from the
	// same clamped values that are written.
	alloc, err := scanAllocation(s.DB.QueryRow(ctx, `
    UPDATE leave_allocations
    SET used_leaves = GREATEST(0, used_leaves + $4),
        pending_leaves = GREATEST(0, pending_leaves + $5),
        total_allocation = base_allocation + carried_forward,
        remaining_leaves = base_allocation + carried_forward - GREATEST(0, used_leaves + $4) - GREATEST(0, pending_leaves + $5),
        updated_at = now()
    WHERE user_id = $1 AND year = $2 AND month = $3
    RETURNING `+allocationColumns, userID, year, month, usedDelta, pendingDelta))
	if errors.Is(err, pgx.ErrNoRows) {
		return MonthlyAllocation{}, ErrAllocationNotFound
	}
	return alloc, err
}

func (s *PGStore) SetAllocationCounts(ctx context.Context, userID string, year, month int, prev, next AllocationCounts) (MonthlyAllocation, error) {
	alloc, err := scanAllocation(s.DB.QueryRow(ctx, `
    UPDATE leave_allocations
    SET used_leaves = GREATEST(0, $4),
        pending_leaves = GREATEST(0, $5),
        total_allocation = base_allocation + carried_forward,
        remaining_leaves = base_allocation + carried_forward - GREATEST(0, $4) - GREATEST(0, $5),
        updated_at = now()
    WHERE user_id = $1 AND year = $2 AND month = $3
      AND used_leaves = $6 AND pending_leaves = $7
    RETURNING `+allocationColumns, userID, year, month, next.Used, next.Pending, prev.Used, prev.Pending))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, findErr := s.FindAllocation(ctx, userID, year, month); findErr != nil {
			return MonthlyAllocation{}, findErr
		}
		return MonthlyAllocation{}, ErrAllocationChanged
	}
	return alloc, err
}

func (s *PGStore) ListAllocations(ctx context.Context, year, month int) ([]MonthlyAllocation, error) {
	rows, err := s.DB.Query(ctx, "SELECT "+allocationColumns+`
    FROM leave_allocations
    WHERE year = $1 AND month = $2
    ORDER BY user_id
  `, year, month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MonthlyAllocation
	for rows.Next() {
		alloc, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, alloc)
	}
	return out, rows.Err()
}
