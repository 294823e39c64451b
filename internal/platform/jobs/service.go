package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rittima/CRM-Team-sub000/internal/domain/leave"
	"github.com/rittima/CRM-Team-sub000/internal/platform/metrics"
)

const JobLeaveReconcile = "leave_reconcile"

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Reconciler is the ledger repair the scheduler drives.
type Reconciler interface {
	ReconcileMonth(ctx context.Context, year, month int) (leave.ReconcileSummary, error)
}

// Run is the record of one job execution.
type Run struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	Details     any        `json:"details,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

type job struct {
	Type string
	Run  func(context.Context) (any, error)
}

type Service struct {
	Reconciler Reconciler
	Interval   time.Duration
	Metrics    *metrics.Collector
	Now        func() time.Time

	queue chan job

	mu      sync.Mutex
	history []Run
}

const historySize = 20

func New(reconciler Reconciler, interval time.Duration, collector *metrics.Collector) *Service {
	return &Service{
		Reconciler: reconciler,
		Interval:   interval,
		Metrics:    collector,
		Now:        time.Now,
		queue:      make(chan job, 128),
	}
}

func (s *Service) Start(ctx context.Context) {
	go s.worker(ctx)
	if s.Interval > 0 && s.Reconciler != nil {
		go s.scheduleReconcile(ctx, s.Interval)
	}
}

func (s *Service) Enqueue(jobType string, run func(context.Context) (any, error)) {
	select {
	case s.queue <- job{Type: jobType, Run: run}:
	default:
		slog.Warn("job queue full", "jobType", jobType)
	}
}

func (s *Service) RunNow(ctx context.Context, jobType string, run func(context.Context) (any, error)) (any, error) {
	return s.runJob(ctx, job{Type: jobType, Run: run})
}

// ReconcileNow repairs the given month synchronously.
func (s *Service) ReconcileNow(ctx context.Context, year, month int) (leave.ReconcileSummary, error) {
	details, err := s.RunNow(ctx, JobLeaveReconcile, s.reconcileJob(year, month))
	summary, _ := details.(leave.ReconcileSummary)
	return summary, err
}

// History returns the most recent runs, newest first.
func (s *Service) History() []Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Run, len(s.history))
	for i, run := range s.history {
		out[len(s.history)-1-i] = run
	}
	return out
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			if _, err := s.runJob(ctx, j); err != nil {
				slog.Warn("job run failed", "jobType", j.Type, "err", err)
			}
		}
	}
}

func (s *Service) runJob(ctx context.Context, j job) (any, error) {
	run := Run{ID: uuid.NewString(), Type: j.Type, Status: StatusRunning, StartedAt: s.now()}

	details, err := j.Run(ctx)
	completed := s.now()
	run.CompletedAt = &completed
	run.Details = details
	run.Status = StatusCompleted
	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
	}
	s.record(run)
	slog.Info("job finished", "jobType", j.Type, "runId", run.ID, "status", run.Status,
		"durationMs", completed.Sub(run.StartedAt).Milliseconds())
	return details, err
}

func (s *Service) record(run Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, run)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Service) reconcileJob(year, month int) func(context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		summary, err := s.Reconciler.ReconcileMonth(ctx, year, month)
		if s.Metrics != nil {
			s.Metrics.Add(metrics.AllocationsRepaired, summary.Corrected)
		}
		return summary, err
	}
}

// scheduleReconcile repairs the current and the previous month on every
// tick; the previous month still matters for carry-forward.
func (s *Service) scheduleReconcile(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.now()
			year, month := now.Year(), int(now.Month())
			prevYear, prevMonth := leave.PreviousMonth(year, month)
			s.Enqueue(JobLeaveReconcile, s.reconcileJob(prevYear, prevMonth))
			s.Enqueue(JobLeaveReconcile, s.reconcileJob(year, month))
		}
	}
}
