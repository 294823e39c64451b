package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rittima/CRM-Team-sub000/internal/domain/leave"
	"github.com/rittima/CRM-Team-sub000/internal/platform/metrics"
)

type fakeReconciler struct {
	mu     sync.Mutex
	calls  [][2]int
	result leave.ReconcileSummary
	err    error
}

func (f *fakeReconciler) ReconcileMonth(_ context.Context, year, month int) (leave.ReconcileSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, [2]int{year, month})
	summary := f.result
	summary.Year, summary.Month = year, month
	return summary, f.err
}

func (f *fakeReconciler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestReconcileNowRecordsRun(t *testing.T) {
	rec := &fakeReconciler{result: leave.ReconcileSummary{Checked: 4, Corrected: 2}}
	collector := metrics.New()
	svc := New(rec, 0, collector)

	summary, err := svc.ReconcileNow(context.Background(), 2026, 10)
	require.NoError(t, err)
	assert.Equal(t, leave.ReconcileSummary{Year: 2026, Month: 10, Checked: 4, Corrected: 2}, summary)

	history := svc.History()
	require.Len(t, history, 1)
	assert.Equal(t, JobLeaveReconcile, history[0].Type)
	assert.Equal(t, StatusCompleted, history[0].Status)
	assert.NotNil(t, history[0].CompletedAt)
	assert.Equal(t, map[string]uint64{metrics.AllocationsRepaired: 2}, collector.Snapshot()["events"])
}

func TestRunNowRecordsFailure(t *testing.T) {
	svc := New(nil, 0, nil)
	_, err := svc.RunNow(context.Background(), "custom", func(context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)

	history := svc.History()
	require.Len(t, history, 1)
	assert.Equal(t, StatusFailed, history[0].Status)
	assert.Equal(t, "boom", history[0].Error)
}

func TestHistoryIsBounded(t *testing.T) {
	svc := New(nil, 0, nil)
	for i := 0; i < historySize+5; i++ {
		_, _ = svc.RunNow(context.Background(), "noop", func(context.Context) (any, error) { return i, nil })
	}
	history := svc.History()
	require.Len(t, history, historySize)
	assert.Equal(t, historySize+4, history[0].Details)
}

func TestWorkerDrainsQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &fakeReconciler{}
	svc := New(rec, 0, nil)
	svc.Start(ctx)

	svc.Enqueue(JobLeaveReconcile, svc.reconcileJob(2026, 9))
	assert.Eventually(t, func() bool { return rec.callCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestSchedulerReconcilesCurrentAndPreviousMonth(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &fakeReconciler{}
	svc := New(rec, 20*time.Millisecond, nil)
	svc.Now = func() time.Time { return time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC) }
	svc.Start(ctx)

	require.Eventually(t, func() bool { return rec.callCount() >= 2 }, 2*time.Second, 10*time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Contains(t, rec.calls, [2]int{2025, 12})
	assert.Contains(t, rec.calls, [2]int{2026, 1})
}
