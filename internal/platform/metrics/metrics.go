package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	LeaveApplied        = "leaveApplied"
	LeaveApproved       = "leaveApproved"
	LeaveRejected       = "leaveRejected"
	LeaveBalanceDenied  = "leaveBalanceDenied"
	LeaveOverlapDenied  = "leaveOverlapDenied"
	AllocationsRepaired = "allocationsRepaired"
)

// Collector keeps process-local counters exposed on /metrics.
type Collector struct {
	totalRequests   uint64
	errorRequests   uint64
	rateLimited     uint64
	totalDurationMs uint64

	mu     sync.Mutex
	events map[string]uint64
}

func New() *Collector {
	return &Collector{events: map[string]uint64{}}
}

func (c *Collector) Record(status int, duration time.Duration) {
	if c == nil {
		return
	}
	atomic.AddUint64(&c.totalRequests, 1)
	if status >= 500 {
		atomic.AddUint64(&c.errorRequests, 1)
	}
	if status == 429 {
		atomic.AddUint64(&c.rateLimited, 1)
	}
	atomic.AddUint64(&c.totalDurationMs, uint64(duration.Milliseconds()))
}

// Add bumps a named domain counter by n.
func (c *Collector) Add(name string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.mu.Lock()
	c.events[name] += uint64(n)
	c.mu.Unlock()
}

func (c *Collector) Inc(name string) {
	c.Add(name, 1)
}

func (c *Collector) Snapshot() map[string]any {
	total := atomic.LoadUint64(&c.totalRequests)
	errs := atomic.LoadUint64(&c.errorRequests)
	limited := atomic.LoadUint64(&c.rateLimited)
	totalMs := atomic.LoadUint64(&c.totalDurationMs)
	avg := float64(0)
	if total > 0 {
		avg = float64(totalMs) / float64(total)
	}

	c.mu.Lock()
	names := make([]string, 0, len(c.events))
	for name := range c.events {
		names = append(names, name)
	}
	sort.Strings(names)
	events := make(map[string]uint64, len(names))
	for _, name := range names {
		events[name] = c.events[name]
	}
	c.mu.Unlock()

	return map[string]any{
		"requestsTotal":    total,
		"errorsTotal":      errs,
		"rateLimitedTotal": limited,
		"avgDurationMs":    avg,
		"totalDurationMs":  totalMs,
		"events":           events,
	}
}
