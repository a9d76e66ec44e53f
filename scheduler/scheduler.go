// Package scheduler drives refresh cycles on a fixed interval and keeps a
// short execution history for the status endpoints.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/GoCodeAlone/stack-discovery/discovery"
)

// ExecutionStatus represents the result of one scheduled cycle.
type ExecutionStatus string

const (
	ExecStatusSuccess   ExecutionStatus = "success"
	ExecStatusFailed    ExecutionStatus = "failed"
	ExecStatusSkipped   ExecutionStatus = "skipped"
	ExecStatusDiscarded ExecutionStatus = "discarded"
)

// DefaultHistoryLimit is the number of execution records kept.
const DefaultHistoryLimit = 50

// ExecutionRecord records the result of a single cycle.
type ExecutionRecord struct {
	CycleID        string          `json:"cycleId,omitempty"`
	Status         ExecutionStatus `json:"status"`
	StartedAt      time.Time       `json:"startedAt"`
	Duration       time.Duration   `json:"duration"`
	Accounts       int             `json:"accounts"`
	FailedAccounts []string        `json:"failedAccounts,omitempty"`
	SkippedStacks  int             `json:"skippedStacks"`
	Entities       int             `json:"entities"`
	Error          string          `json:"error,omitempty"`
}

// Runner runs one refresh cycle.
type Runner interface {
	RunCycle(ctx context.Context) (*discovery.CycleResult, error)
}

// Status is a point-in-time view of the schedule.
type Status struct {
	Interval  time.Duration `json:"interval"`
	LastRunAt *time.Time    `json:"lastRunAt,omitempty"`
	NextRunAt *time.Time    `json:"nextRunAt,omitempty"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInitialDelay postpones the first cycle after Start.
func WithInitialDelay(d time.Duration) Option {
	return func(s *Scheduler) { s.initialDelay = d }
}

// WithHistoryLimit caps the number of execution records kept.
func WithHistoryLimit(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler runs cycles back to back on a ticker. At most one cycle runs at
// a time across runner swaps: a cycle requested while another is in flight
// is recorded as skipped without reaching either runner.
type Scheduler struct {
	mu           sync.RWMutex
	running      sync.Mutex
	runner       Runner
	interval     time.Duration
	initialDelay time.Duration
	historyLimit int
	history      []*ExecutionRecord
	lastRunAt    *time.Time
	nextRunAt    *time.Time
	logger       *slog.Logger

	reset chan time.Duration
}

// New creates a Scheduler running r every interval.
func New(r Runner, interval time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:       r,
		interval:     interval,
		historyLimit: DefaultHistoryLimit,
		logger:       slog.Default(),
		reset:        make(chan time.Duration, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetRunner swaps the runner used by subsequent cycles.
func (s *Scheduler) SetRunner(r Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runner = r
}

// SetInterval changes the interval. A running Start loop picks it up
// after its current cycle.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	if s.interval == d {
		s.mu.Unlock()
		return
	}
	s.interval = d
	s.mu.Unlock()

	// keep only the latest pending value
	select {
	case <-s.reset:
	default:
	}
	s.reset <- d
}

// Start runs cycles until ctx is cancelled and then returns ctx.Err().
func (s *Scheduler) Start(ctx context.Context) error {
	if s.initialDelay > 0 {
		s.setNext(time.Now().Add(s.initialDelay))
		timer := time.NewTimer(s.initialDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	s.ExecuteNow(ctx)

	s.mu.RLock()
	interval := s.interval
	s.mu.RUnlock()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.setNext(time.Now().Add(interval))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-s.reset:
			interval = d
			ticker.Reset(d)
			s.setNext(time.Now().Add(d))
			s.logger.Info("refresh interval changed", "interval", d)
		case <-ticker.C:
			s.ExecuteNow(ctx)
			s.setNext(time.Now().Add(interval))
		}
	}
}

// ExecuteNow runs one cycle immediately and records it.
func (s *Scheduler) ExecuteNow(ctx context.Context) *ExecutionRecord {
	start := time.Now()
	var rec *ExecutionRecord
	if s.running.TryLock() {
		rec = s.run(ctx, start)
	} else {
		rec = newRecord(start, nil, discovery.ErrCycleInProgress)
	}

	switch rec.Status {
	case ExecStatusSkipped:
		s.logger.Info("refresh cycle skipped: previous cycle still running")
	case ExecStatusFailed, ExecStatusDiscarded:
		s.logger.Warn("scheduled refresh cycle did not publish", "status", rec.Status, "error", rec.Error)
	}

	s.mu.Lock()
	s.lastRunAt = &start
	s.history = append(s.history, rec)
	if over := len(s.history) - s.historyLimit; over > 0 {
		s.history = append([]*ExecutionRecord(nil), s.history[over:]...)
	}
	s.mu.Unlock()
	return rec
}

func (s *Scheduler) run(ctx context.Context, start time.Time) *ExecutionRecord {
	defer s.running.Unlock()
	s.mu.RLock()
	r := s.runner
	s.mu.RUnlock()

	res, err := r.RunCycle(ctx)
	return newRecord(start, res, err)
}

func newRecord(start time.Time, res *discovery.CycleResult, err error) *ExecutionRecord {
	rec := &ExecutionRecord{StartedAt: start, Duration: time.Since(start), Status: ExecStatusSuccess}
	if res != nil {
		rec.CycleID = res.ID
		rec.Accounts = res.Accounts
		rec.SkippedStacks = res.SkippedStacks
		for _, f := range res.FailedAccounts {
			rec.FailedAccounts = append(rec.FailedAccounts, f.AccountID)
		}
		if res.Snapshot != nil {
			rec.Entities = len(res.Snapshot.Entities)
		}
	}
	if err != nil {
		rec.Error = err.Error()
		switch {
		case errors.Is(err, discovery.ErrCycleInProgress):
			rec.Status = ExecStatusSkipped
		case errors.Is(err, discovery.ErrCycleIncomplete):
			rec.Status = ExecStatusDiscarded
		default:
			rec.Status = ExecStatusFailed
		}
	}
	return rec
}

// History returns execution records, newest first.
func (s *Scheduler) History() []*ExecutionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ExecutionRecord, len(s.history))
	for i, rec := range s.history {
		out[len(s.history)-1-i] = rec
	}
	return out
}

// Status returns the current schedule.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{Interval: s.interval, LastRunAt: s.lastRunAt, NextRunAt: s.nextRunAt}
}

func (s *Scheduler) setNext(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRunAt = &t
}
