// Package discovery runs refresh cycles: it fans stack scanning out over
// every account of the organization with bounded parallelism, collects the
// resulting entities and hands complete snapshots to the catalog.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/stack-discovery/assume"
	"github.com/GoCodeAlone/stack-discovery/entity"
	"github.com/GoCodeAlone/stack-discovery/metrics"
	"github.com/GoCodeAlone/stack-discovery/observability/tracing"
	"github.com/GoCodeAlone/stack-discovery/org"
	"github.com/GoCodeAlone/stack-discovery/stack"
)

var (
	// ErrCycleInProgress is returned when RunCycle is called while another
	// cycle is still running.
	ErrCycleInProgress = errors.New("discovery: a refresh cycle is already running")

	// ErrCycleIncomplete is returned when the cycle timed out or was
	// cancelled before every account settled. Nothing is emitted.
	ErrCycleIncomplete = errors.New("discovery: refresh cycle did not complete")
)

// AccountLister lists the accounts of the organization.
type AccountLister interface {
	Collect(ctx context.Context) ([]org.Account, error)
}

// CredentialResolver returns credentials scoped to one account.
type CredentialResolver interface {
	Resolve(ctx context.Context, accountID string) (*assume.ScopedCredentials, error)
}

// StackScanner yields the in-scope stacks of one account and region.
type StackScanner interface {
	Scan(ctx context.Context) iter.Seq2[*stack.ScannedStack, error]
}

// ScannerFactory creates a scanner for one account and region.
type ScannerFactory interface {
	NewScanner(creds *assume.ScopedCredentials, region string) StackScanner
}

// Emitter submits a complete snapshot to the catalog.
type Emitter interface {
	Emit(ctx context.Context, snap *entity.Snapshot) error
}

// Config holds the engine settings.
type Config struct {
	Regions      []string
	Concurrency  int
	CycleTimeout time.Duration
}

// AccountFailure records why an account contributed nothing or only part
// of its stacks.
type AccountFailure struct {
	AccountID string
	Err       error
}

// CycleResult describes one finished cycle.
type CycleResult struct {
	ID       string
	Started  time.Time
	Duration time.Duration

	// Accounts is the number of active accounts scanned.
	Accounts         int
	InactiveAccounts int
	FailedAccounts   []AccountFailure
	SkippedStacks    int

	Snapshot *entity.Snapshot
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records cycle metrics in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithTracer sets the span factory.
func WithTracer(t *tracing.DiscoveryTracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// Engine runs refresh cycles. Only one cycle runs at a time.
type Engine struct {
	cfg      Config
	accounts AccountLister
	creds    CredentialResolver
	scanners ScannerFactory
	builder  *entity.Builder
	emitter  Emitter

	logger  *slog.Logger
	metrics *metrics.Collector
	tracer  *tracing.DiscoveryTracer

	running sync.Mutex
}

// NewEngine creates an Engine.
func NewEngine(cfg Config, accounts AccountLister, creds CredentialResolver, scanners ScannerFactory, builder *entity.Builder, emitter Emitter, opts ...Option) *Engine {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 10 * time.Minute
	}
	e := &Engine{
		cfg:      cfg,
		accounts: accounts,
		creds:    creds,
		scanners: scanners,
		builder:  builder,
		emitter:  emitter,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = tracing.NewDiscoveryTracer(nil)
	}
	return e
}

// tally accumulates per-account outcomes from concurrent workers.
type tally struct {
	mu            sync.Mutex
	failed        []AccountFailure
	skippedStacks int
}

func (t *tally) fail(accountID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed = append(t.failed, AccountFailure{AccountID: accountID, Err: err})
}

func (t *tally) skipStack() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.skippedStacks++
}

func (t *tally) fill(res *CycleResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	res.FailedAccounts = append([]AccountFailure(nil), t.failed...)
	res.SkippedStacks = t.skippedStacks
}

// RunCycle runs one refresh cycle and emits its snapshot.
//
// Account listing failures end the cycle. Failures inside one account are
// logged and recorded in the result; the other accounts are unaffected.
// If the cycle timeout expires or ctx is cancelled before every account
// settled, the partial snapshot is dropped and ErrCycleIncomplete returned.
// Calling RunCycle while a cycle is running returns ErrCycleInProgress.
func (e *Engine) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !e.running.TryLock() {
		e.recordCycle(metrics.StatusRejected, 0)
		return nil, ErrCycleInProgress
	}
	defer e.running.Unlock()

	res := &CycleResult{ID: uuid.NewString(), Started: time.Now()}
	logger := e.logger.With("cycle", res.ID)

	ctx, span := e.tracer.StartCycle(ctx, res.ID)
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CycleTimeout)
	defer cancel()

	err := e.run(ctx, res, logger)
	res.Duration = time.Since(res.Started)
	e.tracer.End(span, err)

	switch {
	case errors.Is(err, ErrCycleIncomplete):
		e.recordCycle(metrics.StatusDiscarded, res.Duration)
		logger.Warn("refresh cycle discarded", "duration", res.Duration, "error", err)
	case err != nil:
		e.recordCycle(metrics.StatusFailed, res.Duration)
		logger.Error("refresh cycle failed", "duration", res.Duration, "error", err)
	default:
		e.recordCycle(metrics.StatusSuccess, res.Duration)
		logger.Info("refresh cycle complete",
			"duration", res.Duration,
			"accounts", res.Accounts,
			"failed_accounts", len(res.FailedAccounts),
			"skipped_stacks", res.SkippedStacks,
			"entities", len(res.Snapshot.Entities))
	}
	return res, err
}

func (e *Engine) run(ctx context.Context, res *CycleResult, logger *slog.Logger) error {
	accounts, err := e.accounts.Collect(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	var active []org.Account
	for _, a := range accounts {
		if !a.Active() {
			logger.Info("skipping inactive account", "account", a.ID, "status", a.Status)
			e.recordAccount(metrics.StatusSkipped)
			res.InactiveAccounts++
			continue
		}
		active = append(active, a)
	}
	res.Accounts = len(active)

	graph := entity.NewGraph()
	t := &tally{}

	// Workers left running after the deadline write only into this
	// cycle's graph and tally, which are dropped.
	done := make(chan struct{})
	go func() {
		defer close(done)
		var g errgroup.Group
		g.SetLimit(e.cfg.Concurrency)
		for _, a := range active {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				e.runAccount(ctx, a, graph, t, logger)
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
	t.fill(res)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCycleIncomplete, err)
	}

	snap := graph.Snapshot()
	snap.Complete = true
	res.Snapshot = snap

	if e.emitter != nil {
		if err := e.emitter.Emit(ctx, snap); err != nil {
			return fmt.Errorf("emit snapshot: %w", err)
		}
	}
	if e.metrics != nil {
		e.metrics.SetEntities(snap.Count())
	}
	return nil
}

// runAccount scans every configured region of one account. Entities of
// stacks scanned before a failure stay in the graph.
func (e *Engine) runAccount(ctx context.Context, a org.Account, graph *entity.Graph, t *tally, logger *slog.Logger) {
	if e.metrics != nil {
		e.metrics.AccountsInFlight.Inc()
		defer e.metrics.AccountsInFlight.Dec()
	}
	logger = logger.With("account", a.ID)

	creds, err := e.creds.Resolve(ctx, a.ID)
	if err != nil {
		logger.Error("skipping account: credentials unavailable", "error", err)
		t.fail(a.ID, err)
		e.recordAccount(metrics.StatusFailed)
		return
	}

	ctx, span := e.tracer.StartAccount(ctx, a.ID, creds.RoleARN)
	err = e.scanAccount(ctx, creds, graph, t, logger)
	e.tracer.End(span, err)
	if err != nil {
		logger.Error("account scan aborted", "error", err)
		t.fail(a.ID, err)
		e.recordAccount(metrics.StatusFailed)
		return
	}
	e.recordAccount(metrics.StatusSuccess)
}

func (e *Engine) scanAccount(ctx context.Context, creds *assume.ScopedCredentials, graph *entity.Graph, t *tally, logger *slog.Logger) error {
	for _, region := range e.cfg.Regions {
		stacks := 0
		for s, err := range e.scanners.NewScanner(creds, region).Scan(ctx) {
			if err != nil {
				if !stack.IsStackScoped(err) {
					return fmt.Errorf("region %s: %w", region, err)
				}
				logger.Warn("skipping stack", "region", region, "error", err)
				t.skipStack()
				e.recordSkippedStack(err)
				continue
			}
			_, span := e.tracer.StartStack(ctx, region, s.Record.Name)
			graph.Add(e.builder.Build(s, creds.RoleARN))
			e.tracer.End(span, nil)
			stacks++
		}
		logger.Debug("region scanned", "region", region, "stacks", stacks)
	}
	return nil
}

func (e *Engine) recordCycle(status string, d time.Duration) {
	if e.metrics != nil {
		e.metrics.RecordCycle(status, d)
	}
}

func (e *Engine) recordAccount(status string) {
	if e.metrics != nil {
		e.metrics.RecordAccount(status)
	}
}

func (e *Engine) recordSkippedStack(err error) {
	if e.metrics == nil {
		return
	}
	var te *stack.TemplateError
	if errors.As(err, &te) {
		e.metrics.RecordSkippedStack("template")
		return
	}
	e.metrics.RecordSkippedStack("fetch")
}
