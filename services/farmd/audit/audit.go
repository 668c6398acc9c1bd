package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"stakefarm/observability/metrics"
)

// InvariantChecker recomputes the engine's aggregate counters.
type InvariantChecker interface {
	CheckInvariants() error
}

// ChainVerifier checks the event journal's hash chain.
type ChainVerifier interface {
	Verify(ctx context.Context) error
}

// Job periodically checks engine invariants and the journal chain.
type Job struct {
	checker  InvariantChecker
	verifier ChainVerifier
	metrics  *metrics.FarmMetrics
	logger   *slog.Logger
	timeout  time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	lastRun time.Time
	lastErr error
}

// New constructs an audit job. verifier may be nil.
func New(checker InvariantChecker, verifier ChainVerifier, m *metrics.FarmMetrics, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		checker:  checker,
		verifier: verifier,
		metrics:  m,
		logger:   logger,
		timeout:  time.Minute,
	}
}

// RunOnce performs a single audit pass.
func (j *Job) RunOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	var errs []error
	if j.checker != nil {
		if err := j.checker.CheckInvariants(); err != nil {
			errs = append(errs, fmt.Errorf("engine: %w", err))
		}
	}
	if j.verifier != nil {
		if err := j.verifier.Verify(ctx); err != nil {
			errs = append(errs, fmt.Errorf("journal: %w", err))
		}
	}
	err := errors.Join(errs...)
	j.metrics.RecordAudit(err)

	j.mu.Lock()
	j.lastRun = time.Now()
	j.lastErr = err
	j.mu.Unlock()

	if err != nil {
		j.logger.Error("farmd: audit failed", slog.Any("error", err))
		return err
	}
	j.logger.Debug("farmd: audit passed")
	return nil
}

// Last reports when the audit last ran and its outcome.
func (j *Job) Last() (time.Time, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastRun, j.lastErr
}

// Start schedules RunOnce on spec, a standard cron expression or descriptor
// such as "@every 5m".
func (j *Job) Start(ctx context.Context, spec string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cron != nil {
		return errors.New("audit: already started")
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { _ = j.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("register audit: %w", err)
	}
	c.Start()
	j.cron = c
	j.logger.Info("farmd: audit scheduled", slog.String("schedule", spec))
	return nil
}

// Stop halts the schedule and waits for a running audit to finish.
func (j *Job) Stop() {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}
