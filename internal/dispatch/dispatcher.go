// Package dispatch fans due-template references out to the recurring
// processor behind a per-owner rate limit, so one owner's backlog cannot
// burst-load the store or the notification path.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ledgerd/internal/core"
	"ledgerd/internal/ratelimit"
	"ledgerd/internal/storage"
)

// Processor executes the atomic unit for one due template. It reports
// whether the unit applied; a false result with nil error means the
// template was no longer due (idempotent no-op).
type Processor interface {
	Process(ctx context.Context, transactionID, userID string, now time.Time) (bool, error)
}

// Job is one unit of dispatch work referencing a due template.
type Job struct {
	ID            string
	TransactionID string
	UserID        string
}

// Config holds dispatcher tuning.
type Config struct {
	// Workers bounds concurrent jobs across all owners.
	Workers int
	// MaxAttempts bounds retries of transient store failures per job.
	MaxAttempts int
	// RetryBackoff is the base delay between attempts, multiplied linearly.
	RetryBackoff time.Duration
}

// DefaultConfig returns dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		MaxAttempts:  3,
		RetryBackoff: time.Second,
	}
}

// Result summarizes one dispatch run.
type Result struct {
	Processed int64 // atomic units applied
	Skipped   int64 // rechecked as no longer due
	Failed    int64 // exhausted retries or permanent errors
}

// Dispatcher runs one job per due template through the processor, at most
// limiter.Limit starts per owner per rolling window. Over-limit jobs are
// deferred until the window admits them, never dropped.
type Dispatcher struct {
	processor Processor
	limiter   *ratelimit.KeyLimiter
	cfg       Config
}

func New(processor Processor, limiter *ratelimit.KeyLimiter, cfg Config) *Dispatcher {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	return &Dispatcher{
		processor: processor,
		limiter:   limiter,
		cfg:       cfg,
	}
}

// JobsFor converts due templates into dispatch jobs.
func JobsFor(templates []core.Transaction) []Job {
	jobs := make([]Job, len(templates))
	for i, t := range templates {
		jobs[i] = Job{
			ID:            uuid.New().String(),
			TransactionID: t.ID,
			UserID:        t.UserID,
		}
	}
	return jobs
}

// Dispatch runs all jobs and blocks until every job finished or the
// context was cancelled. One job's failure never aborts the others; only
// context cancellation does.
func (d *Dispatcher) Dispatch(ctx context.Context, jobs []Job, now time.Time) (Result, error) {
	var result Result

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			if err := d.limiter.Wait(ctx, job.UserID); err != nil {
				return err
			}
			applied, err := d.runWithRetry(ctx, job, now)
			switch {
			case err != nil && ctx.Err() != nil:
				return ctx.Err()
			case err != nil:
				atomic.AddInt64(&result.Failed, 1)
				slog.ErrorContext(ctx, "Recurring job failed",
					"job_id", job.ID,
					"transaction_id", job.TransactionID,
					"user_id", job.UserID,
					"error", err)
			case applied:
				atomic.AddInt64(&result.Processed, 1)
			default:
				atomic.AddInt64(&result.Skipped, 1)
			}
			return nil
		})
	}

	err := g.Wait()
	return result, err
}

// runWithRetry executes one job, retrying transient store errors with
// linear backoff. Retries stay idempotent because the processor rechecks
// dueness inside its transaction on every attempt.
func (d *Dispatcher) runWithRetry(ctx context.Context, job Job, now time.Time) (bool, error) {
	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		applied, err := d.processor.Process(ctx, job.TransactionID, job.UserID, now)
		if err == nil {
			return applied, nil
		}
		if !retryable(err) {
			return false, err
		}
		lastErr = err

		slog.WarnContext(ctx, "Transient failure, retrying job",
			"job_id", job.ID,
			"transaction_id", job.TransactionID,
			"attempt", attempt,
			"error", err)

		if attempt == d.cfg.MaxAttempts {
			break
		}
		timer := time.NewTimer(d.cfg.RetryBackoff * time.Duration(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		}
	}
	return false, lastErr
}

// retryable treats store unavailability as transient. Validation failures,
// missing templates and invariant violations never resolve by retrying.
func retryable(err error) bool {
	switch {
	case errors.Is(err, core.ErrValidation),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, storage.ErrInvariant),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
