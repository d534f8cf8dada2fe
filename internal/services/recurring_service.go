// Package services holds the engine's business logic: recurring
// transaction processing, monthly aggregation, budget alerting and
// report orchestration.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ledgerd/internal/amqp"
	"ledgerd/internal/core"
	"ledgerd/internal/dispatch"
	"ledgerd/internal/ratelimit"
	"ledgerd/internal/storage"
)

// RecurringService selects due recurring templates and materializes them
// into postings through the throttled dispatcher. Processing is
// idempotent per due cycle: the store rechecks dueness inside the same
// transaction that writes the posting.
type RecurringService struct {
	storage    *storage.SQLiteRepository
	dispatcher *dispatch.Dispatcher
}

func NewRecurringService(repo *storage.SQLiteRepository, limiter *ratelimit.KeyLimiter, cfg dispatch.Config) *RecurringService {
	s := &RecurringService{storage: repo}
	s.dispatcher = dispatch.New(s, limiter, cfg)
	return s
}

// ProcessDue selects every due template and dispatches one job each.
// Called by the daily trigger.
func (s *RecurringService) ProcessDue(ctx context.Context, now time.Time) (dispatch.Result, error) {
	due, err := s.storage.DueRecurringTransactions(ctx, now)
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("select due templates: %w", err)
	}

	slog.InfoContext(ctx, "Processing due recurring transactions",
		"due", len(due),
		"processing_date", now.Format("2006-01-02"))

	if len(due) == 0 {
		return dispatch.Result{}, nil
	}

	result, err := s.dispatcher.Dispatch(ctx, dispatch.JobsFor(due), now)
	if err != nil {
		return result, fmt.Errorf("dispatch due templates: %w", err)
	}

	slog.InfoContext(ctx, "Recurring processing complete",
		"processed", result.Processed,
		"skipped", result.Skipped,
		"failed", result.Failed)

	return result, nil
}

// Process executes the atomic unit for one template. Implements
// dispatch.Processor. Returns false with nil error when the recheck finds
// the template no longer due.
func (s *RecurringService) Process(ctx context.Context, transactionID, userID string, now time.Time) (bool, error) {
	if transactionID == "" {
		return false, fmt.Errorf("%w: missing transaction id", core.ErrValidation)
	}
	if userID == "" {
		return false, fmt.Errorf("%w: missing user id", core.ErrValidation)
	}
	return s.storage.ExecuteRecurringTransaction(ctx, transactionID, userID, now)
}

// HandleEvent services one on-demand process-transaction event from the
// broker. A payload referencing no existing template is a validation
// failure for the sender, not a retryable fault.
func (s *RecurringService) HandleEvent(ctx context.Context, ev *amqp.ProcessTransactionEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	applied, err := s.Process(ctx, ev.TransactionID, ev.UserID, time.Now())
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %w", core.ErrValidation, err)
	}
	if err != nil {
		return err
	}

	if !applied {
		slog.InfoContext(ctx, "Event skipped, template not due",
			"transaction_id", ev.TransactionID,
			"user_id", ev.UserID)
	}
	return nil
}
