package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ledgerd/internal/notify"
	"ledgerd/internal/schedule"
	"ledgerd/internal/storage"
)

// alertThreshold is the percentage of budget used at which the one-shot
// alert fires.
const alertThreshold = 80.0

// BudgetChecker evaluates every budget against month-to-date spending on
// the owner's default account and fires one alert per threshold crossing.
type BudgetChecker struct {
	storage  *storage.SQLiteRepository
	notifier notify.Notifier
}

func NewBudgetChecker(repo *storage.SQLiteRepository, notifier notify.Notifier) *BudgetChecker {
	return &BudgetChecker{storage: repo, notifier: notifier}
}

// CheckBudgets runs one evaluation pass. One budget's failure never
// blocks the others; failures are joined into the returned error for the
// caller to log.
//
// Ordering per budget is notify-then-commit: the alert timestamp is only
// persisted after a successful send, so a failed send can be retried on
// the next run. A failed persist after a successful send is tolerated as
// an at-least-once edge case.
func (c *BudgetChecker) CheckBudgets(ctx context.Context, now time.Time) (int, error) {
	budgets, err := c.storage.BudgetsWithDefaultAccount(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch budgets: %w", err)
	}

	slog.InfoContext(ctx, "Checking budgets", "total", len(budgets))

	fired := 0
	var errs []error
	for _, bo := range budgets {
		// No default account is a valid, silent configuration state.
		if bo.DefaultAccountID == "" {
			slog.DebugContext(ctx, "Budget owner has no default account, skipping",
				"budget_id", bo.Budget.ID,
				"user_id", bo.Budget.UserID)
			continue
		}

		// One-shot: an unresolved crossing alerts at most once. Only
		// logic outside this engine clears the marker.
		if !bo.Budget.LastAlertSent.IsZero() {
			continue
		}

		from, to := schedule.MonthToDate(now)
		spent, err := c.storage.ExpenseTotalForAccount(ctx, bo.DefaultAccountID, from, to)
		if err != nil {
			errs = append(errs, fmt.Errorf("budget %s: %w", bo.Budget.ID, err))
			continue
		}

		percentUsed := spent.PercentOf(bo.Budget.Amount)
		if percentUsed < alertThreshold {
			continue
		}

		msg := notify.Message{
			Recipient: bo.OwnerEmail,
			Subject:   "Budget Alert",
			Body:      renderBudgetAlert(bo.OwnerName, percentUsed, spent.String(), bo.Budget.Amount.String()),
		}
		if err := c.notifier.Send(ctx, msg); err != nil {
			// Not persisted, so the next run resends.
			errs = append(errs, fmt.Errorf("budget %s: send alert: %w", bo.Budget.ID, err))
			continue
		}

		if err := c.storage.SetBudgetAlertSent(ctx, bo.Budget.ID, now); err != nil {
			slog.ErrorContext(ctx, "Alert sent but marker not persisted, may resend",
				"budget_id", bo.Budget.ID,
				"error", err)
			errs = append(errs, fmt.Errorf("budget %s: persist alert marker: %w", bo.Budget.ID, err))
		}

		fired++
		slog.InfoContext(ctx, "Budget alert fired",
			"budget_id", bo.Budget.ID,
			"user_id", bo.Budget.UserID,
			"percent_used", fmt.Sprintf("%.1f", percentUsed))
	}

	return fired, errors.Join(errs...)
}

func renderBudgetAlert(name string, percentUsed float64, spent, budget string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", name)
	fmt.Fprintf(&b, "You have used %.1f%% of your monthly budget.\n\n", percentUsed)
	fmt.Fprintf(&b, "Budget amount: %s\n", budget)
	fmt.Fprintf(&b, "Spent so far:  %s\n", spent)
	b.WriteString("\nReview your spending on your default account to stay on track.\n")
	return b.String()
}
