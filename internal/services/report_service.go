package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"ledgerd/internal/core"
	"ledgerd/internal/insight"
	"ledgerd/internal/notify"
	"ledgerd/internal/schedule"
	"ledgerd/internal/storage"
)

// ReportService sends every owner a prior-month report with generated
// insights. Insight failures degrade to static content inside the
// generator; notification failures abort only that owner's report.
type ReportService struct {
	storage  *storage.SQLiteRepository
	stats    *StatsService
	insights insight.Generator
	notifier notify.Notifier
}

func NewReportService(repo *storage.SQLiteRepository, stats *StatsService, insights insight.Generator, notifier notify.Notifier) *ReportService {
	return &ReportService{
		storage:  repo,
		stats:    stats,
		insights: insights,
		notifier: notifier,
	}
}

// SendMonthlyReports generates and sends the prior-month report for every
// user. Isolate-and-continue: one owner's failure never blocks the rest;
// failures are joined into the returned error for the caller to log.
func (s *ReportService) SendMonthlyReports(ctx context.Context, now time.Time) (int, error) {
	users, err := s.storage.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	year, month := schedule.PriorMonth(now)
	label := fmt.Sprintf("%s %d", month, year)

	slog.InfoContext(ctx, "Sending monthly reports", "users", len(users), "month", label)

	sent := 0
	var errs []error
	for _, u := range users {
		stats, err := s.stats.MonthlyStats(ctx, u.ID, year, month)
		if err != nil {
			errs = append(errs, fmt.Errorf("report for %s: %w", u.ID, err))
			continue
		}

		insights := s.insights.Generate(ctx, stats, label)

		msg := notify.Message{
			Recipient: u.Email,
			Subject:   fmt.Sprintf("Your Monthly Financial Report - %s", label),
			Body:      renderReport(u.Name, label, stats, insights),
		}
		if err := s.notifier.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("report for %s: send: %w", u.ID, err))
			continue
		}

		sent++
	}

	slog.InfoContext(ctx, "Monthly reports complete",
		"sent", sent,
		"failed", len(errs))

	return sent, errors.Join(errs...)
}

func renderReport(name, label string, stats core.MonthlyStats, insights []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", name)
	fmt.Fprintf(&b, "Here is your financial summary for %s.\n\n", label)
	fmt.Fprintf(&b, "Total income:   %s\n", stats.TotalIncome)
	fmt.Fprintf(&b, "Total expenses: %s\n", stats.TotalExpenses)
	fmt.Fprintf(&b, "Net:            %s\n", stats.Net())
	fmt.Fprintf(&b, "Transactions:   %d\n", stats.TransactionCount)

	if len(stats.ByCategory) > 0 {
		b.WriteString("\nExpenses by category:\n")
		categories := make([]string, 0, len(stats.ByCategory))
		for cat := range stats.ByCategory {
			categories = append(categories, cat)
		}
		sort.Strings(categories)
		for _, cat := range categories {
			fmt.Fprintf(&b, "  %-20s %s\n", cat, stats.ByCategory[cat])
		}
	}

	b.WriteString("\nInsights:\n")
	for _, ins := range insights {
		fmt.Fprintf(&b, "  - %s\n", ins)
	}

	return b.String()
}
