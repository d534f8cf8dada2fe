package services

import (
	"context"
	"testing"
	"time"

	"ledgerd/internal/core"
)

func TestMonthlyStats(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewStatsService(repo)

	user, account := seedOwner(t, repo, "stats@example.com", true)
	march := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	seedPosting(t, repo, user, account, core.Expense, 5000, "food", march)
	seedPosting(t, repo, user, account, core.Expense, 3000, "food", march.AddDate(0, 0, 5))
	seedPosting(t, repo, user, account, core.Income, 20000, "salary", march.AddDate(0, 0, 1))

	// Outside the month, must not count.
	seedPosting(t, repo, user, account, core.Expense, 7000, "food", time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC))
	seedPosting(t, repo, user, account, core.Expense, 7000, "food", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))

	stats, err := svc.MonthlyStats(context.Background(), user.ID, 2024, time.March)
	if err != nil {
		t.Fatalf("MonthlyStats: %v", err)
	}

	if stats.TotalExpenses.Cents != 8000 {
		t.Errorf("TotalExpenses = %d, want 8000", stats.TotalExpenses.Cents)
	}
	if stats.TotalIncome.Cents != 20000 {
		t.Errorf("TotalIncome = %d, want 20000", stats.TotalIncome.Cents)
	}
	if got := stats.ByCategory["food"].Cents; got != 8000 {
		t.Errorf("ByCategory[food] = %d, want 8000", got)
	}
	if stats.TransactionCount != 3 {
		t.Errorf("TransactionCount = %d, want 3", stats.TransactionCount)
	}
}

func TestMonthlyStatsExcludesTemplates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	svc := NewStatsService(repo)

	user, account := seedOwner(t, repo, "tmpl@example.com", true)
	march := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	if _, err := repo.CreateTransaction(ctx, core.Transaction{
		UserID: user.ID, AccountID: account.ID, Type: core.Expense,
		Amount: core.Money{Cents: 9999}, Category: "rent", Date: march,
		Status: core.StatusCompleted, IsRecurring: true, RecurringInterval: core.Monthly,
	}); err != nil {
		t.Fatalf("create template: %v", err)
	}

	stats, err := svc.MonthlyStats(ctx, user.ID, 2024, time.March)
	if err != nil {
		t.Fatalf("MonthlyStats: %v", err)
	}
	if stats.TransactionCount != 0 {
		t.Errorf("TransactionCount = %d, want 0; templates are not postings", stats.TransactionCount)
	}
}

func TestMonthlyStatsEmptyMonth(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewStatsService(repo)
	user, _ := seedOwner(t, repo, "empty@example.com", true)

	stats, err := svc.MonthlyStats(context.Background(), user.ID, 2024, time.March)
	if err != nil {
		t.Fatalf("MonthlyStats: %v", err)
	}
	if stats.TransactionCount != 0 || stats.TotalIncome.Cents != 0 || stats.TotalExpenses.Cents != 0 {
		t.Errorf("stats = %+v, want zero values", stats)
	}
}
