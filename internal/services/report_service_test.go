package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"ledgerd/internal/core"
	"ledgerd/internal/insight"
)

func TestSendMonthlyReports(t *testing.T) {
	repo := newTestRepo(t)
	notifier := newFakeNotifier()
	svc := NewReportService(repo, NewStatsService(repo), insight.StaticGenerator{}, notifier)

	user, account := seedOwner(t, repo, "report@example.com", true)
	march := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	seedPosting(t, repo, user, account, core.Income, 20000, "salary", march)
	seedPosting(t, repo, user, account, core.Expense, 5000, "food", march.AddDate(0, 0, 2))

	now := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	sent, err := svc.SendMonthlyReports(context.Background(), now)
	if err != nil {
		t.Fatalf("SendMonthlyReports: %v", err)
	}
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}

	msgs := notifier.messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	msg := msgs[0]
	if msg.Recipient != "report@example.com" {
		t.Errorf("recipient = %q", msg.Recipient)
	}
	if !strings.Contains(msg.Subject, "March 2024") {
		t.Errorf("subject %q missing prior-month label", msg.Subject)
	}
	for _, want := range []string{"200.00", "50.00", "food"} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("report body missing %q:\n%s", want, msg.Body)
		}
	}
	for _, ins := range insight.Fallback() {
		if !strings.Contains(msg.Body, ins) {
			t.Errorf("report body missing insight %q", ins)
		}
	}
}

func TestSendMonthlyReportsIsolatesFailures(t *testing.T) {
	repo := newTestRepo(t)
	notifier := newFakeNotifier()
	notifier.failFor["broken@example.com"] = true
	svc := NewReportService(repo, NewStatsService(repo), insight.StaticGenerator{}, notifier)

	seedOwner(t, repo, "broken@example.com", true)
	seedOwner(t, repo, "healthy@example.com", true)

	now := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	sent, err := svc.SendMonthlyReports(context.Background(), now)
	if err == nil {
		t.Fatal("expected the broken recipient's failure in the joined error")
	}
	if sent != 1 {
		t.Errorf("sent = %d, want 1; one failure must not block the rest", sent)
	}

	msgs := notifier.messages()
	if len(msgs) != 1 || msgs[0].Recipient != "healthy@example.com" {
		t.Errorf("messages = %+v, want exactly one to healthy@example.com", msgs)
	}
}

func TestSendMonthlyReportsCoversUsersWithoutActivity(t *testing.T) {
	repo := newTestRepo(t)
	notifier := newFakeNotifier()
	svc := NewReportService(repo, NewStatsService(repo), insight.StaticGenerator{}, notifier)

	seedOwner(t, repo, "idle@example.com", true)

	sent, err := svc.SendMonthlyReports(context.Background(), time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("SendMonthlyReports: %v", err)
	}
	if sent != 1 {
		t.Errorf("sent = %d, want 1; idle users still receive a report", sent)
	}
	if msgs := notifier.messages(); len(msgs) == 1 && !strings.Contains(msgs[0].Body, "0.00") {
		t.Errorf("idle report body missing zero totals:\n%s", msgs[0].Body)
	}
}
