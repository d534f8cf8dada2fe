package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ledgerd/internal/core"
	"ledgerd/internal/ratelimit"
	"ledgerd/internal/storage"
)

// fakeProcessor scripts per-template outcomes and records attempts.
type fakeProcessor struct {
	mu       sync.Mutex
	attempts map[string]int
	outcome  func(transactionID string, attempt int) (bool, error)
}

func newFakeProcessor(outcome func(transactionID string, attempt int) (bool, error)) *fakeProcessor {
	return &fakeProcessor{
		attempts: make(map[string]int),
		outcome:  outcome,
	}
}

func (p *fakeProcessor) Process(_ context.Context, transactionID, _ string, _ time.Time) (bool, error) {
	p.mu.Lock()
	p.attempts[transactionID]++
	attempt := p.attempts[transactionID]
	p.mu.Unlock()
	return p.outcome(transactionID, attempt)
}

func (p *fakeProcessor) attemptsFor(transactionID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts[transactionID]
}

func testLimiter(t *testing.T, limit int, window time.Duration) *ratelimit.KeyLimiter {
	t.Helper()
	l := ratelimit.NewKeyLimiter(ratelimit.Config{Limit: limit, Window: window})
	t.Cleanup(l.Stop)
	return l
}

func TestDispatchCountsOutcomes(t *testing.T) {
	proc := newFakeProcessor(func(id string, _ int) (bool, error) {
		switch id {
		case "applied":
			return true, nil
		case "stale":
			return false, nil
		default:
			return false, fmt.Errorf("%w: bad template", core.ErrValidation)
		}
	})
	d := New(proc, testLimiter(t, 10, time.Minute), Config{RetryBackoff: time.Millisecond})

	jobs := []Job{
		{ID: "j1", TransactionID: "applied", UserID: "u1"},
		{ID: "j2", TransactionID: "stale", UserID: "u1"},
		{ID: "j3", TransactionID: "broken", UserID: "u1"},
	}

	result, err := d.Dispatch(context.Background(), jobs, time.Now())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.Processed != 1 || result.Skipped != 1 || result.Failed != 1 {
		t.Errorf("result = %+v, want 1 processed, 1 skipped, 1 failed", result)
	}
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	proc := newFakeProcessor(func(_ string, attempt int) (bool, error) {
		if attempt < 2 {
			return false, errors.New("database is locked")
		}
		return true, nil
	})
	d := New(proc, testLimiter(t, 10, time.Minute), Config{MaxAttempts: 3, RetryBackoff: time.Millisecond})

	result, err := d.Dispatch(context.Background(), []Job{{ID: "j1", TransactionID: "t1", UserID: "u1"}}, time.Now())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.Processed != 1 {
		t.Errorf("processed = %d, want 1", result.Processed)
	}
	if got := proc.attemptsFor("t1"); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestDispatchExhaustsRetries(t *testing.T) {
	proc := newFakeProcessor(func(_ string, _ int) (bool, error) {
		return false, errors.New("database is locked")
	})
	d := New(proc, testLimiter(t, 10, time.Minute), Config{MaxAttempts: 3, RetryBackoff: time.Millisecond})

	result, err := d.Dispatch(context.Background(), []Job{{ID: "j1", TransactionID: "t1", UserID: "u1"}}, time.Now())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.Failed != 1 {
		t.Errorf("failed = %d, want 1", result.Failed)
	}
	if got := proc.attemptsFor("t1"); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestDispatchDoesNotRetryPermanentFailures(t *testing.T) {
	permanent := []error{
		fmt.Errorf("%w: bad payload", core.ErrValidation),
		fmt.Errorf("template: %w", storage.ErrNotFound),
		fmt.Errorf("balance: %w", storage.ErrInvariant),
	}

	for i, target := range permanent {
		proc := newFakeProcessor(func(_ string, _ int) (bool, error) {
			return false, target
		})
		d := New(proc, testLimiter(t, 10, time.Minute), Config{MaxAttempts: 5, RetryBackoff: time.Millisecond})

		id := fmt.Sprintf("t%d", i)
		result, err := d.Dispatch(context.Background(), []Job{{ID: "j", TransactionID: id, UserID: "u1"}}, time.Now())
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		if result.Failed != 1 {
			t.Errorf("%v: failed = %d, want 1", target, result.Failed)
		}
		if got := proc.attemptsFor(id); got != 1 {
			t.Errorf("%v: attempts = %d, want exactly 1", target, got)
		}
	}
}

func TestDispatchDefersOverLimitJobsWithoutDropping(t *testing.T) {
	proc := newFakeProcessor(func(_ string, _ int) (bool, error) {
		return true, nil
	})
	// 25 jobs for one owner through a 5-per-50ms window: the overflow is
	// deferred into later windows, never dropped.
	d := New(proc, testLimiter(t, 5, 50*time.Millisecond), Config{Workers: 8, RetryBackoff: time.Millisecond})

	jobs := make([]Job, 25)
	for i := range jobs {
		jobs[i] = Job{ID: fmt.Sprintf("j%d", i), TransactionID: fmt.Sprintf("t%d", i), UserID: "owner-1"}
	}

	result, err := d.Dispatch(context.Background(), jobs, time.Now())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.Processed != 25 {
		t.Errorf("processed = %d, want all 25", result.Processed)
	}
}

func TestDispatchStopsOnCancelledContext(t *testing.T) {
	proc := newFakeProcessor(func(_ string, _ int) (bool, error) {
		return true, nil
	})
	d := New(proc, testLimiter(t, 1, time.Hour), Config{Workers: 2, RetryBackoff: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	// Second job waits an hour for its slot; cancellation must unblock it.
	jobs := []Job{
		{ID: "j1", TransactionID: "t1", UserID: "owner-1"},
		{ID: "j2", TransactionID: "t2", UserID: "owner-1"},
	}
	_, err := d.Dispatch(ctx, jobs, time.Now())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Dispatch after cancel = %v, want context.Canceled", err)
	}
}

func TestJobsFor(t *testing.T) {
	templates := []core.Transaction{
		{ID: "t1", UserID: "u1"},
		{ID: "t2", UserID: "u2"},
	}
	jobs := JobsFor(templates)
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}
	for i, j := range jobs {
		if j.TransactionID != templates[i].ID || j.UserID != templates[i].UserID {
			t.Errorf("job %d = %+v does not reference template %+v", i, j, templates[i])
		}
		if j.ID == "" {
			t.Errorf("job %d has no id", i)
		}
	}
}
