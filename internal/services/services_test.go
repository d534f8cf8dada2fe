package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ledgerd/internal/core"
	"ledgerd/internal/notify"
	"ledgerd/internal/storage"
)

func newTestRepo(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("create test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedOwner(t *testing.T, repo *storage.SQLiteRepository, email string, defaultAccount bool) (core.User, core.Account) {
	t.Helper()
	ctx := context.Background()

	user, err := repo.CreateUser(ctx, core.User{Email: email, Name: "Test Owner"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	account, err := repo.CreateAccount(ctx, core.Account{
		UserID:    user.ID,
		Name:      "Checking",
		IsDefault: defaultAccount,
		Balance:   core.Money{Cents: 100000},
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return user, account
}

func seedPosting(t *testing.T, repo *storage.SQLiteRepository, user core.User, account core.Account, txType core.TransactionType, cents int64, category string, date time.Time) {
	t.Helper()
	_, err := repo.CreateTransaction(context.Background(), core.Transaction{
		UserID:    user.ID,
		AccountID: account.ID,
		Type:      txType,
		Amount:    core.Money{Cents: cents},
		Category:  category,
		Date:      date,
		Status:    core.StatusCompleted,
	})
	if err != nil {
		t.Fatalf("create posting: %v", err)
	}
}

// fakeNotifier records sends and can be scripted to fail, globally or per
// recipient.
type fakeNotifier struct {
	mu      sync.Mutex
	sent    []notify.Message
	failFor map[string]bool
	failAll bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{failFor: make(map[string]bool)}
}

func (f *fakeNotifier) Send(_ context.Context, msg notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll || f.failFor[msg.Recipient] {
		return errors.New("notification channel unavailable")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeNotifier) messages() []notify.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Message(nil), f.sent...)
}

func (f *fakeNotifier) setFailAll(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAll = fail
}
