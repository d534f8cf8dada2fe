package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"ledgerd/internal/core"
	"ledgerd/internal/schedule"
)

var (
	// ErrNotFound is returned when a row does not exist. Never retried.
	ErrNotFound = errors.New("not found")

	// ErrInvariant is returned when an atomic unit would partially apply,
	// e.g. a balance update touching zero rows. The surrounding transaction
	// is rolled back, so the store stays consistent; callers must treat it
	// as a defect to escalate, not a condition to correct.
	ErrInvariant = errors.New("invariant violation")
)

// SQLiteRepository is the transactional store behind the processing engine.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// CreateUser inserts a user. The id is generated when empty.
func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, time.Now().Unix())
	if err != nil {
		return core.User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// ListUsers returns all users, the population of the report run.
func (r *SQLiteRepository) ListUsers(ctx context.Context) ([]core.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, email, name FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		var u core.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CreateAccount inserts an account. The partial unique index on
// (user_id) WHERE is_default rejects a second default account per user.
func (r *SQLiteRepository) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, user_id, name, is_default, balance_cents, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, boolToInt(a.IsDefault), a.Balance.Cents, time.Now().Unix())
	if err != nil {
		return core.Account{}, fmt.Errorf("create account: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, id string) (*core.Account, error) {
	var a core.Account
	var isDefault int64
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, is_default, balance_cents FROM accounts WHERE id = ?`, id).
		Scan(&a.ID, &a.UserID, &a.Name, &isDefault, &a.Balance.Cents)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	a.IsDefault = isDefault == 1
	return &a, nil
}

// CreateTransaction inserts a posting or a recurring template after
// domain validation.
func (r *SQLiteRepository) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if err := t.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("%w: %w", core.ErrValidation, err)
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = core.StatusCompleted
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions
		 (id, user_id, account_id, type, amount_cents, category, description, date, status,
		  is_recurring, recurring_interval, last_processed, next_recurring_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.AccountID, string(t.Type), t.Amount.Cents, t.Category, t.Description,
		t.Date.Unix(), string(t.Status), boolToInt(t.IsRecurring),
		nullString(string(t.RecurringInterval)), nullUnix(t.LastProcessed), nullUnix(t.NextRecurringDate))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}
	return t, nil
}

const transactionColumns = `id, user_id, account_id, type, amount_cents, category, description,
	date, status, is_recurring, recurring_interval, last_processed, next_recurring_date`

// DueRecurringTransactions returns every COMPLETED recurring template that
// has never been processed or whose next occurrence has arrived. Read-only.
func (r *SQLiteRepository) DueRecurringTransactions(ctx context.Context, now time.Time) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE is_recurring = 1
		   AND status = ?
		   AND (last_processed IS NULL OR next_recurring_date <= ?)
		 ORDER BY date`,
		string(core.StatusCompleted), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("select due recurring transactions: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// GetRecurringTransaction re-fetches a template by (id, owner). Returns
// ErrNotFound when it does not exist or is not a recurring template.
func (r *SQLiteRepository) GetRecurringTransaction(ctx context.Context, id, userID string) (*core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE id = ? AND user_id = ? AND is_recurring = 1`, id, userID)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recurring transaction %s for user %s: %w", id, userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get recurring transaction: %w", err)
	}
	return &t, nil
}

// ExecuteRecurringTransaction performs the atomic unit for one due template:
// re-check dueness, insert the spawned posting, adjust the account balance,
// and advance the template's schedule. All inside a single transaction; a
// failed step rolls everything back.
//
// Returns false with a nil error when the recheck finds the template no
// longer due. That is the idempotency boundary: a concurrent run that
// already processed this cycle makes this call a silent no-op.
func (r *SQLiteRepository) ExecuteRecurringTransaction(ctx context.Context, id, userID string, now time.Time) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE id = ? AND user_id = ? AND is_recurring = 1 AND status = ?`,
		id, userID, string(core.StatusCompleted))
	tmpl, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("recurring transaction %s for user %s: %w", id, userID, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("refetch template: %w", err)
	}

	// Recheck inside the transaction. A template processed by a concurrent
	// trigger since selection is no longer due and must not post again.
	if !tmpl.LastProcessed.IsZero() && (tmpl.NextRecurringDate.IsZero() || tmpl.NextRecurringDate.After(now)) {
		return false, nil
	}

	posting := core.Transaction{
		ID:          uuid.New().String(),
		UserID:      tmpl.UserID,
		AccountID:   tmpl.AccountID,
		Type:        tmpl.Type,
		Amount:      tmpl.Amount,
		Category:    tmpl.Category,
		Description: tmpl.Description + " (Recurring)",
		Date:        now,
		Status:      core.StatusCompleted,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO transactions
		 (id, user_id, account_id, type, amount_cents, category, description, date, status, is_recurring)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		posting.ID, posting.UserID, posting.AccountID, string(posting.Type), posting.Amount.Cents,
		posting.Category, posting.Description, posting.Date.Unix(), string(posting.Status))
	if err != nil {
		return false, fmt.Errorf("insert posting: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance_cents = balance_cents + ? WHERE id = ?`,
		tmpl.Signed().Cents, tmpl.AccountID)
	if err != nil {
		return false, fmt.Errorf("adjust balance: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, fmt.Errorf("adjust balance rows: %w", err)
	} else if n != 1 {
		return false, fmt.Errorf("balance update touched %d rows for account %s: %w", n, tmpl.AccountID, ErrInvariant)
	}

	next := schedule.NextOccurrence(now, tmpl.RecurringInterval)
	if !next.After(now) {
		// Unknown interval would freeze the schedule and re-post forever.
		return false, fmt.Errorf("next occurrence did not advance for interval %q: %w", tmpl.RecurringInterval, ErrInvariant)
	}
	res, err = tx.ExecContext(ctx,
		`UPDATE transactions SET last_processed = ?, next_recurring_date = ? WHERE id = ? AND user_id = ?`,
		now.Unix(), next.Unix(), tmpl.ID, tmpl.UserID)
	if err != nil {
		return false, fmt.Errorf("advance template: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, fmt.Errorf("advance template rows: %w", err)
	} else if n != 1 {
		return false, fmt.Errorf("template update touched %d rows for %s: %w", n, tmpl.ID, ErrInvariant)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit recurring execution: %w", err)
	}

	slog.InfoContext(ctx, "Recurring transaction executed",
		"template_id", tmpl.ID,
		"user_id", tmpl.UserID,
		"posting_id", posting.ID,
		"amount_cents", tmpl.Amount.Cents,
		"next_recurring_date", next.Format("2006-01-02"))

	return true, nil
}

// PostingsInRange returns one owner's non-template postings dated within
// the closed interval [from, to].
func (r *SQLiteRepository) PostingsInRange(ctx context.Context, userID string, from, to time.Time) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE user_id = ? AND is_recurring = 0 AND date >= ? AND date <= ?
		 ORDER BY date`,
		userID, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("select postings in range: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// ExpenseTotalForAccount sums COMPLETED expense postings on one account
// within the closed interval [from, to].
func (r *SQLiteRepository) ExpenseTotalForAccount(ctx context.Context, accountID string, from, to time.Time) (core.Money, error) {
	var cents int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM transactions
		 WHERE account_id = ? AND type = ? AND status = ? AND is_recurring = 0
		   AND date >= ? AND date <= ?`,
		accountID, string(core.Expense), string(core.StatusCompleted), from.Unix(), to.Unix()).
		Scan(&cents)
	if err != nil {
		return core.Money{}, fmt.Errorf("sum account expenses: %w", err)
	}
	return core.Money{Cents: cents}, nil
}

// BudgetWithOwner is a budget joined with its owner and the owner's
// default account. DefaultAccountID is empty when no account is flagged.
type BudgetWithOwner struct {
	Budget           core.Budget
	OwnerEmail       string
	OwnerName        string
	DefaultAccountID string
}

// BudgetsWithDefaultAccount returns every budget with owner contact details
// and the resolved default account, if any.
func (r *SQLiteRepository) BudgetsWithDefaultAccount(ctx context.Context) ([]BudgetWithOwner, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT b.id, b.user_id, b.amount_cents, b.last_alert_sent, u.email, u.name,
		        COALESCE(a.id, '')
		 FROM budgets b
		 JOIN users u ON u.id = b.user_id
		 LEFT JOIN accounts a ON a.user_id = b.user_id AND a.is_default = 1
		 ORDER BY b.created_at`)
	if err != nil {
		return nil, fmt.Errorf("select budgets: %w", err)
	}
	defer rows.Close()

	var out []BudgetWithOwner
	for rows.Next() {
		var bo BudgetWithOwner
		var lastAlert sql.NullInt64
		if err := rows.Scan(&bo.Budget.ID, &bo.Budget.UserID, &bo.Budget.Amount.Cents,
			&lastAlert, &bo.OwnerEmail, &bo.OwnerName, &bo.DefaultAccountID); err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		if lastAlert.Valid {
			bo.Budget.LastAlertSent = time.Unix(lastAlert.Int64, 0).UTC()
		}
		out = append(out, bo)
	}
	return out, rows.Err()
}

// CreateBudget inserts a budget after domain validation.
func (r *SQLiteRepository) CreateBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	if err := b.Validate(); err != nil {
		return core.Budget{}, fmt.Errorf("%w: %w", core.ErrValidation, err)
	}
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO budgets (id, user_id, amount_cents, last_alert_sent, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.Amount.Cents, nullUnix(b.LastAlertSent), time.Now().Unix())
	if err != nil {
		return core.Budget{}, fmt.Errorf("create budget: %w", err)
	}
	return b, nil
}

// SetBudgetAlertSent stamps the one-shot alert marker.
func (r *SQLiteRepository) SetBudgetAlertSent(ctx context.Context, budgetID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE budgets SET last_alert_sent = ? WHERE id = ?`, at.Unix(), budgetID)
	if err != nil {
		return fmt.Errorf("set budget alert sent: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("budget %s: %w", budgetID, ErrNotFound)
	}
	return nil
}

// ClearBudgetAlert resets the one-shot marker. The engine itself never
// calls this; it exists for the period-reset collaborator and for tests.
func (r *SQLiteRepository) ClearBudgetAlert(ctx context.Context, budgetID string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE budgets SET last_alert_sent = NULL WHERE id = ?`, budgetID); err != nil {
		return fmt.Errorf("clear budget alert: %w", err)
	}
	return nil
}

// CountPostings returns the number of non-template postings spawned from a
// description marker, used to verify at-most-once posting.
func (r *SQLiteRepository) CountPostings(ctx context.Context, accountID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE account_id = ? AND is_recurring = 0`, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count postings: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		t             core.Transaction
		dateUnix      int64
		isRecurring   int64
		interval      sql.NullString
		lastProcessed sql.NullInt64
		nextDate      sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.UserID, &t.AccountID, (*string)(&t.Type), &t.Amount.Cents,
		&t.Category, &t.Description, &dateUnix, (*string)(&t.Status),
		&isRecurring, &interval, &lastProcessed, &nextDate)
	if err != nil {
		return core.Transaction{}, err
	}
	t.Date = time.Unix(dateUnix, 0).UTC()
	t.IsRecurring = isRecurring == 1
	if interval.Valid {
		t.RecurringInterval = core.RecurringInterval(interval.String)
	}
	if lastProcessed.Valid {
		t.LastProcessed = time.Unix(lastProcessed.Int64, 0).UTC()
	}
	if nextDate.Valid {
		t.NextRecurringDate = time.Unix(nextDate.Int64, 0).UTC()
	}
	return t, nil
}

func scanTransactions(rows *sql.Rows) ([]core.Transaction, error) {
	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullUnix(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}
