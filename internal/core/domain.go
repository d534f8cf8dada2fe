package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Income  TransactionType = "INCOME"
	Expense TransactionType = "EXPENSE"
)

const (
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusPending   TransactionStatus = "PENDING"
	StatusCancelled TransactionStatus = "CANCELLED"
)

const (
	Daily   RecurringInterval = "DAILY"
	Weekly  RecurringInterval = "WEEKLY"
	Monthly RecurringInterval = "MONTHLY"
	Yearly  RecurringInterval = "YEARLY"
)

type (
	TransactionType   string
	TransactionStatus string
	RecurringInterval string

	// User owns accounts and budgets. Read-only from the engine's
	// perspective except for derived fields on its children.
	User struct {
		ID    string
		Email string
		Name  string
	}

	// Account holds a running balance mutated only by the recurring
	// processor. At most one account per user is flagged as default.
	Account struct {
		ID        string
		UserID    string
		Name      string
		IsDefault bool
		Balance   Money
	}

	// Transaction is both a concrete ledger posting and, when IsRecurring
	// is set, the template that spawns future postings.
	Transaction struct {
		ID                string
		UserID            string
		AccountID         string
		Type              TransactionType
		Amount            Money
		Category          string
		Description       string
		Date              time.Time
		Status            TransactionStatus
		IsRecurring       bool
		RecurringInterval RecurringInterval
		LastProcessed     time.Time // zero when never processed
		NextRecurringDate time.Time // zero when not scheduled
	}

	// Budget is a monthly spending cap tracked against the owner's
	// default account. LastAlertSent implements one-shot alerting.
	Budget struct {
		ID            string
		UserID        string
		Amount        Money
		LastAlertSent time.Time // zero when no alert pending
	}
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidType      = errors.New("invalid transaction type")
	ErrInvalidInterval  = errors.New("invalid recurring interval")
	ErrEmptyUserID      = errors.New("empty user id")
	ErrEmptyAccountID   = errors.New("empty account id")
	ErrEmptyCategory    = errors.New("empty category")
	ErrEmptyDescription = errors.New("empty description")
)

func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusCompleted, StatusPending, StatusCancelled:
		return true
	}
	return false
}

func (i RecurringInterval) Valid() bool {
	switch i {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// Signed returns the balance delta a posting of this transaction applies:
// positive for income, negative for expense.
func (t Transaction) Signed() Money {
	if t.Type == Expense {
		return Money{Cents: -t.Amount.Cents}
	}
	return t.Amount
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.UserID) == "" {
		return ErrEmptyUserID
	}
	if strings.TrimSpace(t.AccountID) == "" {
		return ErrEmptyAccountID
	}
	if !t.Type.Valid() {
		return ErrInvalidType
	}
	if t.Amount.Cents < 0 {
		return ErrInvalidAmount
	}
	if t.Date.IsZero() {
		return errors.New("zero transaction date")
	}
	if t.IsRecurring && !t.RecurringInterval.Valid() {
		return ErrInvalidInterval
	}
	return nil
}

func (b Budget) Validate() error {
	if strings.TrimSpace(b.UserID) == "" {
		return ErrEmptyUserID
	}
	if b.Amount.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
