package core

import (
	"errors"
	"testing"
	"time"
)

func TestTransactionValidate(t *testing.T) {
	valid := Transaction{
		UserID:    "u1",
		AccountID: "a1",
		Type:      Expense,
		Amount:    Money{Cents: 1500},
		Category:  "food",
		Date:      time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name    string
		mutate  func(*Transaction)
		wantErr error
	}{
		{
			name:   "valid posting",
			mutate: func(*Transaction) {},
		},
		{
			name: "valid recurring template",
			mutate: func(tx *Transaction) {
				tx.IsRecurring = true
				tx.RecurringInterval = Monthly
			},
		},
		{
			name:    "missing user id",
			mutate:  func(tx *Transaction) { tx.UserID = " " },
			wantErr: ErrEmptyUserID,
		},
		{
			name:    "missing account id",
			mutate:  func(tx *Transaction) { tx.AccountID = "" },
			wantErr: ErrEmptyAccountID,
		},
		{
			name:    "bad type",
			mutate:  func(tx *Transaction) { tx.Type = "TRANSFER" },
			wantErr: ErrInvalidType,
		},
		{
			name:    "negative amount",
			mutate:  func(tx *Transaction) { tx.Amount = Money{Cents: -1} },
			wantErr: ErrInvalidAmount,
		},
		{
			name: "recurring without interval",
			mutate: func(tx *Transaction) {
				tx.IsRecurring = true
			},
			wantErr: ErrInvalidInterval,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := valid
			tt.mutate(&tx)
			err := tx.Validate()
			if tt.wantErr == nil && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTransactionSigned(t *testing.T) {
	income := Transaction{Type: Income, Amount: Money{Cents: 500}}
	if got := income.Signed().Cents; got != 500 {
		t.Errorf("income Signed() = %d, want 500", got)
	}

	expense := Transaction{Type: Expense, Amount: Money{Cents: 500}}
	if got := expense.Signed().Cents; got != -500 {
		t.Errorf("expense Signed() = %d, want -500", got)
	}
}

func TestBudgetValidate(t *testing.T) {
	if err := (Budget{UserID: "u1", Amount: Money{Cents: 10000}}).Validate(); err != nil {
		t.Errorf("valid budget: %v", err)
	}
	if err := (Budget{UserID: "u1"}).Validate(); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero amount budget: got %v, want ErrInvalidAmount", err)
	}
	if err := (Budget{Amount: Money{Cents: 1}}).Validate(); !errors.Is(err, ErrEmptyUserID) {
		t.Errorf("ownerless budget: got %v, want ErrEmptyUserID", err)
	}
}
