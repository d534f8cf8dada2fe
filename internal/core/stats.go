package core

import "time"

// MonthlyStats is the reduction of one owner's postings over a calendar month.
type MonthlyStats struct {
	Year             int
	Month            time.Month
	TotalIncome      Money
	TotalExpenses    Money
	ByCategory       map[string]Money // EXPENSE totals keyed by category label
	TransactionCount int
}

// Net returns income minus expenses for the month.
func (s MonthlyStats) Net() Money {
	return Money{Cents: s.TotalIncome.Cents - s.TotalExpenses.Cents}
}

// Reduce folds postings into monthly totals. Deterministic and read-only;
// postings outside the month are the caller's responsibility to exclude.
func Reduce(year int, month time.Month, postings []Transaction) MonthlyStats {
	stats := MonthlyStats{
		Year:       year,
		Month:      month,
		ByCategory: make(map[string]Money),
	}
	for _, p := range postings {
		switch p.Type {
		case Income:
			stats.TotalIncome = stats.TotalIncome.Add(p.Amount)
		case Expense:
			stats.TotalExpenses = stats.TotalExpenses.Add(p.Amount)
			stats.ByCategory[p.Category] = stats.ByCategory[p.Category].Add(p.Amount)
		}
		stats.TransactionCount++
	}
	return stats
}
