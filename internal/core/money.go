// Package core holds the domain types shared by every part of the engine.
//
// Money is stored as integer cents. All arithmetic happens on cents;
// floats appear only at display and percentage boundaries.
package core

import "fmt"

// Money is a fixed-point monetary amount in cents.
type Money struct {
	Cents int64
}

// Add returns m + other.
func (m Money) Add(other Money) Money {
	return Money{Cents: m.Cents + other.Cents}
}

// Units returns the major-unit value as a float64 for display purposes.
// Use cents for calculations to avoid floating-point precision issues.
func (m Money) Units() float64 {
	return float64(m.Cents) / 100.0
}

// PercentOf returns m as a percentage of total (100 * m / total).
// A zero total yields 0 rather than dividing by zero.
func (m Money) PercentOf(total Money) float64 {
	if total.Cents == 0 {
		return 0
	}
	return float64(m.Cents) / float64(total.Cents) * 100.0
}

// String formats the amount with two decimals, e.g. "123.45".
func (m Money) String() string {
	sign := ""
	c := m.Cents
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}
