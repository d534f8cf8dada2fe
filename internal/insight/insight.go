// Package insight generates short advisory strings for the monthly
// report. The model is an opaque text-generation service; any failure
// degrades to a fixed static fallback so report delivery never depends
// on it.
package insight

import (
	"context"

	"ledgerd/internal/core"
)

// Generator produces an ordered sequence of short insight strings for one
// owner's monthly stats. Implementations must not fail: on any upstream
// error they return the static fallback instead.
type Generator interface {
	Generate(ctx context.Context, stats core.MonthlyStats, monthLabel string) []string
}

// Fallback returns the static advisory sequence used whenever generation
// is unavailable or fails.
func Fallback() []string {
	return []string{
		"Your highest expense category this month might need attention.",
		"Consider setting up a budget for better financial management.",
		"Track your recurring expenses to identify potential savings.",
	}
}

// StaticGenerator always returns the fallback sequence. Used when no
// model API key is configured.
type StaticGenerator struct{}

func (StaticGenerator) Generate(_ context.Context, _ core.MonthlyStats, _ string) []string {
	return Fallback()
}
