package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"google.golang.org/genai"

	"ledgerd/internal/core"
)

// DefaultModelName is the Gemini model used for insight generation.
const DefaultModelName = "gemini-2.0-flash"

// GeminiGenerator asks Gemini for three short insights about one month of
// spending. It expects a STRICT JSON array of strings back; anything else
// falls back to the static sequence.
type GeminiGenerator struct {
	model string
}

func NewGeminiGenerator(model string) *GeminiGenerator {
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiGenerator{model: model}
}

func (g *GeminiGenerator) Generate(ctx context.Context, stats core.MonthlyStats, monthLabel string) []string {
	insights, err := g.generate(ctx, stats, monthLabel)
	if err != nil {
		slog.WarnContext(ctx, "Insight generation failed, using fallback",
			"month", monthLabel,
			"error", err)
		return Fallback()
	}
	if len(insights) == 0 {
		return Fallback()
	}
	return insights
}

func (g *GeminiGenerator) generate(ctx context.Context, stats core.MonthlyStats, monthLabel string) ([]string, error) {
	prompt := buildPrompt(stats, monthLabel)

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: prompt},
			},
		},
	}

	resp, err := client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, fmt.Errorf("empty response from model")
	}

	return parseInsights(rawText)
}

func buildPrompt(stats core.MonthlyStats, monthLabel string) string {
	var b strings.Builder
	b.WriteString("You are a personal finance advisor.\n\n")
	b.WriteString("Task:\n")
	b.WriteString("- Analyze this month's financial data and provide 3 concise, actionable insights.\n")
	b.WriteString("- Focus on spending patterns and practical advice.\n")
	b.WriteString("- Keep each insight under 25 words.\n")
	b.WriteString("- Output STRICT JSON only: a JSON array of exactly 3 strings.\n")
	b.WriteString("- Do NOT wrap the response in code fences.\n\n")

	fmt.Fprintf(&b, "Financial data for %s:\n", monthLabel)
	fmt.Fprintf(&b, "- Total income: %s\n", stats.TotalIncome)
	fmt.Fprintf(&b, "- Total expenses: %s\n", stats.TotalExpenses)
	fmt.Fprintf(&b, "- Net: %s\n", stats.Net())
	fmt.Fprintf(&b, "- Transactions: %d\n", stats.TransactionCount)

	if len(stats.ByCategory) > 0 {
		b.WriteString("- Expenses by category:\n")
		categories := make([]string, 0, len(stats.ByCategory))
		for name := range stats.ByCategory {
			categories = append(categories, name)
		}
		sort.Strings(categories)
		for _, name := range categories {
			fmt.Fprintf(&b, "  - %s: %s\n", name, stats.ByCategory[name])
		}
	}

	return b.String()
}

// parseInsights decodes the model output into a string slice, stripping
// Markdown fences if the model ignored instructions.
func parseInsights(raw string) ([]string, error) {
	clean := cleanModelJSON(raw)

	var insights []string
	if err := json.Unmarshal([]byte(clean), &insights); err != nil {
		return nil, fmt.Errorf("unmarshal insights JSON: %w", err)
	}

	out := insights[:0]
	for _, s := range insights {
		if strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out, nil
}

func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	return strings.TrimSpace(s)
}
