package usage

import (
	"fmt"
	"strings"

	"github.com/FeelPulse/claudechat/pkg/types"
)

// Stats is the token usage of a conversation priced at one model's rates.
// It is always derived from the messages and never stored.
type Stats struct {
	InputTokens  int
	OutputTokens int
	TotalCost    float64
	Replies      int
}

// TotalTokens returns input plus output tokens
func (s Stats) TotalTokens() int {
	return s.InputTokens + s.OutputTokens
}

// Compute folds the token counts of messages and prices them at model's rates
func Compute(messages []types.Message, model types.Model) Stats {
	var s Stats
	for _, msg := range messages {
		if msg.InputTokens == nil && msg.OutputTokens == nil {
			continue
		}
		in, out := msg.Tokens()
		s.InputTokens += in
		s.OutputTokens += out
		s.Replies++
	}
	s.TotalCost = Cost(s.InputTokens, s.OutputTokens, model)
	return s
}

// Cost prices a token count at the model's per-1000-token rates
func Cost(inputTokens, outputTokens int, model types.Model) float64 {
	return float64(inputTokens)/1000*model.InputCostPer1K +
		float64(outputTokens)/1000*model.OutputCostPer1K
}

// FormatCost shows sub-cent costs with four decimals
func FormatCost(cost float64) string {
	if cost < 0.01 {
		return fmt.Sprintf("$%.4f", cost)
	}
	return fmt.Sprintf("$%.2f", cost)
}

// FormatTokens abbreviates counts of 1000 and above, e.g. 1.2k
func FormatTokens(tokens int) string {
	if tokens >= 1000 {
		return fmt.Sprintf("%.1fk", float64(tokens)/1000)
	}
	return fmt.Sprintf("%d", tokens)
}

// Short returns the compact counter shown in the status bar
func (s Stats) Short() string {
	return fmt.Sprintf("%s in / %s out  %s",
		FormatTokens(s.InputTokens), FormatTokens(s.OutputTokens), FormatCost(s.TotalCost))
}

// Report returns a human-readable summary for the given model
func (s Stats) Report(model types.Model) string {
	if s.Replies == 0 {
		return "📊 No usage recorded yet."
	}

	var sb strings.Builder
	sb.WriteString("📊 Usage\n\n")
	sb.WriteString(fmt.Sprintf("🔢 Total Tokens: %d\n", s.TotalTokens()))
	sb.WriteString(fmt.Sprintf("   ↳ Input: %d\n", s.InputTokens))
	sb.WriteString(fmt.Sprintf("   ↳ Output: %d\n", s.OutputTokens))
	sb.WriteString(fmt.Sprintf("💬 Replies: %d\n", s.Replies))
	sb.WriteString(fmt.Sprintf("💵 Cost: %s (priced as %s)\n", FormatCost(s.TotalCost), model.Name))
	return sb.String()
}
