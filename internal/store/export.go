package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/FeelPulse/claudechat/pkg/types"
)

// Format selects an export rendering
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "md"
)

// localTimeLayout mirrors the en-US locale rendering used in exported transcripts
const localTimeLayout = "1/2/2006, 3:04:05 PM"

// ParseFormat accepts json/structured and md/markdown/text
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "structured":
		return FormatJSON, nil
	case "md", "markdown", "text":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown export format %q (use json or md)", s)
	}
}

// Extension returns the file extension without the dot
func (f Format) Extension() string {
	return string(f)
}

// ExportFilename returns claude-chat-YYYY-MM-DD.<ext>
func ExportFilename(format Format, now time.Time) string {
	return fmt.Sprintf("claude-chat-%s.%s", now.Format("2006-01-02"), format.Extension())
}

type exportedConversation struct {
	types.Conversation
	ExportedAt time.Time `json:"exportedAt"`
}

// Export renders conv. modelName is printed in the markdown header; now
// stamps the JSON export.
func Export(conv types.Conversation, format Format, modelName string, now time.Time) (string, error) {
	switch format {
	case FormatJSON:
		if conv.Messages == nil {
			conv.Messages = []types.Message{}
		}
		data, err := json.MarshalIndent(exportedConversation{Conversation: conv, ExportedAt: now}, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal export: %w", err)
		}
		return string(data), nil
	case FormatMarkdown:
		return exportMarkdown(conv, modelName), nil
	default:
		return "", fmt.Errorf("unknown export format %q", format)
	}
}

func exportMarkdown(conv types.Conversation, modelName string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Claude Chat Export\n\nModel: %s\nDate: %s\n\n---\n\n",
		modelName, conv.CreatedAt.Local().Format(localTimeLayout))

	sections := make([]string, 0, len(conv.Messages))
	for _, msg := range conv.Messages {
		sections = append(sections, fmt.Sprintf("## %s\n*%s*\n\n%s\n",
			msg.Role.Label(), msg.Timestamp.Local().Format(localTimeLayout), msg.Content))
	}
	sb.WriteString(strings.Join(sections, "\n---\n\n"))
	return sb.String()
}
