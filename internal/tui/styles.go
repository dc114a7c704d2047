package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	primaryColor   = lipgloss.Color("#D97757") // Claude clay
	secondaryColor = lipgloss.Color("#7C3AED")
	userColor      = lipgloss.Color("#3B82F6")
	aiColor        = lipgloss.Color("#D97757")
	dimColor       = lipgloss.Color("#6B7280")
	errorColor     = lipgloss.Color("#EF4444")
)

// Styles
var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(primaryColor).
			Padding(0, 1)

	headerInfoStyle = lipgloss.NewStyle().
			Foreground(dimColor).
			Padding(0, 1)

	userPrefixStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(userColor)

	aiPrefixStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(aiColor)

	// Input area border
	inputBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(secondaryColor).
				Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(dimColor).
			Italic(true)

	thinkingStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	// System message (for commands, status)
	systemStyle = lipgloss.NewStyle().
			Foreground(dimColor).
			Italic(true)

	timestampStyle = lipgloss.NewStyle().
			Foreground(dimColor)

	usageStyle = lipgloss.NewStyle().
			Foreground(dimColor)

	chatBorderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(dimColor)
)

// formatUserMessage formats a user message with styling
func formatUserMessage(text string) string {
	return userPrefixStyle.Render("You:") + " " + text
}

// formatAssistantMessage formats an already-rendered assistant reply
func formatAssistantMessage(rendered string) string {
	prefix := aiPrefixStyle.Render("Claude:")
	if strings.Contains(rendered, "\n") {
		return prefix + "\n" + rendered
	}
	return prefix + " " + rendered
}

// formatSystemMessage formats a system message
func formatSystemMessage(text string) string {
	return systemStyle.Render("• " + text)
}

// formatError formats an error message
func formatError(text string) string {
	return errorStyle.Render("✗ "+text) + helpStyle.Render("  (Esc to dismiss)")
}

// formatThinking returns the thinking indicator
func formatThinking(spin string) string {
	return thinkingStyle.Render(spin + " Claude is thinking...")
}

func formatTimestamp(t time.Time) string {
	return timestampStyle.Render(t.Local().Format("15:04"))
}

// renderHeader draws the title bar with the model, transport and theme
func renderHeader(modelName, transport string, dark bool, width int) string {
	title := headerStyle.Render("Claude Chat")
	theme := "light"
	if dark {
		theme = "dark"
	}
	info := headerInfoStyle.Render(fmt.Sprintf("%s · %s · %s", modelName, transport, theme))

	line := lipgloss.JoinHorizontal(lipgloss.Top, title, info)
	if width > 0 && lipgloss.Width(line) > width {
		return title
	}
	return line
}

// formatUsageBar renders the running usage counter
func formatUsageBar(summary string) string {
	return usageStyle.Render("📊 " + summary)
}

// formatKeyboardShortcuts returns the help bar
func formatKeyboardShortcuts() string {
	return helpStyle.Render("Enter send · Alt+Enter newline · Ctrl+L clear · / commands · Ctrl+C quit")
}
