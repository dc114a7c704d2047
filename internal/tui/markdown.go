package tui

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/glamour"
)

// markdownIndicators are patterns that suggest content contains markdown
var markdownIndicators = regexp.MustCompile("(?m)(^```|^#{1,6}\\s|^[*-]\\s|\\*\\*|__|`[^`]+`|^>\\s|^\\d+\\.\\s)")

// containsMarkdown checks if text likely contains markdown formatting
func containsMarkdown(text string) bool {
	return markdownIndicators.MatchString(text)
}

// glamourStyle picks the standard style matching the theme
func glamourStyle(dark bool) string {
	if dark {
		return "dark"
	}
	return "light"
}

// renderMarkdown renders markdown content with glamour
func renderMarkdown(content string, width int, dark bool) string {
	if width < 40 {
		width = 80
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(glamourStyle(dark)),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	out, err := r.Render(content)
	if err != nil {
		return content
	}

	// glamour pads both ends with blank lines
	return strings.Trim(out, "\n")
}

// renderIfMarkdown renders content through glamour only if it contains markdown
func renderIfMarkdown(content string, width int, dark bool) string {
	if containsMarkdown(content) {
		return renderMarkdown(content, width, dark)
	}
	return wrapText(content, width)
}
