package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/FeelPulse/claudechat/internal/models"
)

// argChoice is a value offered after a command name
type argChoice struct {
	value string
	about string
}

// slashCommand is one row of the command popup
type slashCommand struct {
	name  string
	args  string // usage hint shown next to the name
	about string
	// choices lists completable first arguments, nil when free-form
	choices func() []argChoice
}

var slashCommands = []slashCommand{
	{name: "/new", about: "Start a fresh conversation"},
	{name: "/clear", about: "Same as /new"},
	{name: "/model", args: "[id]", about: "Show or switch the model", choices: modelChoices},
	{name: "/export", args: "[md|json] [path]", about: "Save the chat to a file", choices: exportChoices},
	{name: "/key", args: "[key|clear]", about: "Set or clear the API key", choices: keyChoices},
	{name: "/dark", about: "Toggle dark mode"},
	{name: "/usage", about: "Show tokens and cost"},
	{name: "/health", about: "Check the backend"},
	{name: "/help", about: "Show help"},
	{name: "/quit", about: "Exit"},
}

func modelChoices() []argChoice {
	list := models.List()
	out := make([]argChoice, 0, len(list))
	for _, m := range list {
		out = append(out, argChoice{value: m.ID, about: m.Name})
	}
	return out
}

func exportChoices() []argChoice {
	return []argChoice{
		{value: "md", about: "Markdown transcript"},
		{value: "json", about: "Full conversation record"},
	}
}

func keyChoices() []argChoice {
	return []argChoice{{value: "clear", about: "Remove the stored key"}}
}

// suggestion is what Selected inserts plus the text shown beside it
type suggestion struct {
	insert string
	label  string
	about  string
}

// suggest completes a command name, or the first argument once a name and
// a space have been typed. An exact command name yields nothing so Enter
// runs it.
func suggest(input string) []suggestion {
	if !strings.HasPrefix(input, "/") || strings.Contains(input, "\n") {
		return nil
	}

	name, arg, hasArg := strings.Cut(input, " ")
	name = strings.ToLower(name)

	if !hasArg {
		var out []suggestion
		for _, c := range slashCommands {
			if c.name == name {
				return nil
			}
			if strings.HasPrefix(c.name, name) {
				out = append(out, suggestion{insert: c.name, label: strings.TrimSpace(c.name + " " + c.args), about: c.about})
			}
		}
		return out
	}

	if arg == "" || strings.Contains(arg, " ") {
		return nil
	}
	for _, c := range slashCommands {
		if c.name != name || c.choices == nil {
			continue
		}
		var out []suggestion
		for _, ch := range c.choices() {
			if ch.value != arg && strings.HasPrefix(ch.value, arg) {
				out = append(out, suggestion{insert: c.name + " " + ch.value, label: ch.value, about: ch.about})
			}
		}
		return out
	}
	return nil
}

// Autocomplete tracks the popup for the input box
type Autocomplete struct {
	items  []suggestion
	cursor int
}

func NewAutocomplete() *Autocomplete {
	return &Autocomplete{}
}

// Update recomputes suggestions for input, keeping the cursor when it still fits
func (a *Autocomplete) Update(input string) {
	a.items = suggest(input)
	if a.cursor >= len(a.items) {
		a.cursor = 0
	}
}

func (a *Autocomplete) IsActive() bool {
	return len(a.items) > 0
}

func (a *Autocomplete) Next() {
	if n := len(a.items); n > 0 {
		a.cursor = (a.cursor + 1) % n
	}
}

func (a *Autocomplete) Prev() {
	if n := len(a.items); n > 0 {
		a.cursor = (a.cursor + n - 1) % n
	}
}

// Selected returns the input text for the highlighted row
func (a *Autocomplete) Selected() string {
	if len(a.items) == 0 {
		return ""
	}
	return a.items[a.cursor].insert
}

func (a *Autocomplete) Reset() {
	a.items = nil
	a.cursor = 0
}

// View renders the popup no wider than width
func (a *Autocomplete) View(width int) string {
	if !a.IsActive() {
		return ""
	}

	labelWidth := 0
	for _, s := range a.items {
		labelWidth = max(labelWidth, lipgloss.Width(s.label))
	}

	selected := lipgloss.NewStyle().Background(secondaryColor).Foreground(lipgloss.Color("#FFFFFF"))
	label := lipgloss.NewStyle().Foreground(primaryColor)
	about := lipgloss.NewStyle().Foreground(dimColor)

	rows := make([]string, len(a.items))
	for i, s := range a.items {
		if i == a.cursor {
			rows[i] = selected.Render(fmt.Sprintf("%-*s  %s", labelWidth, s.label, s.about))
			continue
		}
		rows[i] = label.Render(fmt.Sprintf("%-*s", labelWidth, s.label)) + about.Render("  "+s.about)
	}

	popup := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(secondaryColor).
		Padding(0, 1)
	if width > 0 {
		popup = popup.MaxWidth(width)
	}
	return popup.Render(strings.Join(rows, "\n"))
}
