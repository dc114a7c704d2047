package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/FeelPulse/claudechat/internal/agent"
	"github.com/FeelPulse/claudechat/internal/models"
	"github.com/FeelPulse/claudechat/internal/session"
	"github.com/FeelPulse/claudechat/internal/store"
	"github.com/FeelPulse/claudechat/pkg/types"
)

// Command represents a slash command
type Command int

const (
	CmdNone Command = iota
	CmdNew
	CmdModel
	CmdExport
	CmdKey
	CmdDark
	CmdUsage
	CmdHealth
	CmdHelp
	CmdQuit
	CmdUnknown
)

const healthTimeout = 5 * time.Second

// replyMsg carries the outcome of an Execute back into the update loop
type replyMsg struct {
	result session.Result
}

type healthMsg struct {
	health agent.Health
}

type exportedMsg struct {
	path string
	err  error
}

// notice is a local status line shown after the first `after` transcript messages
type notice struct {
	after int
	text  string
}

// Model is the bubbletea model for the chat screen.
// All conversation state lives in the engine; the model only renders it.
type Model struct {
	ctx      context.Context
	engine   *session.Engine
	viewport viewport.Model
	textarea textarea.Model
	keyInput textinput.Model
	spinner  spinner.Model

	autocomplete *Autocomplete
	notices      []notice
	exportDir    string
	promptingKey bool
	width        int
	height       int
	ready        bool
	quitting     bool
}

// Options tunes a Model; zero values are fine
type Options struct {
	// Context bounds transport calls; canceled on quit by the caller
	Context context.Context
	// ExportDir is where /export writes when no path is given
	ExportDir string
}

// New creates the chat model around engine
func New(engine *session.Engine, opts Options) Model {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.ExportDir == "" {
		opts.ExportDir = "."
	}

	ta := textarea.New()
	ta.Placeholder = "Type your message... (Enter to send)"
	ta.Focus()
	ta.CharLimit = 0
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	ki := textinput.New()
	ki.Placeholder = "sk-ant-..."
	ki.EchoMode = textinput.EchoPassword
	ki.EchoCharacter = '•'
	ki.Prompt = "API key: "

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = thinkingStyle

	m := Model{
		ctx:          opts.Context,
		engine:       engine,
		textarea:     ta,
		keyInput:     ki,
		spinner:      sp,
		autocomplete: NewAutocomplete(),
		exportDir:    opts.ExportDir,
	}
	if agent.RequiresCredential(engine.Transport()) && engine.Credential() == "" {
		m.openKeyPrompt()
	}
	return m
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.quitting = true
			return m, tea.Quit
		}
		if m.promptingKey {
			return m.updateKeyPrompt(msg)
		}

		switch msg.Type {
		case tea.KeyCtrlL:
			return m.handleCommand(CmdNew, "")

		case tea.KeyTab:
			if m.autocomplete.IsActive() {
				m.textarea.SetValue(m.autocomplete.Selected())
				m.textarea.CursorEnd()
				m.autocomplete.Reset()
				return m, nil
			}

		case tea.KeyUp:
			if m.autocomplete.IsActive() {
				m.autocomplete.Prev()
				return m, nil
			}

		case tea.KeyDown:
			if m.autocomplete.IsActive() {
				m.autocomplete.Next()
				return m, nil
			}

		case tea.KeyEsc:
			if m.autocomplete.IsActive() {
				m.autocomplete.Reset()
				return m, nil
			}
			m.engine.DismissError()
			return m, nil

		case tea.KeyEnter:
			if m.autocomplete.IsActive() {
				m.textarea.SetValue(m.autocomplete.Selected() + " ")
				m.textarea.CursorEnd()
				m.autocomplete.Reset()
				return m, nil
			}

			// Alt+Enter inserts a newline
			if msg.Alt {
				m.textarea.InsertString("\n")
				return m, nil
			}

			text := strings.TrimSpace(m.textarea.Value())
			if text == "" || (m.engine.Loading() && !isCommand(text)) {
				return m, nil
			}
			m.textarea.Reset()
			m.autocomplete.Reset()
			return m.handleInput(text)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 2
		inputHeight := 5  // textarea + border
		statusHeight := 3 // usage, help, error
		chatHeight := m.height - headerHeight - inputHeight - statusHeight - 2
		if chatHeight < 3 {
			chatHeight = 3
		}

		if !m.ready {
			m.viewport = viewport.New(m.width-2, chatHeight)
			m.ready = true
		} else {
			m.viewport.Width = m.width - 2
			m.viewport.Height = chatHeight
		}
		m.textarea.SetWidth(m.width - 4)
		m.refresh()
		return m, nil

	case replyMsg:
		m.engine.Resolve(msg.result)
		m.refresh()
		return m, nil

	case healthMsg:
		m.addNotice(formatHealth(msg.health))
		m.refresh()
		return m, nil

	case exportedMsg:
		if msg.err != nil {
			m.addNotice("Export failed: " + msg.err.Error())
		} else {
			m.addNotice("Exported to " + msg.path)
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.engine.Loading() {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(msg)
		m.refresh()
		return m, cmd
	}

	m.textarea, cmd = m.textarea.Update(msg)
	cmds = append(cmds, cmd)

	m.autocomplete.Update(m.textarea.Value())

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// updateKeyPrompt handles keys while the masked credential prompt is open
func (m Model) updateKeyPrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.closeKeyPrompt()
		return m, nil
	case tea.KeyEnter:
		key := strings.TrimSpace(m.keyInput.Value())
		m.closeKeyPrompt()
		if key == "" {
			return m, nil
		}
		if err := m.engine.SetCredential(key); err != nil {
			m.addNotice("Failed to save API key: " + err.Error())
		} else {
			m.addNotice(fmt.Sprintf("API key saved (%s)", agent.AuthModeName(key)))
		}
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.keyInput, cmd = m.keyInput.Update(msg)
	return m, cmd
}

func (m *Model) openKeyPrompt() {
	m.promptingKey = true
	m.keyInput.Reset()
	m.keyInput.Focus()
	m.textarea.Blur()
}

func (m *Model) closeKeyPrompt() {
	m.promptingKey = false
	m.keyInput.Reset()
	m.keyInput.Blur()
	m.textarea.Focus()
}

// handleInput processes user input (message or command)
func (m Model) handleInput(text string) (tea.Model, tea.Cmd) {
	if isCommand(text) {
		cmd, arg := parseCommand(text)
		return m.handleCommand(cmd, arg)
	}

	req, err := m.engine.Submit(text)
	switch {
	case errors.Is(err, session.ErrMissingCredential):
		m.openKeyPrompt()
		m.refresh()
		return m, nil
	case err != nil || req == nil:
		return m, nil
	}

	m.refresh()
	return m, tea.Batch(m.execute(req), m.spinner.Tick)
}

// execute runs the transport call off the update loop
func (m Model) execute(req *session.Request) tea.Cmd {
	engine, ctx := m.engine, m.ctx
	return func() tea.Msg {
		return replyMsg{result: engine.Execute(ctx, req)}
	}
}

// handleCommand processes slash commands
func (m Model) handleCommand(cmd Command, arg string) (tea.Model, tea.Cmd) {
	var next tea.Cmd

	switch cmd {
	case CmdNew:
		m.engine.Clear()
		m.notices = nil
		m.addNotice("Started new conversation")

	case CmdModel:
		if arg == "" {
			m.addNotice(modelList(m.engine.Model().ID))
			break
		}
		if !models.Valid(arg) {
			m.addNotice(fmt.Sprintf("Unknown model: %s. Use /model to see available models.", arg))
			break
		}
		id := m.engine.SetModel(arg)
		m.addNotice("Model set to: " + models.DisplayName(id))

	case CmdExport:
		format, path, err := parseExportArgs(arg, m.exportDir, time.Now())
		if err != nil {
			m.addNotice(err.Error())
			break
		}
		next = m.export(format, path)

	case CmdKey:
		switch arg {
		case "":
			m.openKeyPrompt()
		case "clear":
			if err := m.engine.SetCredential(""); err != nil {
				m.addNotice("Failed to clear API key: " + err.Error())
			} else {
				m.addNotice("API key cleared")
			}
		default:
			if err := m.engine.SetCredential(arg); err != nil {
				m.addNotice("Failed to save API key: " + err.Error())
			} else {
				m.addNotice(fmt.Sprintf("API key saved (%s)", agent.AuthModeName(arg)))
			}
		}

	case CmdDark:
		dark, err := m.engine.ToggleDarkMode()
		if err != nil {
			m.addNotice("Failed to save theme: " + err.Error())
		} else if dark {
			m.addNotice("Dark mode on")
		} else {
			m.addNotice("Dark mode off")
		}

	case CmdUsage:
		m.addNotice(m.engine.Usage().Report(m.engine.Model()))

	case CmdHealth:
		checker, ok := m.engine.Transport().(agent.HealthChecker)
		if !ok {
			m.addNotice("Health checks are only available in proxy mode")
			break
		}
		ctx := m.ctx
		next = func() tea.Msg {
			ctx, cancel := context.WithTimeout(ctx, healthTimeout)
			defer cancel()
			return healthMsg{health: checker.Health(ctx)}
		}

	case CmdHelp:
		m.addNotice(helpText())

	case CmdQuit:
		m.quitting = true
		return m, tea.Quit

	case CmdUnknown:
		m.addNotice("Unknown command. Type /help for available commands.")
	}

	m.refresh()
	return m, next
}

// export renders the conversation and writes it to path
func (m Model) export(format store.Format, path string) tea.Cmd {
	engine := m.engine
	return func() tea.Msg {
		content, err := engine.Export(format, time.Now())
		if err != nil {
			return exportedMsg{err: err}
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return exportedMsg{err: fmt.Errorf("failed to write %s: %w", path, err)}
		}
		return exportedMsg{path: path}
	}
}

// parseExportArgs reads "[json|md] [path]"; markdown and a dated file name are the defaults
func parseExportArgs(arg, dir string, now time.Time) (store.Format, string, error) {
	format := store.FormatMarkdown
	fields := strings.Fields(arg)
	if len(fields) > 0 {
		f, err := store.ParseFormat(fields[0])
		if err != nil {
			return "", "", err
		}
		format = f
		fields = fields[1:]
	}
	if len(fields) > 0 {
		return format, fields[0], nil
	}
	return format, filepath.Join(dir, store.ExportFilename(format, now)), nil
}

func (m *Model) addNotice(text string) {
	m.notices = append(m.notices, notice{after: len(m.engine.Messages()), text: text})
}

// refresh re-renders the transcript into the viewport
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

// View implements tea.Model
func (m Model) View() string {
	if m.quitting {
		return "Goodbye! 👋\n"
	}

	if !m.ready {
		return "Initializing..."
	}

	var b strings.Builder

	settings := m.engine.Settings()
	b.WriteString(renderHeader(m.engine.Model().Name, m.engine.Transport().Name(), settings.DarkMode, m.width))
	b.WriteString("\n")

	b.WriteString(chatBorderStyle.Width(m.width - 2).Render(m.viewport.View()))
	b.WriteString("\n")

	b.WriteString(formatUsageBar(m.engine.Usage().Short()))
	b.WriteString("\n")

	if m.autocomplete.IsActive() {
		b.WriteString(m.autocomplete.View(m.width - 4))
		b.WriteString("\n")
	}

	if m.promptingKey {
		b.WriteString(inputBorderStyle.Width(m.width - 2).Render(m.keyInput.View()))
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("Enter to save · Esc to cancel · stored locally"))
	} else {
		b.WriteString(inputBorderStyle.Width(m.width - 2).Render(m.textarea.View()))
		b.WriteString("\n")
		b.WriteString(formatKeyboardShortcuts())
	}

	if errMsg := m.engine.Err(); errMsg != "" {
		b.WriteString("\n")
		b.WriteString(formatError(errMsg))
	}

	return b.String()
}

// renderMessages renders the transcript and local notices for the viewport
func (m Model) renderMessages() string {
	messages := m.engine.Messages()
	width := m.viewport.Width - 4
	dark := m.engine.Settings().DarkMode

	if len(messages) == 0 && len(m.notices) == 0 {
		return systemStyle.Render("Welcome! Type a message to start chatting.\n\nCommands: /new, /model, /export, /key, /dark, /usage, /help, /quit")
	}

	var lines []string
	next := 0
	flush := func(upTo int) {
		for next < len(m.notices) && m.notices[next].after <= upTo {
			lines = append(lines, formatSystemMessage(m.notices[next].text), "")
			next++
		}
	}

	for i, msg := range messages {
		flush(i)
		lines = append(lines, formatMessage(msg, width, dark), "")
	}
	flush(len(messages))

	if m.engine.Loading() {
		lines = append(lines, formatThinking(m.spinner.View()))
	}

	return strings.Join(lines, "\n")
}

// formatMessage renders one transcript entry with its timestamp
func formatMessage(msg types.Message, width int, dark bool) string {
	var content string
	if msg.IsAssistant() {
		content = formatAssistantMessage(renderIfMarkdown(msg.Content, width, dark))
	} else {
		content = formatUserMessage(wrapText(msg.Content, width))
	}

	if !msg.Timestamp.IsZero() {
		content += "  " + formatTimestamp(msg.Timestamp)
	}
	return content
}

func modelList(current string) string {
	var sb strings.Builder
	sb.WriteString("Available models:")
	for _, m := range models.List() {
		marker := "  "
		if m.ID == current {
			marker = "▸ "
		}
		fmt.Fprintf(&sb, "\n%s%s (%s)", marker, m.ID, m.Name)
	}
	return sb.String()
}

func formatHealth(h agent.Health) string {
	if !h.Healthy {
		return "Backend unreachable. Please ensure the server is running."
	}
	if !h.AnthropicConfigured {
		return "Backend healthy; no server API key configured, so your key will be forwarded"
	}
	return "Backend healthy and configured"
}

// parseCommand parses a slash command and its argument
func parseCommand(input string) (Command, string) {
	input = strings.TrimSpace(input)
	if input == "" || !strings.HasPrefix(input, "/") {
		return CmdNone, ""
	}

	parts := strings.SplitN(input, " ", 2)
	cmd := strings.ToLower(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = strings.TrimSpace(parts[1])
	}

	switch cmd {
	case "/new", "/clear":
		return CmdNew, arg
	case "/model":
		return CmdModel, arg
	case "/export":
		return CmdExport, arg
	case "/key":
		return CmdKey, arg
	case "/dark", "/theme":
		return CmdDark, arg
	case "/usage":
		return CmdUsage, arg
	case "/health":
		return CmdHealth, arg
	case "/help":
		return CmdHelp, arg
	case "/quit", "/exit", "/q":
		return CmdQuit, arg
	default:
		return CmdUnknown, arg
	}
}

// isCommand checks if input is a slash command
func isCommand(input string) bool {
	return strings.HasPrefix(input, "/")
}

// helpText returns the help message
func helpText() string {
	return `Available commands:
  /new, /clear       Start a new conversation (clears history)
  /model             Show current model and available models
  /model ID          Switch to a different model
  /export [md|json] [PATH]
                     Save the conversation to a file
  /key [KEY|clear]   Set or clear the API key
  /dark              Toggle dark mode
  /usage             Show token usage and cost
  /health            Check the backend (proxy mode)
  /help              Show this help message
  /quit              Exit

Keyboard shortcuts:
  Enter        Send message
  Alt+Enter    New line
  Ctrl+L       Clear conversation
  Esc          Dismiss error
  Ctrl+C       Quit
  Tab          Select autocomplete
  ↑/↓          Navigate autocomplete`
}

// wrapText wraps text to fit within the given width
func wrapText(text string, width int) string {
	if width <= 0 {
		width = 80
	}

	var result strings.Builder
	lines := strings.Split(text, "\n")

	for i, line := range lines {
		if i > 0 {
			result.WriteString("\n")
		}

		words := strings.Fields(line)
		if len(words) == 0 {
			continue
		}

		currentLine := words[0]
		for _, word := range words[1:] {
			if lipgloss.Width(currentLine+" "+word) <= width {
				currentLine += " " + word
			} else {
				result.WriteString(currentLine)
				result.WriteString("\n")
				currentLine = word
			}
		}
		result.WriteString(currentLine)
	}

	return result.String()
}

// Run starts the TUI and blocks until the user quits
func Run(ctx context.Context, engine *session.Engine, opts Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	opts.Context = ctx

	p := tea.NewProgram(New(engine, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
