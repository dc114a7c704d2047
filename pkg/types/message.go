package types

import "time"

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Label returns the capitalised role name used in exports and the TUI
func (r Role) Label() string {
	if r == RoleAssistant {
		return "Assistant"
	}
	return "User"
}

// Model is a selectable model variant and its per-1000-token pricing
type Model struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	InputCostPer1K  float64 `json:"inputCostPer1k"`
	OutputCostPer1K float64 `json:"outputCostPer1k"`
}

// Message is a single turn of a conversation.
// Token counts are only present on assistant replies that completed.
type Message struct {
	ID           string    `json:"id"`
	Role         Role      `json:"role"`
	Content      string    `json:"content"`
	Timestamp    time.Time `json:"timestamp"`
	InputTokens  *int      `json:"inputTokens,omitempty"`
	OutputTokens *int      `json:"outputTokens,omitempty"`
}

// IsAssistant reports whether the message was written by the model
func (m Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}

// Tokens returns the recorded token counts, zero when absent
func (m Message) Tokens() (input, output int) {
	if m.InputTokens != nil {
		input = *m.InputTokens
	}
	if m.OutputTokens != nil {
		output = *m.OutputTokens
	}
	return input, output
}

// Conversation is the ordered transcript plus the selected model
type Conversation struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of the conversation
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = CloneMessages(c.Messages)
	return out
}

// CloneMessages copies a message slice including token pointers
func CloneMessages(messages []Message) []Message {
	out := make([]Message, len(messages))
	for i, msg := range messages {
		if msg.InputTokens != nil {
			in := *msg.InputTokens
			msg.InputTokens = &in
		}
		if msg.OutputTokens != nil {
			o := *msg.OutputTokens
			msg.OutputTokens = &o
		}
		out[i] = msg
	}
	return out
}

// Settings holds user preferences that outlive a conversation
type Settings struct {
	APIKey        string `json:"apiKey"`
	SelectedModel string `json:"selectedModel"`
	DarkMode      bool   `json:"darkMode"`
}

// Completion is the normalised result of one transport call
type Completion struct {
	Content      string `json:"content"`
	Model        string `json:"model,omitempty"`
	InputTokens  int    `json:"inputTokens"`
	OutputTokens int    `json:"outputTokens"`
}

// Usage tracks token consumption
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
