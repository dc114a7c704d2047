package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/muesli/termenv"

	"github.com/FeelPulse/claudechat/internal/logger"
	"github.com/FeelPulse/claudechat/internal/models"
	"github.com/FeelPulse/claudechat/pkg/types"
)

// Durable record keys
const (
	KeyCredential   = "claude-chat-api-key"
	KeyConversation = "claude-chat-conversation"
	KeySettings     = "claude-chat-settings"
)

// Gateway reads and writes the three durable records on top of a KV backend.
// Decode failures are logged and treated as absent records.
type Gateway struct {
	kv           KV
	log          *logger.Logger
	darkProbe    func() bool
	defaultModel string
}

// Option configures a Gateway
type Option func(*Gateway)

// WithLogger sets the logger used for swallowed failures
func WithLogger(l *logger.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// WithDarkProbe replaces the terminal background probe used for the default DarkMode
func WithDarkProbe(probe func() bool) Option {
	return func(g *Gateway) { g.darkProbe = probe }
}

// WithDefaultModel sets the model selected before the user picks one
func WithDefaultModel(id string) Option {
	return func(g *Gateway) { g.defaultModel = models.Coerce(id) }
}

// NewGateway wraps kv
func NewGateway(kv KV, opts ...Option) *Gateway {
	g := &Gateway{
		kv:           kv,
		log:          logger.GetDefaultLogger().WithComponent("store"),
		darkProbe:    termenv.HasDarkBackground,
		defaultModel: models.DefaultID,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Close closes the backend
func (g *Gateway) Close() error {
	return g.kv.Close()
}

func (g *Gateway) get(key string) (string, bool) {
	value, ok, err := g.kv.Get(key)
	if err != nil {
		g.log.Warn("⚠️ %v", err)
		return "", false
	}
	return value, ok
}

// LoadCredential returns the stored API key, empty when never set
func (g *Gateway) LoadCredential() string {
	value, _ := g.get(KeyCredential)
	return value
}

// SaveCredential stores key verbatim
func (g *Gateway) SaveCredential(key string) error {
	return g.kv.Set(KeyCredential, key)
}

// storedConversation distinguishes a missing messages field from an empty one
type storedConversation struct {
	ID        string           `json:"id"`
	Messages  *[]types.Message `json:"messages"`
	Model     string           `json:"model"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// LoadConversation returns the saved conversation, or false when there is
// none or it cannot be decoded.
func (g *Gateway) LoadConversation() (*types.Conversation, bool) {
	raw, ok := g.get(KeyConversation)
	if !ok {
		return nil, false
	}

	var stored storedConversation
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		g.log.Warn("⚠️ Discarding unreadable conversation: %v", err)
		return nil, false
	}
	if stored.Messages == nil {
		g.log.Warn("⚠️ Discarding conversation without messages")
		return nil, false
	}

	return &types.Conversation{
		ID:        stored.ID,
		Messages:  *stored.Messages,
		Model:     stored.Model,
		CreatedAt: stored.CreatedAt,
		UpdatedAt: stored.UpdatedAt,
	}, true
}

// SaveConversation overwrites the saved conversation
func (g *Gateway) SaveConversation(conv types.Conversation) error {
	if conv.Messages == nil {
		conv.Messages = []types.Message{}
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	return g.kv.Set(KeyConversation, string(data))
}

// ClearConversation deletes the saved conversation
func (g *Gateway) ClearConversation() error {
	return g.kv.Delete(KeyConversation)
}

// DefaultSettings returns the settings used before anything is saved
func (g *Gateway) DefaultSettings() types.Settings {
	return types.Settings{
		SelectedModel: g.defaultModel,
		DarkMode:      g.darkProbe(),
	}
}

// LoadSettings layers the stored settings over the defaults. An unknown
// selectedModel reads as the default id.
func (g *Gateway) LoadSettings() types.Settings {
	settings := g.DefaultSettings()

	raw, ok := g.get(KeySettings)
	if !ok {
		return settings
	}

	merged := settings
	if err := json.Unmarshal([]byte(raw), &merged); err != nil {
		g.log.Warn("⚠️ Ignoring unreadable settings: %v", err)
		return settings
	}
	merged.SelectedModel = models.Coerce(merged.SelectedModel)
	return merged
}

// SettingsPatch is a partial settings update; nil fields are left unchanged
type SettingsPatch struct {
	APIKey        *string
	SelectedModel *string
	DarkMode      *bool
}

// SaveSettings merges patch into the stored settings
func (g *Gateway) SaveSettings(patch SettingsPatch) error {
	settings := g.LoadSettings()
	if patch.APIKey != nil {
		settings.APIKey = *patch.APIKey
	}
	if patch.SelectedModel != nil {
		settings.SelectedModel = *patch.SelectedModel
	}
	if patch.DarkMode != nil {
		settings.DarkMode = *patch.DarkMode
	}

	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	return g.kv.Set(KeySettings, string(data))
}
