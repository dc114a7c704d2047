package store

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FeelPulse/claudechat/internal/logger"
	"github.com/FeelPulse/claudechat/pkg/types"
)

func newTestGateway(t *testing.T, dark bool) (*Gateway, *MemoryKV, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	log := logger.New(&logger.Config{Level: "debug", Component: "store"})
	log.SetOutput(buf)

	kv := NewMemoryKV()
	g := NewGateway(kv, WithLogger(log), WithDarkProbe(func() bool { return dark }))
	return g, kv, buf
}

func intPtr(n int) *int { return &n }

func sampleConversation() types.Conversation {
	created := time.Date(2025, 5, 14, 9, 30, 0, 123456789, time.UTC)
	return types.Conversation{
		ID: "conv-1",
		Messages: []types.Message{
			{ID: "m1", Role: types.RoleUser, Content: "Hello", Timestamp: created},
			{
				ID:           "m2",
				Role:         types.RoleAssistant,
				Content:      "Hi there!",
				Timestamp:    created.Add(2 * time.Second),
				InputTokens:  intPtr(5),
				OutputTokens: intPtr(3),
			},
		},
		Model:     "claude-sonnet-4-20250514",
		CreatedAt: created,
		UpdatedAt: created.Add(2 * time.Second),
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	g, _, _ := newTestGateway(t, false)

	assert.Empty(t, g.LoadCredential())
	require.NoError(t, g.SaveCredential("sk-ant-api03-abc"))
	assert.Equal(t, "sk-ant-api03-abc", g.LoadCredential())
}

func TestConversationRoundTrip(t *testing.T) {
	g, _, _ := newTestGateway(t, false)

	_, ok := g.LoadConversation()
	assert.False(t, ok)

	conv := sampleConversation()
	require.NoError(t, g.SaveConversation(conv))

	loaded, ok := g.LoadConversation()
	require.True(t, ok)
	assert.Equal(t, conv.ID, loaded.ID)
	assert.Equal(t, conv.Model, loaded.Model)
	assert.True(t, conv.CreatedAt.Equal(loaded.CreatedAt))
	assert.True(t, conv.UpdatedAt.Equal(loaded.UpdatedAt))
	require.Len(t, loaded.Messages, 2)
	for i := range conv.Messages {
		want, got := conv.Messages[i], loaded.Messages[i]
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Role, got.Role)
		assert.Equal(t, want.Content, got.Content)
		assert.True(t, want.Timestamp.Equal(got.Timestamp), "timestamp %d keeps nanoseconds", i)
		assert.Equal(t, want.InputTokens, got.InputTokens)
		assert.Equal(t, want.OutputTokens, got.OutputTokens)
	}
	assert.Nil(t, loaded.Messages[0].InputTokens, "user messages carry no token counts")
}

func TestConversationStoredShape(t *testing.T) {
	g, kv, _ := newTestGateway(t, false)
	require.NoError(t, g.SaveConversation(sampleConversation()))

	raw, ok, err := kv.Get(KeyConversation)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, `"createdAt":"2025-05-14T09:30:00.123456789Z"`)
	assert.Contains(t, raw, `"inputTokens":5`)
	assert.Contains(t, raw, `"role":"assistant"`)
}

func TestLoadConversation_Malformed(t *testing.T) {
	tests := map[string]string{
		"not json":         "{{{",
		"missing messages": `{"id":"x","model":"claude-sonnet-4-20250514"}`,
		"wrong type":       `{"messages":"nope"}`,
		"bad timestamp":    `{"messages":[{"id":"1","role":"user","content":"hi","timestamp":"yesterday"}]}`,
	}

	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			g, kv, logs := newTestGateway(t, false)
			require.NoError(t, kv.Set(KeyConversation, payload))

			conv, ok := g.LoadConversation()
			assert.False(t, ok)
			assert.Nil(t, conv)
			assert.Contains(t, logs.String(), "WARN")
		})
	}
}

func TestClearConversation(t *testing.T) {
	g, _, _ := newTestGateway(t, false)
	require.NoError(t, g.SaveConversation(sampleConversation()))
	require.NoError(t, g.SaveCredential("sk-ant-keep"))

	require.NoError(t, g.ClearConversation())

	_, ok := g.LoadConversation()
	assert.False(t, ok)
	assert.Equal(t, "sk-ant-keep", g.LoadCredential(), "clearing leaves other records alone")
}

func TestLoadSettings_Defaults(t *testing.T) {
	g, _, _ := newTestGateway(t, true)
	s := g.LoadSettings()
	assert.Equal(t, types.Settings{SelectedModel: "claude-sonnet-4-20250514", DarkMode: true}, s)

	light, _, _ := newTestGateway(t, false)
	assert.False(t, light.LoadSettings().DarkMode)
}

func TestLoadSettings_PartialAndMalformed(t *testing.T) {
	g, kv, logs := newTestGateway(t, true)

	require.NoError(t, kv.Set(KeySettings, `{"selectedModel":"claude-opus-4-20250514"}`))
	s := g.LoadSettings()
	assert.Equal(t, "claude-opus-4-20250514", s.SelectedModel)
	assert.True(t, s.DarkMode, "missing fields fall back to defaults")

	require.NoError(t, kv.Set(KeySettings, `not json`))
	assert.Equal(t, g.DefaultSettings(), g.LoadSettings())
	assert.Contains(t, logs.String(), "unreadable settings")
}

func TestLoadSettings_UnknownModel(t *testing.T) {
	g, kv, _ := newTestGateway(t, false)

	require.NoError(t, kv.Set(KeySettings, `{"selectedModel":"claude-legacy-unknown","darkMode":true}`))
	s := g.LoadSettings()
	assert.Equal(t, "claude-sonnet-4-20250514", s.SelectedModel)
	assert.True(t, s.DarkMode)

	require.NoError(t, kv.Set(KeySettings, `{"selectedModel":""}`))
	assert.Equal(t, "claude-sonnet-4-20250514", g.LoadSettings().SelectedModel)
}

func TestSaveSettings_Merge(t *testing.T) {
	g, _, _ := newTestGateway(t, false)

	model := "claude-3-5-haiku-20241022"
	require.NoError(t, g.SaveSettings(SettingsPatch{SelectedModel: &model}))

	dark := true
	require.NoError(t, g.SaveSettings(SettingsPatch{DarkMode: &dark}))

	key := "sk-ant-settings"
	require.NoError(t, g.SaveSettings(SettingsPatch{APIKey: &key}))

	assert.Equal(t, types.Settings{
		APIKey:        "sk-ant-settings",
		SelectedModel: "claude-3-5-haiku-20241022",
		DarkMode:      true,
	}, g.LoadSettings())
}

type failingKV struct{ MemoryKV }

func (f *failingKV) Get(string) (string, bool, error) {
	return "", false, errors.New("disk on fire")
}

func TestBackendReadErrorsAreSwallowed(t *testing.T) {
	buf := &bytes.Buffer{}
	log := logger.New(&logger.Config{Level: "warn"})
	log.SetOutput(buf)

	g := NewGateway(&failingKV{}, WithLogger(log), WithDarkProbe(func() bool { return false }))

	assert.Empty(t, g.LoadCredential())
	_, ok := g.LoadConversation()
	assert.False(t, ok)
	assert.Equal(t, g.DefaultSettings(), g.LoadSettings())
	assert.Contains(t, buf.String(), "disk on fire")
}

func TestWithDefaultModel(t *testing.T) {
	kv := NewMemoryKV()
	probe := WithDarkProbe(func() bool { return false })

	g := NewGateway(kv, probe, WithDefaultModel("claude-opus-4-20250514"))
	assert.Equal(t, "claude-opus-4-20250514", g.LoadSettings().SelectedModel)

	g = NewGateway(kv, probe, WithDefaultModel("claude-legacy-unknown"))
	assert.Equal(t, "claude-sonnet-4-20250514", g.LoadSettings().SelectedModel)
}
