package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListIsNonEmptyAndOrdered(t *testing.T) {
	list := List()
	require.NotEmpty(t, list)
	assert.Equal(t, DefaultID, list[0].ID)
	assert.Equal(t, []string{
		"claude-sonnet-4-20250514",
		"claude-opus-4-20250514",
		"claude-3-5-haiku-20241022",
	}, IDs())

	for _, m := range list {
		assert.GreaterOrEqual(t, m.InputCostPer1K, 0.0, m.ID)
		assert.GreaterOrEqual(t, m.OutputCostPer1K, 0.0, m.ID)
		assert.NotEmpty(t, m.Name, m.ID)
	}
}

func TestListReturnsCopy(t *testing.T) {
	list := List()
	list[0].Name = "mutated"

	m, ok := Resolve(DefaultID)
	require.True(t, ok)
	assert.Equal(t, "Claude Sonnet 4", m.Name)
}

func TestResolve(t *testing.T) {
	m, ok := Resolve("claude-opus-4-20250514")
	require.True(t, ok)
	assert.Equal(t, "Claude Opus 4", m.Name)
	assert.Equal(t, 0.015, m.InputCostPer1K)
	assert.Equal(t, 0.075, m.OutputCostPer1K)

	_, ok = Resolve("claude-legacy-unknown")
	assert.False(t, ok)
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"claude-3-5-haiku-20241022", "claude-3-5-haiku-20241022"},
		{"claude-legacy-unknown", DefaultID},
		{"claude-sonnet-4-5-20250514", DefaultID},
		{"", DefaultID},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Coerce(tt.id), "Coerce(%q)", tt.id)
	}
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Claude Haiku 3.5", DisplayName("claude-3-5-haiku-20241022"))
	assert.Equal(t, "mystery-model", DisplayName("mystery-model"))
	assert.Equal(t, DefaultID, Default().ID)
}
