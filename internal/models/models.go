package models

import "github.com/FeelPulse/claudechat/pkg/types"

// DefaultID is used whenever a stored or requested model id is unknown
const DefaultID = "claude-sonnet-4-20250514"

// catalog is the fixed, ordered list of selectable models.
// Prices are USD per 1000 tokens.
var catalog = []types.Model{
	{
		ID:              "claude-sonnet-4-20250514",
		Name:            "Claude Sonnet 4",
		InputCostPer1K:  0.003,
		OutputCostPer1K: 0.015,
	},
	{
		ID:              "claude-opus-4-20250514",
		Name:            "Claude Opus 4",
		InputCostPer1K:  0.015,
		OutputCostPer1K: 0.075,
	},
	{
		ID:              "claude-3-5-haiku-20241022",
		Name:            "Claude Haiku 3.5",
		InputCostPer1K:  0.0008,
		OutputCostPer1K: 0.004,
	},
}

// List returns the catalog in display order
func List() []types.Model {
	out := make([]types.Model, len(catalog))
	copy(out, catalog)
	return out
}

// IDs returns the model ids in display order
func IDs() []string {
	ids := make([]string, 0, len(catalog))
	for _, m := range catalog {
		ids = append(ids, m.ID)
	}
	return ids
}

// Resolve looks up a model by id
func Resolve(id string) (types.Model, bool) {
	for _, m := range catalog {
		if m.ID == id {
			return m, true
		}
	}
	return types.Model{}, false
}

// Valid checks if a model id is in the catalog
func Valid(id string) bool {
	_, ok := Resolve(id)
	return ok
}

// Coerce returns id when it is known and DefaultID otherwise
func Coerce(id string) string {
	if Valid(id) {
		return id
	}
	return DefaultID
}

// Default returns the catalog entry for DefaultID
func Default() types.Model {
	m, _ := Resolve(DefaultID)
	return m
}

// DisplayName returns the model's name, or the id itself when unknown
func DisplayName(id string) string {
	if m, ok := Resolve(id); ok {
		return m.Name
	}
	return id
}
