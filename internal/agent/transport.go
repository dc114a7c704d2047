package agent

import (
	"context"
	"fmt"
	"net/http"

	"github.com/FeelPulse/claudechat/internal/config"
	"github.com/FeelPulse/claudechat/pkg/types"
)

// Transport sends a conversation to Claude and returns the next assistant turn.
// history ends with the newest user message.
type Transport interface {
	Send(ctx context.Context, model string, history []types.Message, credential string) (*types.Completion, error)
	Name() string
}

// CredentialRequirer is implemented by transports that cannot work without a caller-held key
type CredentialRequirer interface {
	RequiresCredential() bool
}

// HealthChecker is implemented by transports that can probe their endpoint
type HealthChecker interface {
	Health(ctx context.Context) Health
}

// Health is the result of a backend probe
type Health struct {
	Healthy             bool
	AnthropicConfigured bool
}

// RequiresCredential reports whether t needs a caller-held credential
func RequiresCredential(t Transport) bool {
	if r, ok := t.(CredentialRequirer); ok {
		return r.RequiresCredential()
	}
	return false
}

// New builds the transport selected by cfg.Mode
func New(cfg *config.Config, httpClient *http.Client) (Transport, error) {
	switch cfg.Mode {
	case config.ModeDirect, "":
		return NewAnthropicClient(AnthropicOptions{
			APIURL:     cfg.Client.APIURL,
			MaxTokens:  cfg.Client.MaxTokens,
			HTTPClient: httpClient,
		}), nil
	case config.ModeProxy:
		return NewProxyClient(cfg.Client.ProxyURL, httpClient), nil
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

func toWireMessages(history []types.Message) []Message {
	out := make([]Message, 0, len(history))
	for _, msg := range history {
		out = append(out, Message{Role: string(msg.Role), Content: msg.Content})
	}
	return out
}
