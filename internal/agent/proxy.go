package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/FeelPulse/claudechat/internal/logger"
	"github.com/FeelPulse/claudechat/pkg/types"
)

// ChatRequest is the body of POST /api/chat/message
type ChatRequest struct {
	Message             string    `json:"message"`
	Model               string    `json:"model"`
	ConversationHistory []Message `json:"conversation_history"`
	APIKey              string    `json:"api_key,omitempty"`
}

// ChatResponse is the success body of POST /api/chat/message
type ChatResponse struct {
	Content string      `json:"content"`
	Model   string      `json:"model"`
	Usage   types.Usage `json:"usage"`
}

// ErrorResponse is the error body of every proxy endpoint
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// HealthResponse is the body of GET /api/health
type HealthResponse struct {
	Status              string `json:"status"`
	AnthropicConfigured bool   `json:"anthropic_configured"`
}

// ModelInfo is one entry of GET /api/models
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ProxyClient talks to a claudechat backend, which holds or forwards the credential
type ProxyClient struct {
	baseURL string
	client  *http.Client
	log     *logger.Logger
}

// NewProxyClient creates a client for the backend at baseURL
func NewProxyClient(baseURL string, httpClient *http.Client) *ProxyClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	return &ProxyClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
		log:     logger.GetDefaultLogger().WithComponent("proxy"),
	}
}

// Name returns the transport name
func (p *ProxyClient) Name() string {
	return "proxy"
}

// RequiresCredential is false; the backend may hold its own key
func (p *ProxyClient) RequiresCredential() bool {
	return false
}

// Send forwards the newest message and the prior turns to the backend
func (p *ProxyClient) Send(ctx context.Context, model string, history []types.Message, credential string) (*types.Completion, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("no message to send")
	}

	latest := history[len(history)-1]
	body := ChatRequest{
		Message:             latest.Content,
		Model:               model,
		ConversationHistory: toWireMessages(history[:len(history)-1]),
		APIKey:              credential,
	}

	bodyData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat/message", bytes.NewReader(bodyData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, networkError(err, true)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(err, true)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp ErrorResponse
		_ = json.Unmarshal(respBody, &errResp)
		p.log.Warn("backend error: status %d: %s", resp.StatusCode, errResp.Detail)
		return nil, statusError(resp.StatusCode, errResp.Detail, "", true)
	}

	var out struct {
		Content *string      `json:"content"`
		Model   string       `json:"model"`
		Usage   *types.Usage `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &APIError{Kind: KindMalformedResponse, Message: MsgMalformedResponse, Proxied: true, Err: err}
	}
	if out.Content == nil || out.Usage == nil {
		p.log.Warn("backend reply is missing content or usage (%d bytes)", len(respBody))
		return nil, &APIError{Kind: KindMalformedResponse, Message: MsgMalformedResponse, Proxied: true}
	}

	return &types.Completion{
		Content:      *out.Content,
		Model:        out.Model,
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
	}, nil
}

// Health probes GET /api/health; any failure reads as unhealthy
func (p *ProxyClient) Health(ctx context.Context) Health {
	var hr HealthResponse
	if err := p.getJSON(ctx, "/api/health", &hr); err != nil {
		p.log.Debug("health check failed: %v", err)
		return Health{}
	}
	return Health{
		Healthy:             hr.Status == "healthy",
		AnthropicConfigured: hr.AnthropicConfigured,
	}
}

// Models lists the backend's model catalog
func (p *ProxyClient) Models(ctx context.Context) ([]ModelInfo, error) {
	var out []ModelInfo
	if err := p.getJSON(ctx, "/api/models", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *ProxyClient) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return networkError(err, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return statusError(resp.StatusCode, errResp.Detail, "", true)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &APIError{Kind: KindMalformedResponse, Message: MsgMalformedResponse, Proxied: true, Err: err}
	}
	return nil
}
