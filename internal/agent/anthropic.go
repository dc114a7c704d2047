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

const (
	DefaultAnthropicURL = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
	defaultMaxTokens    = 4096
	claudeCodeVersion   = "1.0.33"
)

// MessagesRequest is the Messages API request body
type MessagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []Message `json:"messages"`
	System    string    `json:"system,omitempty"`
}

// Message is one turn in the wire format
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MessagesResponse is the Messages API response body
type MessagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      types.Usage    `json:"usage"`
}

// ContentBlock is a typed block of response content
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// FirstText returns the first text block
func (r *MessagesResponse) FirstText() (string, bool) {
	for _, block := range r.Content {
		if block.Type == "text" {
			return block.Text, true
		}
	}
	return "", false
}

// AllText concatenates every text block
func (r *MessagesResponse) AllText() string {
	var sb strings.Builder
	for _, block := range r.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

type anthropicErrorWrapper struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// IsOAuthToken checks if a token is an OAuth setup-token (subscription auth)
func IsOAuthToken(token string) bool {
	return strings.HasPrefix(token, "sk-ant-oat")
}

// AnthropicOptions configures an AnthropicClient; zero values use defaults
type AnthropicOptions struct {
	APIURL     string
	MaxTokens  int
	HTTPClient *http.Client
}

// AnthropicClient calls the Messages API directly with the caller's credential
type AnthropicClient struct {
	apiURL    string
	maxTokens int
	client    *http.Client
	log       *logger.Logger
}

// NewAnthropicClient creates a direct client
func NewAnthropicClient(opts AnthropicOptions) *AnthropicClient {
	c := &AnthropicClient{
		apiURL:    opts.APIURL,
		maxTokens: opts.MaxTokens,
		client:    opts.HTTPClient,
		log:       logger.GetDefaultLogger().WithComponent("anthropic"),
	}
	if c.apiURL == "" {
		c.apiURL = DefaultAnthropicURL
	}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	if c.client == nil {
		// deadlines come from the caller's context
		c.client = &http.Client{Timeout: 10 * time.Minute}
	}
	return c
}

// Name returns the provider name
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// RequiresCredential is always true for the direct client
func (c *AnthropicClient) RequiresCredential() bool {
	return true
}

// AuthModeName returns a human-readable auth mode description
func AuthModeName(credential string) string {
	if IsOAuthToken(credential) {
		return "subscription (setup-token)"
	}
	return "api-key"
}

func setHeaders(req *http.Request, credential string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	if IsOAuthToken(credential) {
		req.Header.Set("Authorization", "Bearer "+credential)
		req.Header.Set("anthropic-beta", "claude-code-20250219,oauth-2025-04-20")
		req.Header.Set("user-agent", fmt.Sprintf("claude-cli/%s (external, cli)", claudeCodeVersion))
		req.Header.Set("x-app", "cli")
	} else {
		req.Header.Set("x-api-key", credential)
	}
}

// Send posts the whole history and returns the first text block of the reply
func (c *AnthropicClient) Send(ctx context.Context, model string, history []types.Message, credential string) (*types.Completion, error) {
	if credential == "" {
		return nil, &APIError{Kind: KindMissingCredential, Message: MsgMissingCredential}
	}

	resp, err := c.Create(ctx, MessagesRequest{
		Model:     model,
		MaxTokens: c.maxTokens,
		Messages:  toWireMessages(history),
	}, credential)
	if err != nil {
		return nil, err
	}

	text, ok := resp.FirstText()
	if !ok {
		return nil, &APIError{Kind: KindNoTextContent, Message: MsgNoTextContent}
	}

	c.log.Debug("📥 response received (%d chars, %d in / %d out)",
		len(text), resp.Usage.InputTokens, resp.Usage.OutputTokens)

	return &types.Completion{
		Content:      text,
		Model:        resp.Model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

// Create performs one Messages API call and returns the decoded response.
// Failures are *APIError values.
func (c *AnthropicClient) Create(ctx context.Context, reqBody MessagesRequest, credential string) (*MessagesResponse, error) {
	if reqBody.MaxTokens <= 0 {
		reqBody.MaxTokens = c.maxTokens
	}

	bodyData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(bodyData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	setHeaders(req, credential)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, networkError(err, false)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(err, false)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp anthropicErrorWrapper
		_ = json.Unmarshal(respBody, &errResp)
		c.log.Warn("anthropic API error: status %d (%s)", resp.StatusCode, errResp.Error.Type)
		return nil, statusError(resp.StatusCode, errResp.Error.Message, errResp.Error.Type, false)
	}

	var out MessagesResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &APIError{Kind: KindMalformedResponse, Message: MsgMalformedResponse, Err: err}
	}
	return &out, nil
}
