package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"parley/internal/domain"
	chatModels "parley/internal/domain/models/chat"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	messagesEndpoint = "/v1/messages"
	apiVersion       = "2023-06-01"

	// requestTimeout is the wall-clock ceiling for one streaming request.
	requestTimeout = 10 * time.Minute

	// maxErrorBodySize caps how much of a non-2xx body is read back.
	maxErrorBodySize int64 = 1 * 1024 * 1024
)

// RequestMessage is one message in the outgoing payload. History messages
// are projected onto this shape so internal bookkeeping fields never reach
// the wire.
type RequestMessage struct {
	Role    string                    `json:"role"`
	Content []chatModels.ContentBlock `json:"content"`
}

// Thinking enables extended thinking with a token budget.
type Thinking struct {
	Type         string `json:"type"` // always "enabled"
	BudgetTokens int    `json:"budget_tokens"`
}

// Request is the outgoing wire payload for one streaming generation.
type Request struct {
	Model       string                       `json:"model"`
	MaxTokens   int                          `json:"max_tokens"`
	Messages    []RequestMessage             `json:"messages"`
	System      []chatModels.SystemMessage   `json:"system,omitempty"`
	Tools       []chatModels.ToolDefinition  `json:"tools,omitempty"`
	ToolChoice  *chatModels.ToolChoice       `json:"tool_choice,omitempty"`
	Temperature *float64                     `json:"temperature,omitempty"`
	Thinking    *Thinking                    `json:"thinking,omitempty"`
	Stream      bool                         `json:"stream"`
}

// TransportError is an HTTP-level failure: non-2xx status or connection
// error with a status attached.
type TransportError struct {
	StatusCode int
	Body       string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: status %d: %s", e.StatusCode, e.Body)
}

// Client posts streaming requests to the provider and hands the open
// response body to a Decoder.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
}

// NewClient creates a provider client. An empty API key is a configuration
// error. baseURL "" selects the default endpoint.
func NewClient(apiKey, baseURL string, logger *slog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing API key", domain.ErrConfiguration)
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		logger:     logger,
	}, nil
}

// Stream sends the request and returns the open SSE body. The caller owns
// closing it. Non-2xx responses are drained and returned as a
// *TransportError.
func (c *Client) Stream(ctx context.Context, req *Request) (io.ReadCloser, error) {
	req.Stream = true

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+messagesEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		if readErr != nil {
			return nil, &TransportError{StatusCode: resp.StatusCode, Body: fmt.Sprintf("(unreadable body: %v)", readErr)}
		}
		return nil, &TransportError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	c.logger.Debug("stream opened",
		"model", req.Model,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return resp.Body, nil
}
