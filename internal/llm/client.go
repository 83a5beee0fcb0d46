package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ContextChunk is a piece of existing code sent alongside a prompt.
type ContextChunk struct {
	Content string `json:"content"`
	File    string `json:"file"`
	Lines   string `json:"lines"`
}

// GenerationRequest is the body of POST /generate on the inference service.
type GenerationRequest struct {
	Prompt        string         `json:"prompt"`
	MaxTokens     int            `json:"max_tokens"`
	Temperature   float64        `json:"temperature"`
	ContextChunks []ContextChunk `json:"context_chunks,omitempty"`
}

// GenerationResponse is the inference service's reply.
type GenerationResponse struct {
	RequestID     string         `json:"request_id"`
	Status        string         `json:"status"`
	GeneratedCode string         `json:"generated_code"`
	Metadata      map[string]any `json:"metadata"`
}

// Client talks to the inference service. Requests go through a circuit
// breaker and exponential backoff retry; see resilience.go.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *breaker
	retry   RetryConfig
	log     zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithRetryConfig replaces the retry policy.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(c *Client) { c.retry = cfg }
}

// WithLogger sets the client's logger.
func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a client for the inference service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 120 * time.Second},
		retry:   DefaultRetryConfig(),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = newBreaker("llm-generate", c.log)
	return c
}

// Generate sends a generation request and returns the service's response.
func (c *Client) Generate(ctx context.Context, req GenerationRequest) (*GenerationResponse, error) {
	var resp *GenerationResponse

	err := c.executeWithRetry(ctx, func() error {
		r, err := c.generateOnce(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) generateOnce(ctx context.Context, req GenerationRequest) (*GenerationResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("inference service returned %d: %s", httpResp.StatusCode, detail)
	}

	var resp GenerationResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &resp, nil
}

// Health probes GET /health on the inference service.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
