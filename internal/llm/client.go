// Package llm talks to an OpenAI-compatible chat completion endpoint such as
// LM Studio, vLLM or llama.cpp server.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
)

// ChatMessage is one role/content pair sent upstream.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the wire body for /chat/completions.
type CompletionRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
}

// Completion is the result of a blocking completion.
type Completion struct {
	Content   string
	Reasoning string
	Raw       json.RawMessage
}

// Model is an entry from the upstream model listing.
type Model struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// Config holds connection settings for the upstream provider.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Client issues streamed and blocking requests. Streaming requests carry no
// client timeout; they end when the caller's context is cancelled.
type Client struct {
	cfg       Config
	http      *http.Client
	oa        *openai.Client
	extractor *Extractor
	logger    zerolog.Logger
}

// NewClient builds a Client. A nil extractor uses the default table.
func NewClient(cfg Config, extractor *Extractor, logger zerolog.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if extractor == nil {
		extractor = NewExtractor(DefaultExtractionTable())
	}

	oaCfg := openai.DefaultConfig(cfg.APIKey)
	oaCfg.BaseURL = cfg.BaseURL
	oaCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{
		cfg:       cfg,
		http:      &http.Client{},
		oa:        openai.NewClientWithConfig(oaCfg),
		extractor: extractor,
		logger:    logger.With().Str("component", "llm").Logger(),
	}
}

// Extractor returns the payload extractor shared with the stream relay.
func (c *Client) Extractor() *Extractor {
	return c.extractor
}

// DefaultModel is used when a request names no model.
func (c *Client) DefaultModel() string {
	return c.cfg.Model
}

// DefaultTemperature is used when a request carries no temperature.
func (c *Client) DefaultTemperature() float64 {
	return c.cfg.Temperature
}

func (c *Client) newRequest(ctx context.Context, req CompletionRequest) (*http.Request, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding completion request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	return httpReq, nil
}

// OpenStream starts a streamed completion and returns the response body.
// A non-2xx response is returned as *StatusError with the body drained.
func (c *Client) OpenStream(ctx context.Context, req CompletionRequest) (io.ReadCloser, error) {
	req.Stream = true
	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		details, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(details)}
	}
	return resp.Body, nil
}

// Complete runs a blocking completion. The raw response body is kept so it can
// be stored alongside the variant it produced.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	req.Stream = false
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading completion response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	delta, err := c.extractor.Extract(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding completion response: %w", err)
	}
	return &Completion{Content: delta.Content, Reasoning: delta.Reasoning, Raw: raw}, nil
}

// ListModels returns the models the upstream currently serves.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	list, err := c.oa.ListModels(ctx)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, &StatusError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
		}
		return nil, fmt.Errorf("listing upstream models: %w", err)
	}
	models := make([]Model, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, Model{ID: m.ID, OwnedBy: m.OwnedBy})
	}
	return models, nil
}

// Health reports whether the upstream answers a model listing.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.ListModels(ctx)
	return err
}
