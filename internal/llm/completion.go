// Package llm wraps the external completion service used for result
// synthesis. Empty or malformed generations are errors, never valid content.
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

	"golang.org/x/time/rate"

	"github.com/quorumhq/quorum/internal/tracing"
)

// ErrEmptyCompletion is returned when the service responds with no usable text.
var ErrEmptyCompletion = errors.New("completion service returned empty content")

// CompletionService generates text from a prompt.
type CompletionService interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config controls the completion client.
type Config struct {
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// Client is the HTTP CompletionService implementation.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a completion client, applying defaults for unset fields.
func NewClient(cfg Config) *Client {
	c := cfg
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2048
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if c.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.RequestsPerSecond), 1)
	}

	return &Client{
		cfg:     c,
		http:    &http.Client{Timeout: c.Timeout},
		limiter: limiter,
	}
}

type completionRequest struct {
	Prompt    string `json:"prompt"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

type completionResponse struct {
	Text      string `json:"text"`
	ModelUsed string `json:"model_used"`
}

// Complete sends the prompt to the completion endpoint and returns the
// generated text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/completions/", c.cfg.BaseURL)
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	payload := completionRequest{Prompt: prompt, Model: c.cfg.Model, MaxTokens: c.cfg.MaxTokens}
	buf, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("completion service returned %d: %s", resp.StatusCode, string(body))
	}

	var cr completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if strings.TrimSpace(cr.Text) == "" {
		return "", ErrEmptyCompletion
	}
	return cr.Text, nil
}
