package geo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/quorumhq/quorum/internal/tracing"
)

// Client is an HTTP Geocoder backed by the external geocoding service.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a geocoding client. A zero timeout defaults to 5s.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type geocodeRequest struct {
	Text string `json:"text"`
}

type geocodeResponse struct {
	Places []Place `json:"places"`
}

// Lookup geocodes free text. Transport failures, bad statuses, and malformed
// bodies all come back as an empty slice; the routing pipeline treats missing
// geo data as a non-event.
func (c *Client) Lookup(ctx context.Context, text string) ([]Place, error) {
	if c.baseURL == "" || text == "" {
		return nil, nil
	}

	url := fmt.Sprintf("%s/geocode/", c.baseURL)
	buf, _ := json.Marshal(geocodeRequest{Text: text})

	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, nil
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("Geocode lookup failed", zap.Error(err))
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("Geocode lookup non-OK status", zap.Int("status", resp.StatusCode))
		return nil, nil
	}

	var gr geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		c.logger.Debug("Geocode response malformed", zap.Error(err))
		return nil, nil
	}
	return gr.Places, nil
}
