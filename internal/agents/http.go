package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quorumhq/quorum/internal/tracing"
)

// HTTPAgent invokes a remote agent over the agent service's HTTP API
// (POST {base}/agents/{id}/invoke). One instance per agent ID; the underlying
// http.Client is shared by the caller.
type HTTPAgent struct {
	id     string
	base   string
	client *http.Client
}

// NewHTTPAgent creates a remote agent handle. The per-request deadline comes
// from the executor's context, not the client timeout, so the client timeout
// is a backstop only.
func NewHTTPAgent(id, baseURL string, client *http.Client) *HTTPAgent {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPAgent{id: id, base: baseURL, client: client}
}

func (a *HTTPAgent) ID() string { return a.id }

type invokeRequest struct {
	Query     string                 `json:"query"`
	Context   map[string]interface{} `json:"context,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
}

type invokeResponse struct {
	Text  string                 `json:"text"`
	Usage map[string]interface{} `json:"usage,omitempty"`
}

// Invoke sends the query to the remote agent and returns its output.
func (a *HTTPAgent) Invoke(ctx context.Context, query string, reqContext map[string]interface{}, sessionID string) (Output, error) {
	url := fmt.Sprintf("%s/agents/%s/invoke", a.base, a.id)
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	payload := invokeRequest{Query: query, Context: reqContext, SessionID: sessionID}
	buf, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return Output{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := a.client.Do(req)
	if err != nil {
		return Output{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Output{}, fmt.Errorf("agent %s returned %d: %s", a.id, resp.StatusCode, string(body))
	}

	var ir invokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return Output{}, fmt.Errorf("decode agent response: %w", err)
	}
	return Output{Text: ir.Text, Usage: ir.Usage}, nil
}
