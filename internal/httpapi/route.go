// Package httpapi is the thin HTTP front door over the orchestrator. It does
// request parsing and nothing else; routing semantics live behind RouteQuery.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/quorumhq/quorum/internal/orchestrator"
	"github.com/quorumhq/quorum/internal/tracing"
)

// Router is the slice of the orchestrator the HTTP layer needs.
type Router interface {
	RouteQuery(ctx context.Context, query string, opts ...orchestrator.Option) (*orchestrator.Response, error)
}

// RouteHandler serves POST /v1/route.
type RouteHandler struct {
	orch   Router
	logger *zap.Logger
}

// NewRouteHandler creates the handler.
func NewRouteHandler(orch Router, logger *zap.Logger) *RouteHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RouteHandler{orch: orch, logger: logger}
}

// RegisterRoutes mounts the handler on a mux.
func (h *RouteHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/route", h.handleRoute)
}

type routeRequest struct {
	Query     string                 `json:"query"`
	SessionID string                 `json:"session_id,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

func (h *RouteHandler) handleRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	// Bound the body: queries are short text, not uploads.
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		http.Error(w, `{"error":"invalid body"}`, http.StatusBadRequest)
		return
	}

	var req routeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, `{"error":"query is required"}`, http.StatusBadRequest)
		return
	}

	ctx, span := tracing.StartHTTPSpan(r.Context(), r.Method, r.URL.Path)
	defer span.End()

	resp, err := h.orch.RouteQuery(ctx, req.Query,
		orchestrator.WithSessionID(req.SessionID),
		orchestrator.WithContext(req.Context),
	)
	if err != nil {
		// RouteQuery is contractually fail-open; this is a programming error.
		h.logger.Error("Routing returned an error", zap.Error(err))
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Warn("Failed to write response", zap.Error(err))
	}
}
