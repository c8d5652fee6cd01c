package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/quorumhq/quorum/internal/orchestrator"
)

type stubRouter struct {
	lastQuery string
	resp      *orchestrator.Response
	err       error
}

func (s *stubRouter) RouteQuery(_ context.Context, query string, _ ...orchestrator.Option) (*orchestrator.Response, error) {
	s.lastQuery = query
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func newTestServer(t *testing.T, router Router) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewRouteHandler(router, zaptest.NewLogger(t)).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRouteHappyPath(t *testing.T) {
	router := &stubRouter{resp: &orchestrator.Response{
		Content:    "Here you go.",
		AgentsUsed: []string{"websearchAgent"},
	}}
	srv := newTestServer(t, router)

	resp, err := http.Post(srv.URL+"/v1/route", "application/json",
		strings.NewReader(`{"query":"latest news","session_id":"s1"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "latest news", router.lastQuery)

	var body orchestrator.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Here you go.", body.Content)
	assert.Equal(t, []string{"websearchAgent"}, body.AgentsUsed)
}

func TestRouteRejectsNonPost(t *testing.T) {
	srv := newTestServer(t, &stubRouter{resp: &orchestrator.Response{}})

	resp, err := http.Get(srv.URL + "/v1/route")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRouteRejectsBadInput(t *testing.T) {
	srv := newTestServer(t, &stubRouter{resp: &orchestrator.Response{}})

	for name, body := range map[string]string{
		"empty body":    "",
		"invalid json":  "{not json",
		"missing query": `{"session_id":"s1"}`,
		"empty query":   `{"query":""}`,
	} {
		resp, err := http.Post(srv.URL+"/v1/route", "application/json", strings.NewReader(body))
		require.NoError(t, err, name)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, name)
		resp.Body.Close()
	}
}

func TestRouteInternalError(t *testing.T) {
	srv := newTestServer(t, &stubRouter{err: errors.New("boom")})

	resp, err := http.Post(srv.URL+"/v1/route", "application/json",
		strings.NewReader(`{"query":"anything"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
