package health

import (
	"encoding/json"
	"net/http"
)

// RegisterRoutes mounts the probe endpoints on a shared mux:
//
//	GET /health        detailed report
//	GET /health/live   liveness probe
//	GET /health/ready  readiness probe
func (m *Manager) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", m.handleDetailed)
	mux.HandleFunc("/health/live", m.handleLive)
	mux.HandleFunc("/health/ready", m.handleReady)
}

func (m *Manager) handleDetailed(w http.ResponseWriter, r *http.Request) {
	report := m.Detailed(r.Context())
	code := http.StatusOK
	if report.Overall.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func (m *Manager) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (m *Manager) handleReady(w http.ResponseWriter, r *http.Request) {
	if m.IsReady(r.Context()) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
