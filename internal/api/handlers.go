package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/congenial-acorn/goldwatch/internal/api/respond"
	"github.com/congenial-acorn/goldwatch/internal/config"
	"github.com/congenial-acorn/goldwatch/internal/prefs"
	"github.com/congenial-acorn/goldwatch/internal/store"
)

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	store *store.Store
	prefs *prefs.Service
	cfg   *config.Config
}

// NewHandler creates a Handler with shared dependencies.
func NewHandler(st *store.Store, prefService *prefs.Service, cfg *config.Config) *Handler {
	return &Handler{store: st, prefs: prefService, cfg: cfg}
}

// Root serves API info at /.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"name":        "goldwatch",
		"version":     "2.0.0",
		"status":      "running",
		"environment": h.cfg.Environment,
	})
}

// HealthCheck returns basic health status.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckStore reports the entry store's counters.
func (h *Handler) HealthCheckStore(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"store":  h.store.Summarize(),
	})
}

// HealthCheckDB verifies the recipient database is reachable.
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if h.prefs == nil {
		respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
			"status": "disabled",
		})
		return
	}
	if err := h.prefs.HealthCheck(r.Context()); err != nil {
		respond.WriteError(w, http.StatusServiceUnavailable, "DB_UNAVAILABLE", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{"status": "healthy"})
}

// GetSystems returns the full store snapshot.
func (h *Handler) GetSystems(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, h.store.Snapshot())
}

// GetSystem returns one system by name.
func (h *Handler) GetSystem(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	snapshot := h.store.Snapshot()
	sys, ok := snapshot[name]
	if !ok {
		respond.WriteError(w, http.StatusNotFound, "SYSTEM_NOT_FOUND", "no such system: "+name)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, sys)
}

// GetOptions returns the preference option registry.
func (h *Handler) GetOptions(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, config.PreferenceOptions)
}

// GetStats returns store counters.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, h.store.Summarize())
}
