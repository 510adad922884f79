package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congenial-acorn/goldwatch/internal/config"
	"github.com/congenial-acorn/goldwatch/internal/store"
)

func newTestRouter(t *testing.T) (*store.Store, http.Handler) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "market_db.json"), 48*time.Hour)
	require.NoError(t, err)

	cfg := &config.Config{
		Environment:      "development",
		CORSAllowOrigins: []string{"http://localhost:3000"},
	}
	return st, NewRouter(st, nil, cfg)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRootAndHealth(t *testing.T) {
	_, router := newTestRouter(t)

	rec := get(t, router, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "goldwatch", decode(t, rec)["name"])
	assert.NotEmpty(t, rec.Header().Get("X-Process-Time"))

	rec = get(t, router, "/health/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])

	// No recipient database configured.
	rec = get(t, router, "/health/db")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "disabled", decode(t, rec)["status"])
}

func TestGetSystem(t *testing.T) {
	st, router := newTestRouter(t)
	require.NoError(t, st.UpsertMarket("Alpha", "addr-1", "X", "Outpost", "u", "Gold", 20000))

	rec := get(t, router, "/api/v1/systems/Alpha")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "addr-1", body["system_address"])

	rec = get(t, router, "/api/v1/systems/Nowhere")
	require.Equal(t, http.StatusNotFound, rec.Code)
	errBody := decode(t, rec)["error"].(map[string]interface{})
	assert.Equal(t, "SYSTEM_NOT_FOUND", errBody["code"])
}

func TestGetOptions(t *testing.T) {
	_, router := newTestRouter(t)

	rec := get(t, router, "/api/v1/options")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Contains(t, body, config.CategoryStationType)
	assert.Contains(t, body, config.CategoryCommodity)
	assert.Contains(t, body, config.CategoryLeader)
}

func TestGetStats(t *testing.T) {
	st, router := newTestRouter(t)
	require.NoError(t, st.UpsertMarket("Alpha", "a", "X", "Outpost", "u", "Gold", 1))
	require.NoError(t, st.UpsertStatus("Alpha", "a", "Yuri Grom", store.StateFortified, 10, ""))

	rec := get(t, router, "/api/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["systems"])
	assert.EqualValues(t, 1, body["market_facts"])
	assert.EqualValues(t, 1, body["status_facts"])
}

func TestRateLimitMiddleware(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "market_db.json"), 48*time.Hour)
	require.NoError(t, err)

	cfg := &config.Config{
		Environment:       "development",
		RateLimitEnabled:  true,
		RateLimitRequests: 4, // burst of 2
		RateLimitWindow:   time.Minute,
	}
	router := NewRouter(st, nil, cfg)

	assert.Equal(t, http.StatusOK, get(t, router, "/health/").Code)
	assert.Equal(t, http.StatusOK, get(t, router, "/health/").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(t, router, "/health/").Code)
}
