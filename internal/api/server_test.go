// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kundajelab/cultivator/internal/audit"
	"github.com/kundajelab/cultivator/internal/cache"
	"github.com/kundajelab/cultivator/internal/config"
	"github.com/kundajelab/cultivator/internal/health"
	"github.com/kundajelab/cultivator/internal/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testEnv struct {
	server *Server
	store  registry.Store
	router http.Handler
}

func newTestEnv(t *testing.T, mutate func(*config.AppConfig)) *testEnv {
	t.Helper()

	cfg := config.Defaults()
	cfg.RateLimitEnabled = false
	cfg.Version = "test"
	if mutate != nil {
		mutate(&cfg)
	}

	holder := config.NewHolder(cfg, nil, "")
	store := registry.NewMemoryStore()
	srv := NewServer(holder, store, cache.NewMemoryCache(0), audit.NewLogger(nil), health.NewManager("test"))
	return &testEnv{server: srv, store: store, router: srv.Routes()}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// doWith sends a request through a freshly built router, for tests that
// change server options after newTestEnv.
func (e *testEnv) doWith(t *testing.T, router http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func cultivatorManifestJSON(t *testing.T, version string) []byte {
	t.Helper()
	buf, err := json.Marshal(map[string]any{
		"name":        "cultivator",
		"version":     version,
		"description": "Fast and modular design for submodular optimization.",
		"author":      "Jacob Schreiber",
		"authorEmail": "jmschreiber91@gmail.com",
		"homepage":    "https://pypi.python.org/pypi/cultivator",
		"license":     "LICENSE.txt",
		"requires":    []map[string]string{{"name": "numpy", "constraint": ">= 1.14.2"}},
	})
	require.NoError(t, err)
	return buf
}

func publish(t *testing.T, env *testEnv, version string) *httptest.ResponseRecorder {
	t.Helper()
	return env.do(t, http.MethodPost, "/api/v1/packages", cultivatorManifestJSON(t, version),
		map[string]string{"Content-Type": "application/json"})
}

func TestPublishLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := publish(t, env, "0.0.0")
	require.Equal(t, http.StatusCreated, rr.Code)

	var resp publishResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "cultivator", resp.Name)
	assert.Equal(t, "0.0.0", resp.Version)
	assert.True(t, resp.Created)
	assert.NotEmpty(t, resp.Digest)
	assert.NotEmpty(t, resp.ReceiptID)

	// Identical republish is an idempotent replay.
	rr = publish(t, env, "0.0.0")
	require.Equal(t, http.StatusOK, rr.Code)
	var replay publishResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &replay))
	assert.False(t, replay.Created)
	assert.Equal(t, resp.Digest, replay.Digest)
	assert.Equal(t, resp.ReceiptID, replay.ReceiptID)
}

func TestPublishConflict(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusCreated, publish(t, env, "0.0.0").Code)

	changed, err := json.Marshal(map[string]any{
		"name":        "cultivator",
		"version":     "0.0.0",
		"description": "different content",
	})
	require.NoError(t, err)
	rr := env.do(t, http.MethodPost, "/api/v1/packages", changed,
		map[string]string{"Content-Type": "application/json"})
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestPublishRejectsInvalidManifest(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name        string
		body        string
		contentType string
		wantCode    int
	}{
		{"bad json", `{`, "application/json", http.StatusBadRequest},
		{"unknown field", `{"name":"x","version":"1.0.0","bogus":true}`, "application/json", http.StatusBadRequest},
		{"bad version", `{"name":"x","version":"not-semver"}`, "application/json", http.StatusBadRequest},
		{"bad name", `{"name":"-Bad Name-","version":"1.0.0"}`, "application/json", http.StatusBadRequest},
		{"unsupported type", `name: x`, "text/plain", http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/api/v1/packages", []byte(tt.body),
				map[string]string{"Content-Type": tt.contentType})
			assert.Equal(t, tt.wantCode, rr.Code)

			var resp errorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestPublishYAML(t *testing.T) {
	env := newTestEnv(t, nil)
	body := []byte("name: cultivator\nversion: 0.0.0\nrequires:\n  - name: numpy\n    constraint: '>= 1.14.2'\n")
	rr := env.do(t, http.MethodPost, "/api/v1/packages", body,
		map[string]string{"Content-Type": "application/yaml"})
	assert.Equal(t, http.StatusCreated, rr.Code)
}

func TestGetVersion(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusCreated, publish(t, env, "0.0.0").Code)

	rr := env.do(t, http.MethodGet, "/api/v1/packages/cultivator/0.0.0", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var rec registry.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, "cultivator", rec.Manifest.Name)
	require.Len(t, rec.Manifest.Requires, 1)
	assert.Equal(t, "numpy", rec.Manifest.Requires[0].Name)
	assert.Equal(t, ">= 1.14.2", rec.Manifest.Requires[0].Constraint)

	// Second fetch is served from cache.
	rr = env.do(t, http.MethodGet, "/api/v1/packages/cultivator/0.0.0", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/v1/packages/cultivator/9.9.9", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/v1/packages/unknown/1.0.0", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetNormalizesVersionSegment(t *testing.T) {
	env := newTestEnv(t, nil)
	// Publish normalizes "1.0" to "1.0.0"; the path segment must match it.
	require.Equal(t, http.StatusCreated, publish(t, env, "1.0").Code)

	rr := env.do(t, http.MethodGet, "/api/v1/packages/cultivator/1.0", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var rec registry.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, "1.0.0", rec.Manifest.Version)

	rr = env.do(t, http.MethodDelete, "/api/v1/packages/cultivator/1.0", nil, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestGetYankedVersion(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusCreated, publish(t, env, "0.0.0").Code)

	rr := env.do(t, http.MethodDelete, "/api/v1/packages/cultivator/0.0.0", nil, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/v1/packages/cultivator/0.0.0", nil, nil)
	assert.Equal(t, http.StatusGone, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/v1/packages/cultivator/0.0.0?yanked=true", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var rec registry.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.True(t, rec.Yanked)
}

func TestListAndSummary(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodGet, "/api/v1/packages", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var empty listResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &empty))
	assert.Zero(t, empty.Count)

	require.Equal(t, http.StatusCreated, publish(t, env, "0.0.0").Code)
	require.Equal(t, http.StatusCreated, publish(t, env, "0.1.0").Code)

	rr = env.do(t, http.MethodGet, "/api/v1/packages", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list listResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, []string{"cultivator"}, list.Packages)

	rr = env.do(t, http.MethodGet, "/api/v1/packages/cultivator", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var summary summaryResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summary))
	assert.Equal(t, "cultivator", summary.Name)
	assert.Equal(t, "0.1.0", summary.LatestVersion)
	require.Len(t, summary.Versions, 2)
	assert.Equal(t, "0.0.0", summary.Versions[0].Version)

	rr = env.do(t, http.MethodGet, "/api/v1/packages/unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSummaryCanonicalizesName(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusCreated, publish(t, env, "0.0.0").Code)

	rr := env.do(t, http.MethodGet, "/api/v1/packages/Cultivator", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestResolve(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusCreated, publish(t, env, "0.0.0").Code)
	require.Equal(t, http.StatusCreated, publish(t, env, "0.1.0").Code)
	require.Equal(t, http.StatusCreated, publish(t, env, "0.2.0").Code)

	rr := env.do(t, http.MethodGet, "/api/v1/packages/cultivator/resolve?constraint="+
		"%3E%3D+0.1.0", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp resolveResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "0.2.0", resp.Version)
	assert.Equal(t, ">= 0.1.0", resp.Constraint)

	rr = env.do(t, http.MethodGet, "/api/v1/packages/cultivator/resolve?constraint=%3E+1.0.0", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/v1/packages/cultivator/resolve", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/v1/packages/cultivator/resolve?constraint=%40%40", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestYankUnknownVersion(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodDelete, "/api/v1/packages/cultivator/0.0.0", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusCreated, publish(t, env, "0.0.0").Code)

	rr := env.do(t, http.MethodGet, "/api/v1/status", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, 1, resp.Packages)
}

func TestAuditRecent(t *testing.T) {
	trail, err := audit.OpenSQLiteTrail(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer func() { require.NoError(t, trail.Close()) }()

	cfg := config.Defaults()
	cfg.RateLimitEnabled = false
	cfg.Version = "test"
	holder := config.NewHolder(cfg, nil, "")
	srv := NewServer(holder, registry.NewMemoryStore(), cache.NewMemoryCache(0),
		audit.NewLogger(trail), health.NewManager("test"))
	env := &testEnv{server: srv, router: srv.Routes()}

	rr := publish(t, env, "0.0.0")
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/v1/audit/recent", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp auditRecentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Positive(t, resp.Count)
	assert.Equal(t, audit.EventPublishSuccess, resp.Events[0].Type)

	rr = env.do(t, http.MethodGet, "/api/v1/audit/recent?limit=0", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequestIDEcho(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodGet, "/api/v1/packages", nil,
		map[string]string{"X-Request-ID": "req-abc"})
	assert.Equal(t, "req-abc", rr.Header().Get("X-Request-ID"))

	rr = env.do(t, http.MethodGet, "/api/v1/packages", nil, nil)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestSecurityHeaders(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodGet, "/api/v1/packages", nil, nil)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
}
