// SPDX-License-Identifier: MIT

package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kundajelab/cultivator/internal/config"
	"github.com/kundajelab/cultivator/internal/ratelimit"
)

func TestAuthTokenRequired(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.AppConfig) {
		cfg.APIToken = "secret-token"
	})

	body := cultivatorManifestJSON(t, "0.0.0")
	jsonHeader := map[string]string{"Content-Type": "application/json"}

	rr := env.do(t, http.MethodPost, "/api/v1/packages", body, jsonHeader)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/v1/packages", body, map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer wrong-token",
	})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/v1/packages", body, map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "secret-token", // missing Bearer prefix
	})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/v1/packages", body, map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer secret-token",
	})
	assert.Equal(t, http.StatusCreated, rr.Code)
}

func TestAuthYankRequiresToken(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.AppConfig) {
		cfg.APIToken = "secret-token"
	})

	rr := env.do(t, http.MethodPost, "/api/v1/packages", cultivatorManifestJSON(t, "0.0.0"),
		map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer secret-token",
		})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = env.do(t, http.MethodDelete, "/api/v1/packages/cultivator/0.0.0", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(t, http.MethodDelete, "/api/v1/packages/cultivator/0.0.0", nil,
		map[string]string{"Authorization": "Bearer secret-token"})
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestAuthReadsStayOpen(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.AppConfig) {
		cfg.APIToken = "secret-token"
	})

	rr := env.do(t, http.MethodGet, "/api/v1/packages", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuthOpenWithoutToken(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := publish(t, env, "0.0.0")
	assert.Equal(t, http.StatusCreated, rr.Code)
}

func TestGlobalRateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.AppConfig) {
		cfg.RateLimitEnabled = true
		cfg.RateLimitPerIP = 0 // exercise only the global bucket
	})
	limiter := ratelimit.New(ratelimit.Config{
		GlobalRate:  1,
		GlobalBurst: 2,
		PerIPRate:   1000,
		PerIPBurst:  1000,
	})
	WithRateLimiter(limiter)(env.server)
	router := env.server.Routes()

	codes := map[int]int{}
	for range 10 {
		rr := env.doWith(t, router, http.MethodGet, "/api/v1/packages")
		codes[rr.Code]++
	}
	assert.Positive(t, codes[http.StatusOK])
	assert.Positive(t, codes[http.StatusTooManyRequests])
}

func TestPerIPRateLimitIgnoresSpoofedForwardingHeaders(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.AppConfig) {
		cfg.RateLimitEnabled = true
		cfg.RateLimitPerIP = 1
		cfg.RateLimitPerIPBurst = 1
	})

	// No trusted proxies configured: rotating X-Forwarded-For from the
	// same peer must not rotate the limiter key.
	codes := map[int]int{}
	for i := range 10 {
		rr := env.do(t, http.MethodGet, "/api/v1/packages", nil, map[string]string{
			"X-Forwarded-For": fmt.Sprintf("10.0.0.%d", i),
		})
		codes[rr.Code]++
	}
	assert.Equal(t, 2, codes[http.StatusOK])
	assert.Equal(t, 8, codes[http.StatusTooManyRequests])
}

func TestRateLimitResponseHasRetryAfter(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.AppConfig) {
		cfg.RateLimitEnabled = true
		cfg.RateLimitPerIP = 0
	})
	limiter := ratelimit.New(ratelimit.Config{
		GlobalRate:  1,
		GlobalBurst: 1,
		PerIPRate:   1000,
		PerIPBurst:  1000,
	})
	WithRateLimiter(limiter)(env.server)
	router := env.server.Routes()

	var limited bool
	for range 10 {
		rr := env.doWith(t, router, http.MethodGet, "/api/v1/packages")
		if rr.Code == http.StatusTooManyRequests {
			limited = true
			assert.Equal(t, "1", rr.Header().Get("Retry-After"))
			assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rr.Body.String())
		}
	}
	assert.True(t, limited)
}
