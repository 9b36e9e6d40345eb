package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BaSui01/agentrelay/internal/metrics"
	"github.com/BaSui01/agentrelay/types"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("ok"))
})

func do(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func envelopeCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.False(t, env.Success)
	return env.Error.Code
}

func TestSecurityHeaders(t *testing.T) {
	w := do(SecurityHeaders()(okHandler), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "default-src 'none'", w.Header().Get("Content-Security-Policy"))
}

func TestRequestID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = types.RequestID(r.Context())
	})
	h := RequestID()(inner)

	t.Run("generated", func(t *testing.T) {
		w := do(h, httptest.NewRequest(http.MethodGet, "/", nil))
		id := w.Header().Get(requestIDHeader)
		assert.Len(t, id, 36, "uuid string")
		assert.Equal(t, id, seen)
	})

	t.Run("client supplied", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(requestIDHeader, "trace-me")
		w := do(h, r)
		assert.Equal(t, "trace-me", w.Header().Get(requestIDHeader))
		assert.Equal(t, "trace-me", seen)
	})
}

func TestRecovery(t *testing.T) {
	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	h := Chain(panicky, RequestID(), Recovery(zap.NewNop()))

	w := do(h, httptest.NewRequest(http.MethodGet, "/agents", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(types.ErrInternalError), envelopeCode(t, w))
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), RequestID(), RequestLogger(zap.New(core)))

	do(h, httptest.NewRequest(http.MethodPost, "/agents/alpha/start", nil))

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "POST", fields["method"])
	assert.EqualValues(t, http.StatusTeapot, fields["status"])
	assert.NotEmpty(t, fields["request_id"])
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/health":               "/health",
		"/agents":               "/agents",
		"/agents/billing":       "/agents/:name",
		"/agents/billing/chat":  "/agents/:name/chat",
		"/agents/sales/train":   "/agents/:name/train",
		"/agents/sales/health":  "/agents/:name/health",
		"/agents/sales/unknown": "unmatched",
		"/wp-admin/login.php":   "unmatched",
		"/":                     "unmatched",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, normalizePath(in))
		})
	}
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://console.example.com"})(okHandler)

	t.Run("allowed origin", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/agents", nil)
		r.Header.Set("Origin", "https://console.example.com")
		w := do(h, r)
		assert.Equal(t, "https://console.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight allowed", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodOptions, "/agents", nil)
		r.Header.Set("Origin", "https://console.example.com")
		assert.Equal(t, http.StatusNoContent, do(h, r).Code)
	})

	t.Run("preflight rejected", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodOptions, "/agents", nil)
		r.Header.Set("Origin", "https://evil.example.com")
		w := do(h, r)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("same origin untouched", func(t *testing.T) {
		w := do(h, httptest.NewRequest(http.MethodGet, "/agents", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := RateLimiter(ctx, 0.001, 2, zap.NewNop())(okHandler)

	req := func(addr string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/agents", nil)
		r.RemoteAddr = addr
		return do(h, r)
	}

	assert.Equal(t, http.StatusOK, req("10.0.0.1:1000").Code)
	assert.Equal(t, http.StatusOK, req("10.0.0.1:1001").Code)
	w := req("10.0.0.1:1002")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, string(types.ErrRateLimited), envelopeCode(t, w))

	assert.Equal(t, http.StatusOK, req("10.0.0.2:1000").Code, "limits are per client IP")
}

func TestAPIKeyAuth(t *testing.T) {
	var principal string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ = types.Principal(r.Context())
	})
	skip := []string{"/health"}

	tests := []struct {
		name       string
		allowQuery bool
		path       string
		header     string
		wantStatus int
	}{
		{name: "valid header", path: "/agents", header: "k2", wantStatus: http.StatusOK},
		{name: "missing key", path: "/agents", wantStatus: http.StatusUnauthorized},
		{name: "wrong key", path: "/agents", header: "nope", wantStatus: http.StatusUnauthorized},
		{name: "skip path", path: "/health", wantStatus: http.StatusOK},
		{name: "query key disabled", path: "/agents?api_key=k1", wantStatus: http.StatusUnauthorized},
		{name: "query key enabled", allowQuery: true, path: "/agents?api_key=k1", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := APIKeyAuth([]string{"k1", "k2"}, skip, tt.allowQuery, zap.NewNop())(inner)
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				r.Header.Set("X-API-Key", tt.header)
			}
			w := do(h, r)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Equal(t, string(types.ErrUnauthorized), envelopeCode(t, w))
			}
		})
	}

	h := APIKeyAuth([]string{"k1", "k2"}, skip, false, zap.NewNop())(inner)
	r := httptest.NewRequest(http.MethodGet, "/agents", nil)
	r.Header.Set("X-API-Key", "k2")
	do(h, r)
	assert.Equal(t, "api-key-1", principal)
}

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestJWTAuth(t *testing.T) {
	const secret = "s3cret"
	var principal string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ = types.Principal(r.Context())
	})
	h := JWTAuth(secret, []string{"/health"}, zap.NewNop())(inner)

	future := jwt.NewNumericDate(time.Now().Add(time.Hour))
	past := jwt.NewNumericDate(time.Now().Add(-time.Hour))

	tests := []struct {
		name       string
		path       string
		auth       string
		wantStatus int
	}{
		{"valid", "/agents", "Bearer " + signToken(t, secret, jwt.RegisteredClaims{Subject: "ops", ExpiresAt: future}), http.StatusOK},
		{"expired", "/agents", "Bearer " + signToken(t, secret, jwt.RegisteredClaims{Subject: "ops", ExpiresAt: past}), http.StatusUnauthorized},
		{"no expiry", "/agents", "Bearer " + signToken(t, secret, jwt.RegisteredClaims{Subject: "ops"}), http.StatusUnauthorized},
		{"wrong secret", "/agents", "Bearer " + signToken(t, "other", jwt.RegisteredClaims{ExpiresAt: future}), http.StatusUnauthorized},
		{"missing header", "/agents", "", http.StatusUnauthorized},
		{"not bearer", "/agents", "Basic Zm9vOmJhcg==", http.StatusUnauthorized},
		{"skip path", "/health", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.auth != "" {
				r.Header.Set("Authorization", tt.auth)
			}
			w := do(h, r)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Equal(t, string(types.ErrAuthentication), envelopeCode(t, w))
			}
		})
	}

	r := httptest.NewRequest(http.MethodGet, "/agents", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, secret, jwt.RegisteredClaims{Subject: "ops", ExpiresAt: future}))
	do(h, r)
	assert.Equal(t, "ops", principal)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	do(Chain(okHandler, mw("outer"), mw("inner")), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner"}, order)
}

// requestCount 从默认注册表读取 http_requests_total 中匹配 path 与 status 的计数
func requestCount(t *testing.T, namespace, path, status string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != namespace+"_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["path"] == path && labels["status"] == status {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestMetricsMiddleware(t *testing.T) {
	const ns = "mwtest_metrics"
	collector := metrics.NewCollector(ns, zap.NewNop())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /agents/{name}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	h := MetricsMiddleware(collector)(mux)

	do(h, httptest.NewRequest(http.MethodGet, "/agents/billing", nil))
	do(h, httptest.NewRequest(http.MethodGet, "/agents/sales", nil))
	do(h, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, 2.0, requestCount(t, ns, "/agents/:name", "2xx"))
	assert.Equal(t, 1.0, requestCount(t, ns, "unmatched", "4xx"))
}
