package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterThrottlesPerCaller(t *testing.T) {
	var throttled []string
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 1, Burst: 2}, func(route string) {
		throttled = append(throttled, route)
	})
	handler := limiter.Middleware("create")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(remote string, principal *Principal) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = remote
		if principal != nil {
			req = req.WithContext(WithPrincipal(req.Context(), principal))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusNoContent, call("10.0.0.1:1000", nil))
	require.Equal(t, http.StatusNoContent, call("10.0.0.1:1001", nil))
	require.Equal(t, http.StatusTooManyRequests, call("10.0.0.1:1002", nil))
	require.Equal(t, []string{"create"}, throttled)

	// A different client and an authenticated subject have their own buckets.
	require.Equal(t, http.StatusNoContent, call("10.0.0.2:1000", nil))
	p := &Principal{Subject: testSubject}
	require.Equal(t, http.StatusNoContent, call("10.0.0.1:1003", p))
	require.Equal(t, http.StatusNoContent, call("10.0.0.1:1004", p))
	require.Equal(t, http.StatusTooManyRequests, call("10.0.0.1:1005", p))
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{}, nil)
	handler := limiter.Middleware("get")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestClientIDPrefersForwardedHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	require.Equal(t, "192.0.2.1", clientID(req))
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	require.Equal(t, "203.0.113.9", clientID(req))
	req.Header.Set("X-Real-IP", "198.51.100.7")
	require.Equal(t, "198.51.100.7", clientID(req))
}
