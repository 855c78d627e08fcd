package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/core"
)

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		remote  string
		headers map[string]string
		want    string
	}{
		{
			name:    "no proxies configured",
			remote:  "10.0.0.5:4000",
			headers: map[string]string{"X-Real-IP": "203.0.113.9"},
			want:    "10.0.0.5",
		},
		{
			name:    "untrusted peer cannot spoof",
			trusted: []string{"10.0.0.0/8"},
			remote:  "192.0.2.1:4000",
			headers: map[string]string{"X-Real-IP": "203.0.113.9"},
			want:    "192.0.2.1",
		},
		{
			name:    "trusted proxy with X-Real-IP",
			trusted: []string{"10.0.0.0/8"},
			remote:  "10.0.0.5:4000",
			headers: map[string]string{"X-Real-IP": "203.0.113.9"},
			want:    "203.0.113.9",
		},
		{
			name:    "trusted proxy with forwarded chain",
			trusted: []string{"10.0.0.5"},
			remote:  "10.0.0.5:4000",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.7"},
			want:    "203.0.113.9",
		},
		{
			name:    "garbage header is ignored",
			trusted: []string{"10.0.0.0/8", "not-a-cidr"},
			remote:  "10.0.0.5:4000",
			headers: map[string]string{"X-Real-IP": "nope"},
			want:    "10.0.0.5",
		},
		{
			name:    "ipv6 peer",
			trusted: []string{"::1"},
			remote:  "[::1]:4000",
			headers: map[string]string{"X-Forwarded-For": "2001:db8::1"},
			want:    "2001:db8::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := TrustedRealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = ClientIP(r)
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOperator(t *testing.T) {
	cfg := &config.SecurityConfig{
		APIKeys:         []string{"alice:key-a", "bob:key-b"},
		DefaultOperator: "admin",
	}

	var got string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = core.OperatorFromContext(r.Context())
	})

	serve := func(cfg *config.SecurityConfig, setup func(*http.Request)) int {
		got = ""
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if setup != nil {
			setup(req)
		}
		rec := httptest.NewRecorder()
		Operator(cfg)(next).ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, serve(cfg, nil))
	assert.Equal(t, "admin", got, "default operator when keys are optional")

	assert.Equal(t, http.StatusOK, serve(cfg, func(r *http.Request) { r.Header.Set("X-API-Key", "key-b") }))
	assert.Equal(t, "bob", got)

	assert.Equal(t, http.StatusOK, serve(cfg, func(r *http.Request) { r.SetBasicAuth("anything", "key-a") }))
	assert.Equal(t, "alice", got)

	required := *cfg
	required.RequireAPIKey = true
	assert.Equal(t, http.StatusUnauthorized, serve(&required, nil))
	assert.Equal(t, http.StatusForbidden, serve(&required, func(r *http.Request) { r.Header.Set("X-API-Key", "wrong") }))
	assert.Empty(t, got)
}

func TestLoggerPassesStatusThrough(t *testing.T) {
	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short and stout", rec.Body.String())
}
