package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLogger(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	fail := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	t.Run("success", func(t *testing.T) {
		hook.Reset()
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		req.RemoteAddr = "10.0.0.5:41234"
		w := httptest.NewRecorder()
		RequestLogger(logger)(ok).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		entry := hook.LastEntry()
		require.NotNil(t, entry)
		assert.Equal(t, logrus.InfoLevel, entry.Level)
		assert.Equal(t, http.StatusOK, entry.Data["status"])
		assert.Equal(t, "/metrics", entry.Data["path"])
		assert.Equal(t, 2, entry.Data["bytes"])
		assert.Equal(t, "10.0.0.5", entry.Data["client_ip"])
	})

	t.Run("quiet path", func(t *testing.T) {
		hook.Reset()
		w := httptest.NewRecorder()
		RequestLogger(logger, "/health")(ok).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, logrus.DebugLevel, hook.LastEntry().Level)
	})

	t.Run("server error", func(t *testing.T) {
		hook.Reset()
		w := httptest.NewRecorder()
		RequestLogger(logger, "/health")(fail).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
		assert.Equal(t, http.StatusServiceUnavailable, hook.LastEntry().Data["status"])
	})
}

func TestRecover(t *testing.T) {
	logger, hook := test.NewNullLogger()
	boom := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		Recover(logger)(boom).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "boom", hook.LastEntry().Data["panic"])
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.1:80", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.2"}, "10.0.0.1:80", "198.51.100.2"},
		{"remote addr", nil, "192.0.2.10:5555", "192.0.2.10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(req))
		})
	}
}
