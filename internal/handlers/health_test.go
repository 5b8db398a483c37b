package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/atm-dispatch/internal/db"
)

// MockPinger is a mock implementation of Pinger
type MockPinger struct {
	mock.Mock
}

func (m *MockPinger) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestHealthHandler_Health(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		p := new(MockPinger)
		p.On("Ping", mock.Anything).Return(nil)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		NewHealthHandler(p, quietLogger()).Health(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body["status"])
	})

	t.Run("store unavailable", func(t *testing.T) {
		p := new(MockPinger)
		p.On("Ping", mock.Anything).Return(db.ErrStoreUnavailable)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		NewHealthHandler(p, quietLogger()).Health(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "unhealthy", body["status"])
	})

	t.Run("method not allowed", func(t *testing.T) {
		p := new(MockPinger)
		req := httptest.NewRequest(http.MethodPost, "/health", nil)
		w := httptest.NewRecorder()
		NewHealthHandler(p, quietLogger()).Health(w, req)

		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
		p.AssertNotCalled(t, "Ping", mock.Anything)
	})

	t.Run("badger store", func(t *testing.T) {
		store, err := db.OpenBadger("")
		require.NoError(t, err)
		h := NewHealthHandler(store, quietLogger())

		w := httptest.NewRecorder()
		h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)

		require.NoError(t, store.Close(context.Background()))
		w = httptest.NewRecorder()
		h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
