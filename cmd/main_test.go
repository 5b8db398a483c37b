package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/atm-dispatch/internal/config"
	"github.com/ukydev/atm-dispatch/internal/db"
	"github.com/ukydev/atm-dispatch/internal/dispatch"
)

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func TestOpenStore_Badger(t *testing.T) {
	store, err := openStore(context.Background(), config.StoreConfig{Backend: config.BackendBadger}, quietLogger())
	require.NoError(t, err)
	defer store.Close(context.Background())
	assert.IsType(t, &db.BadgerStore{}, store)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestOpenStore_Unknown(t *testing.T) {
	_, err := openStore(context.Background(), config.StoreConfig{Backend: "postgres"}, quietLogger())
	assert.Error(t, err)
}

type failingCloser struct{ err error }

func (c failingCloser) Close(context.Context) error { return c.err }

func TestCloseStore_LogsError(t *testing.T) {
	logger, hook := test.NewNullLogger()

	closeStore(context.Background(), failingCloser{}, logger)
	assert.Empty(t, hook.AllEntries())

	closeStore(context.Background(), failingCloser{err: errors.New("disconnect timed out")}, logger)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, log.ErrorLevel, entry.Level)
	assert.Equal(t, "Failed to close store", entry.Message)
	assert.EqualError(t, entry.Data[log.ErrorKey].(error), "disconnect timed out")
}

func TestRouter(t *testing.T) {
	store, err := db.OpenBadger("")
	require.NoError(t, err)
	defer store.Close(context.Background())

	reg := prometheus.NewRegistry()
	_, err = dispatch.NewMetrics(reg)
	require.NoError(t, err)
	router := newRouter(store, reg, quietLogger())

	t.Run("health", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"healthy"`)
	})

	t.Run("metrics", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "atm_dispatch_claim_conflicts_total")
	})

	t.Run("unknown path", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/tickets", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestRun_ServesAndShutsDown(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = config.BackendBadger
	cfg.HTTP.Port = freePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, &cfg, quietLogger()) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.HTTP.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
