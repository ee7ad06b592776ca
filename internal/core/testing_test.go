package core

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"braveforms/internal/config"
	"braveforms/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{Server: config.ServerConfig{Port: "0", RequestTimeout: time.Second}}
	cfg.Build.Version = "1.2.3"
	s, err := NewServer(cfg, discardLogger())
	require.NoError(t, err)
	return s
}

type stubAuthenticator struct {
	actor *types.Actor
	err   error
	calls []string
}

func (a *stubAuthenticator) ResolveToken(_ context.Context, token string) (*types.Actor, error) {
	a.calls = append(a.calls, token)
	return a.actor, a.err
}

type recordedRequest struct {
	method, endpoint, status string
}

type stubMetrics struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (m *stubMetrics) RecordRequest(method, endpoint, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, recordedRequest{method, endpoint, status})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var body APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}
