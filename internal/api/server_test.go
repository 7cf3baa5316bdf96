package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examtrack/examtrack-go/internal/api/auth"
	"github.com/examtrack/examtrack-go/internal/conf"
	"github.com/examtrack/examtrack-go/internal/datastore"
	"github.com/examtrack/examtrack-go/internal/errors"
)

// pingStore stubs the connectivity probe. Every other method comes from the
// embedded nil interface and panics if reached.
type pingStore struct {
	datastore.Interface
	err error
}

func (p *pingStore) Ping() error { return p.err }

type denyAllVerifier struct{}

func (denyAllVerifier) Verify(string) (*auth.Identity, error) {
	return nil, errors.Newf("no credentials").
		Component("api").
		Category(errors.CategoryUnauthorized).
		Build()
}

func newHealthServer(t *testing.T, ds datastore.Interface) *Server {
	t.Helper()
	settings := &conf.Settings{Version: "test", BuildDate: "today"}
	return New(settings, ds, nil, nil, nil, nil, denyAllVerifier{})
}

func healthPayload(t *testing.T, s *Server) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)

	var envelope Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	data, isMap := envelope.Data.(map[string]any)
	require.True(t, isMap)
	return rec.Code, data
}

func TestNewAppliesHandshakeTimeout(t *testing.T) {
	t.Parallel()
	settings := &conf.Settings{Version: "test"}
	settings.Security.HandshakeTimeout = 10 * time.Second

	s := New(settings, &pingStore{}, nil, nil, nil, nil, denyAllVerifier{})
	assert.Equal(t, 10*time.Second, s.Echo.Server.ReadHeaderTimeout)
}

func TestHealthReportsDatabaseConnected(t *testing.T) {
	t.Parallel()
	s := newHealthServer(t, &pingStore{})

	code, data := healthPayload(t, s)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "test", data["version"])
	assert.Equal(t, "connected", data["database_status"])
	assert.NotContains(t, data, "database_error")
}

func TestHealthReportsDatabaseDown(t *testing.T) {
	t.Parallel()
	s := newHealthServer(t, &pingStore{
		err: errors.Newf("connection refused").
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build(),
	})

	code, data := healthPayload(t, s)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "disconnected", data["database_status"])
	assert.Contains(t, data["database_error"], "connection refused")
}
