package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examtrack/examtrack-go/internal/access"
	"github.com/examtrack/examtrack-go/internal/api/auth"
	"github.com/examtrack/examtrack-go/internal/conf"
	"github.com/examtrack/examtrack-go/internal/datastore"
	"github.com/examtrack/examtrack-go/internal/errors"
	"github.com/examtrack/examtrack-go/internal/notification"
)

// grantStore drives the grant endpoints. getErr controls the lookup outcome;
// saved records whether a write went through.
type grantStore struct {
	datastore.Interface
	mu     sync.Mutex
	getErr error
	saved  []*datastore.AccessGrant
}

func (g *grantStore) GetAccessGrant(staffID string) (*datastore.AccessGrant, error) {
	return nil, g.getErr
}

func (g *grantStore) SaveAccessGrant(grant *datastore.AccessGrant) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.saved = append(g.saved, grant)
	return nil
}

func (g *grantStore) saveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.saved)
}

type adminVerifier struct{}

func (adminVerifier) Verify(string) (*auth.Identity, error) {
	return &auth.Identity{UserID: "A1", Role: notification.RoleAdmin, AdminID: "A1"}, nil
}

func putGrant(t *testing.T, store *grantStore) *httptest.ResponseRecorder {
	t.Helper()
	s := New(&conf.Settings{Version: "test"}, store, nil, nil, access.NewGate(store), nil, adminVerifier{})

	req := httptest.NewRequest(http.MethodPut, "/api/v1/access/grants/T9",
		strings.NewReader(`{"allClasses":true}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

func TestPutGrantCreatesWhenAbsent(t *testing.T) {
	t.Parallel()
	store := &grantStore{
		getErr: errors.Newf("access grant not found").
			Component("datastore").
			Category(errors.CategoryNotFound).
			Build(),
	}

	rec := putGrant(t, store)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, store.saveCount())
	assert.Equal(t, "T9", store.saved[0].StaffID)
	assert.Equal(t, "A1", store.saved[0].GrantedBy)
	assert.True(t, store.saved[0].AllClasses)
}

func TestPutGrantSurfacesLookupFailure(t *testing.T) {
	t.Parallel()
	store := &grantStore{
		getErr: errors.Newf("connection refused").
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build(),
	}

	rec := putGrant(t, store)
	// a database failure must not be mistaken for a missing grant
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Zero(t, store.saveCount())
}
