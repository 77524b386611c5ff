package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type mockHandler struct {
	addOK      bool
	completed  bool
	restartOK  bool
	identifyOK bool
}

func (m *mockHandler) AddNetwork(ctx context.Context, ssid, password string, priority *int) (bool, func()) {
	if !m.addOK {
		return false, nil
	}
	return true, func() { m.completed = true }
}
func (m *mockHandler) Restart(ctx context.Context) bool { return m.restartOK }
func (m *mockHandler) Identify() bool                   { return m.identifyOK }

func TestAPIConfigureRejectsShortPassword(t *testing.T) {
	h := &mockHandler{addOK: false}
	s := New(h, 8080, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/configure", strings.NewReader(`{"ssid":"x","password":"short"}`))
	rr := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAPIConfigureSucceeds(t *testing.T) {
	h := &mockHandler{addOK: true}
	s := New(h, 8080, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/configure", strings.NewReader(`{"ssid":"test","password":"test-password"}`))
	rr := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
}

func TestCaptivePortalRedirectsUnknownPath(t *testing.T) {
	h := &mockHandler{}
	s := New(h, 8080, nil)

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rr := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusFound, rr.Code)
	require.Equal(t, "/web/configuration", rr.Header().Get("Location"))
}
