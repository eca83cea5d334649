package adminapi

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// handleWS never reaches s.positions/s.orch unless the upgrade succeeds, so
// a plain (non-websocket) request exercises the rejection path without any
// store/orchestrator collaborator wired.
func TestHandleWSRejectsNonWebsocketRequest(t *testing.T) {
	s := New(nil, nil)

	req := httptest.NewRequest("GET", "/ws", nil)
	w := httptest.NewRecorder()

	s.handleWS(w, req)

	require.NotEqual(t, 101, w.Code)
	require.Empty(t, s.clients)
}

func TestNewInitializesEmptyClientSet(t *testing.T) {
	s := New(nil, nil)
	require.NotNil(t, s.clients)
	require.Empty(t, s.clients)
}

func TestRoutesMountsExpectedPaths(t *testing.T) {
	s := New(nil, nil)
	mux := s.Routes()

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	require.Equal(t, "ok\n", w.Body.String())
}
