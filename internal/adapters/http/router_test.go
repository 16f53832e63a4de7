package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TumwekwaseAmiim/amiim-world/internal/adapters/signal"
	"github.com/TumwekwaseAmiim/amiim-world/internal/app"
	"github.com/TumwekwaseAmiim/amiim-world/internal/config"
)

func newTestEngine(t *testing.T) (*httptest.Server, *app.Registry) {
	t.Helper()
	cfg := &config.Config{
		Mode:       "release",
		StaticPath: t.TempDir(),
		Secret:     "test-secret",
	}
	reg := app.NewRegistry()
	ctl := signal.NewController(0, 0)
	ctl.Router = app.NewRouter(reg, ctl)

	srv := httptest.NewServer(SetupRouter(context.Background(), cfg, ctl, reg))
	t.Cleanup(srv.Close)
	return srv, reg
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestEngine(t)

	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestStatusSnapshot(t *testing.T) {
	srv, reg := newTestEngine(t)
	reg.RegisterBroadcaster("hall", "b1", "Amiim")
	reg.RegisterViewer("hall", "v1", "Alice")

	res, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var body struct {
		Rooms []app.RoomStatus `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	require.Len(t, body.Rooms, 1)
	assert.Equal(t, "hall", body.Rooms[0].RoomID)
	assert.Equal(t, "Amiim", body.Rooms[0].BroadcasterName)
	assert.Len(t, body.Rooms[0].Viewers, 1)
}

func TestClientTokenCookieIssued(t *testing.T) {
	srv, _ := newTestEngine(t)

	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	res.Body.Close()

	var found bool
	for _, c := range res.Cookies() {
		if c.Name == "ct" && c.Value != "" {
			found = true
		}
	}
	assert.True(t, found, "first visit should set the client token cookie")
}
