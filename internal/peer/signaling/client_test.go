package signaling

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adapter "github.com/TumwekwaseAmiim/amiim-world/internal/adapters/signal"
	"github.com/TumwekwaseAmiim/amiim-world/internal/app"
)

func newRelay(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctl := adapter.NewController(0, 0)
	ctl.Router = app.NewRouter(app.NewRegistry(), ctl)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		ctl.HandleSignal(context.Background(), c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func waitOn[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestClientRoundTrip(t *testing.T) {
	url := newRelay(t)
	ctx := context.Background()

	watchers := make(chan string, 4)
	signals := make(chan json.RawMessage, 4)
	chats := make(chan string, 4)
	bc, err := Dial(ctx, url)
	require.NoError(t, err)
	defer bc.Close()
	bc.Start(Handlers{
		OnWatcher: func(viewerID, viewerName string) { watchers <- viewerID },
		OnSignal:  func(_ string, sig json.RawMessage) { signals <- sig },
		OnChat:    func(sender, msg string) { chats <- sender + ": " + msg },
	})
	require.NoError(t, bc.AnnounceBroadcaster("hall", "Amiim"))

	welcomes := make(chan string, 1)
	kicked := make(chan struct{}, 1)
	vw, err := Dial(ctx, url)
	require.NoError(t, err)
	defer vw.Close()
	vw.Start(Handlers{
		OnWelcome:    func(message, mode string) { welcomes <- mode },
		OnKickViewer: func() { kicked <- struct{}{} },
	})
	require.NoError(t, vw.AnnounceWatcher("hall", "Alice"))

	viewerID := waitOn(t, watchers, "watcher notice")
	assert.Equal(t, "slides", waitOn(t, welcomes, "welcome"))

	// Upstream negotiation lands on the broadcaster.
	require.NoError(t, vw.SendSignal("hall", "", json.RawMessage(`{"type":"answer","sdp":"a"}`)))
	sig := waitOn(t, signals, "relayed signal")
	assert.JSONEq(t, `{"type":"answer","sdp":"a"}`, string(sig))

	// Chat fans out to everyone but the sender.
	require.NoError(t, vw.SendChat("hall", "Alice", "hello"))
	assert.Equal(t, "Alice: hello", waitOn(t, chats, "chat"))

	// Moderation flows back down to the viewer.
	require.NoError(t, bc.KickViewer(viewerID))
	waitOn(t, kicked, "kick notice")
}

// Frames that arrive between Dial and Start must wait for the handlers
// instead of being dispatched into nothing.
func TestFramesWaitForStart(t *testing.T) {
	url := newRelay(t)
	ctx := context.Background()

	bc, err := Dial(ctx, url)
	require.NoError(t, err)
	defer bc.Close()
	bc.Start(Handlers{})
	require.NoError(t, bc.AnnounceBroadcaster("hall", "Amiim"))

	vw, err := Dial(ctx, url)
	require.NoError(t, err)
	defer vw.Close()

	// Join before any handler exists; the welcome lands on the socket now.
	require.NoError(t, vw.AnnounceWatcher("hall", "Alice"))
	time.Sleep(100 * time.Millisecond)

	welcomes := make(chan string, 1)
	vw.Start(Handlers{
		OnWelcome: func(message, mode string) { welcomes <- mode },
	})
	assert.Equal(t, "slides", waitOn(t, welcomes, "welcome"))
}

func TestTrySendAfterClose(t *testing.T) {
	url := newRelay(t)
	c, err := Dial(context.Background(), url)
	require.NoError(t, err)
	c.Start(Handlers{})

	c.Close()
	assert.Error(t, c.SendChat("hall", "x", "y"))
}
