package app

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TumwekwaseAmiim/amiim-world/internal/core"
	"github.com/TumwekwaseAmiim/amiim-world/internal/domain"
	"github.com/TumwekwaseAmiim/amiim-world/internal/protocol"
)

type sentFrame struct {
	to  core.ConnID
	msg any
}

type fakeTransport struct {
	mu    sync.Mutex
	sends []sentFrame
}

func (f *fakeTransport) SendTo(id core.ConnID, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sentFrame{to: id, msg: v})
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = nil
}

// sentTo returns the frames delivered to one connection, in order.
func (f *fakeTransport) sentTo(id core.ConnID) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, s := range f.sends {
		if s.to == id {
			out = append(out, s.msg)
		}
	}
	return out
}

func countType[T any](msgs []any) int {
	n := 0
	for _, m := range msgs {
		if _, ok := m.(T); ok {
			n++
		}
	}
	return n
}

func firstType[T any](msgs []any) (T, bool) {
	for _, m := range msgs {
		if v, ok := m.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func newTestRouter(t *testing.T) (*Router, *fakeTransport, *Registry) {
	t.Helper()
	tx := &fakeTransport{}
	reg := NewRegistry()
	return NewRouter(reg, tx), tx, reg
}

func join(r *Router, id core.ConnID, frame string) {
	r.HandleConnect(id)
	r.HandleMessage(id, []byte(frame))
}

func broadcasterFrame(room, name string) string {
	return fmt.Sprintf(`{"type":"broadcaster","roomId":%q,"broadcasterName":%q}`, room, name)
}

func watcherFrame(room, name string) string {
	return fmt.Sprintf(`{"type":"watcher","roomId":%q,"viewerName":%q}`, room, name)
}

func TestWatcherJoinFlow(t *testing.T) {
	r, tx, _ := newTestRouter(t)

	join(r, "b1", broadcasterFrame("hall", "Amiim"))
	tx.reset()
	join(r, "v1", watcherFrame("hall", "Alice"))

	notice, ok := firstType[protocol.WatcherNotice](tx.sentTo("b1"))
	require.True(t, ok, "broadcaster should learn about the watcher")
	assert.Equal(t, "v1", notice.ViewerID)
	assert.Equal(t, "Alice", notice.ViewerName)

	toViewer := tx.sentTo("v1")
	mode, ok := firstType[protocol.StreamMode](toViewer)
	require.True(t, ok)
	assert.Equal(t, "slides", mode.Mode)
	_, ok = firstType[protocol.Welcome](toViewer)
	assert.True(t, ok)

	count, ok := firstType[protocol.ViewerCount](tx.sentTo("b1"))
	require.True(t, ok)
	assert.Equal(t, 1, count.Count)
	list, ok := firstType[protocol.ViewerList](tx.sentTo("b1"))
	require.True(t, ok)
	require.Len(t, list.Viewers, 1)
	assert.Equal(t, "v1", list.Viewers[0].ID)
}

func TestSignalViewerToBroadcaster(t *testing.T) {
	r, tx, _ := newTestRouter(t)
	join(r, "b1", broadcasterFrame("hall", "Amiim"))
	join(r, "v1", watcherFrame("hall", "Alice"))
	tx.reset()

	r.HandleMessage("v1", []byte(`{"type":"signal","signal":{"type":"answer","sdp":"x"}}`))

	relay, ok := firstType[protocol.SignalRelay](tx.sentTo("b1"))
	require.True(t, ok)
	assert.Equal(t, "v1", relay.ViewerID)
	assert.JSONEq(t, `{"type":"answer","sdp":"x"}`, string(relay.Signal))
}

func TestSignalBroadcasterToViewer(t *testing.T) {
	r, tx, _ := newTestRouter(t)
	join(r, "b1", broadcasterFrame("hall", "Amiim"))
	join(r, "v1", watcherFrame("hall", "Alice"))
	tx.reset()

	r.HandleMessage("b1", []byte(`{"type":"signal","viewerId":"v1","signal":{"type":"offer","sdp":"y"}}`))

	relay, ok := firstType[protocol.SignalRelay](tx.sentTo("v1"))
	require.True(t, ok)
	assert.JSONEq(t, `{"type":"offer","sdp":"y"}`, string(relay.Signal))
}

func TestSignalCannotCrossRooms(t *testing.T) {
	r, tx, _ := newTestRouter(t)
	join(r, "b1", broadcasterFrame("hall", "Amiim"))
	join(r, "v1", watcherFrame("other", "Mallory"))
	tx.reset()

	// b1 names a viewer that belongs to a different room.
	r.HandleMessage("b1", []byte(`{"type":"signal","viewerId":"v1","signal":{}}`))
	assert.Empty(t, tx.sentTo("v1"))
}

func TestSignalWithoutBroadcasterIsDropped(t *testing.T) {
	r, tx, _ := newTestRouter(t)
	join(r, "v1", watcherFrame("hall", "Alice"))
	tx.reset()

	assert.NotPanics(t, func() {
		r.HandleMessage("v1", []byte(`{"type":"signal","signal":{}}`))
	})
	assert.Empty(t, tx.sends)
}

func TestSignalFromKickedViewerIsDropped(t *testing.T) {
	r, tx, _ := newTestRouter(t)
	join(r, "b1", broadcasterFrame("hall", "Amiim"))
	join(r, "v1", watcherFrame("hall", "Alice"))
	r.HandleMessage("b1", []byte(`{"type":"kick-viewer","viewerId":"v1"}`))
	tx.reset()

	r.HandleMessage("v1", []byte(`{"type":"signal","signal":{}}`))
	assert.Empty(t, tx.sentTo("b1"))
}

func TestChatExcludesSender(t *testing.T) {
	r, tx, _ := newTestRouter(t)
	join(r, "b1", broadcasterFrame("hall", "Amiim"))
	join(r, "v1", watcherFrame("hall", "Alice"))
	join(r, "v2", watcherFrame("hall", "Bob"))
	tx.reset()

	r.HandleMessage("v1", []byte(`{"type":"chat","sender":"Alice","msg":"hi"}`))

	assert.Equal(t, 1, countType[protocol.Chat](tx.sentTo("b1")))
	assert.Equal(t, 1, countType[protocol.Chat](tx.sentTo("v2")))
	assert.Equal(t, 0, countType[protocol.Chat](tx.sentTo("v1")))
}

func TestChatFromUnjoinedIsDropped(t *testing.T) {
	r, tx, _ := newTestRouter(t)
	join(r, "b1", broadcasterFrame("hall", "Amiim"))
	r.HandleConnect("lurker")
	tx.reset()

	r.HandleMessage("lurker", []byte(`{"type":"chat","sender":"x","msg":"spam"}`))
	assert.Empty(t, tx.sends)
}

func TestChatWithForeignRoomClaimIsDropped(t *testing.T) {
	r, tx, _ := newTestRouter(t)
	join(r, "b1", broadcasterFrame("hall", "Amiim"))
	join(r, "v1", watcherFrame("hall", "Alice"))
	tx.reset()

	r.HandleMessage("v1", []byte(`{"type":"chat","roomId":"other","sender":"Alice","msg":"hi"}`))
	assert.Empty(t, tx.sends)
}

func TestChatRateLimit(t *testing.T) {
	r, tx, _ := newTestRouter(t)
	join(r, "b1", broadcasterFrame("hall", "Amiim"))
	join(r, "v1", watcherFrame("hall", "Alice"))
	tx.reset()

	for i := 0; i < 30; i++ {
		r.HandleMessage("v1", []byte(`{"type":"chat","sender":"Alice","msg":"hi"}`))
	}
	assert.Equal(t, 20, countType[protocol.Chat](tx.sentTo("b1")))
}

func TestGrantMicBroadcasterOnly(t *testing.T) {
	r, tx, _ := newTestRouter(t)
	join(r, "b1", broadcasterFrame("hall", "Amiim"))
	join(r, "v1", watcherFrame("hall", "Alice"))
	join(r, "v2", watcherFrame("hall", "Bob"))
	tx.reset()

	r.HandleMessage("v2", []byte(`{"type":"grant-mic","viewerId":"v1"}`))
	assert.Empty(t, tx.sentTo("v1"))

	r.HandleMessage("b1", []byte(`{"type":"grant-mic","viewerId":"v1"}`))
	assert.Equal(t, 1, countType[protocol.GrantMic](tx.sentTo("v1")))
}

func TestKickViewer(t *testing.T) {
	r, tx, reg := newTestRouter(t)
	join(r, "b1", broadcasterFrame("hall", "Amiim"))
	join(r, "v1", watcherFrame("hall", "Alice"))
	join(r, "v2", watcherFrame("hall", "Bob"))
	tx.reset()

	r.HandleMessage("b1", []byte(`{"type":"kick-viewer","viewerId":"v1"}`))

	assert.Equal(t, 1, countType[protocol.KickViewer](tx.sentTo("v1")))
	dp, ok := firstType[protocol.DisconnectPeer](tx.sentTo("b1"))
	require.True(t, ok)
	assert.Equal(t, "v1", dp.PeerID)
	assert.False(t, reg.HasViewer("hall", "v1"))

	count, ok := firstType[protocol.ViewerCount](tx.sentTo("b1"))
	require.True(t, ok)
	assert.Equal(t, 1, count.Count)
}

func TestStreamModeBroadcasterOnly(t *testing.T) {
	r, tx, reg := newTestRouter(t)
	join(r, "b1", broadcasterFrame("hall", "Amiim"))
	join(r, "v1", watcherFrame("hall", "Alice"))
	tx.reset()

	r.HandleMessage("v1", []byte(`{"type":"stream-mode","mode":"event"}`))
	assert.Equal(t, domain.ModeSlides, reg.CurrentMode("hall"))

	r.HandleMessage("b1", []byte(`{"type":"stream-mode","mode":"event"}`))
	assert.Equal(t, domain.ModeEvent, reg.CurrentMode("hall"))
	mode, ok := firstType[protocol.StreamMode](tx.sentTo("v1"))
	require.True(t, ok)
	assert.Equal(t, "event", mode.Mode)

	// Garbage falls back to slides for everyone.
	r.HandleMessage("b1", []byte(`{"type":"stream-mode","mode":"circus"}`))
	assert.Equal(t, domain.ModeSlides, reg.CurrentMode("hall"))
}

func TestFeedbackStoredAndForwarded(t *testing.T) {
	r, tx, reg := newTestRouter(t)
	join(r, "b1", broadcasterFrame("hall", "Amiim"))
	join(r, "v1", watcherFrame("hall", "Alice"))
	tx.reset()

	r.HandleMessage("v1", []byte(`{"type":"clientFeedback","text":"frozen video","env":"firefox"}`))

	assert.Equal(t, 1, reg.FeedbackCount("hall"))
	fb, ok := firstType[protocol.Feedback](tx.sentTo("b1"))
	require.True(t, ok)
	assert.Equal(t, "frozen video", fb.Text)
	assert.Equal(t, "v1", fb.From)
}

func TestBroadcasterDisconnectClosesRoom(t *testing.T) {
	r, tx, reg := newTestRouter(t)
	join(r, "b1", broadcasterFrame("hall", "Amiim"))
	join(r, "v1", watcherFrame("hall", "Alice"))
	join(r, "v2", watcherFrame("hall", "Bob"))
	tx.reset()

	r.HandleDisconnect("b1")

	// Exactly one teardown notice per viewer, then the room is gone.
	assert.Equal(t, 1, countType[protocol.DisconnectPeer](tx.sentTo("v1")))
	assert.Equal(t, 1, countType[protocol.DisconnectPeer](tx.sentTo("v2")))
	assert.False(t, reg.HasRoom("hall"))
}

func TestStaleBroadcasterDisconnectLeavesRoomAlone(t *testing.T) {
	r, tx, reg := newTestRouter(t)
	join(r, "b1", broadcasterFrame("hall", "Amiim"))
	join(r, "v1", watcherFrame("hall", "Alice"))
	// A reconnecting broadcaster claims the seat on a new connection before
	// the old one's disconnect lands.
	join(r, "b2", broadcasterFrame("hall", "Amiim"))
	tx.reset()

	r.HandleDisconnect("b1")

	assert.True(t, reg.HasRoom("hall"))
	assert.Empty(t, tx.sentTo("v1"))
	id, _, ok := reg.Broadcaster("hall")
	require.True(t, ok)
	assert.Equal(t, "b2", string(id))
}

func TestViewerDisconnect(t *testing.T) {
	r, tx, reg := newTestRouter(t)
	join(r, "b1", broadcasterFrame("hall", "Amiim"))
	join(r, "v1", watcherFrame("hall", "Alice"))
	join(r, "v2", watcherFrame("hall", "Bob"))
	tx.reset()

	r.HandleDisconnect("v1")

	dp, ok := firstType[protocol.DisconnectPeer](tx.sentTo("b1"))
	require.True(t, ok)
	assert.Equal(t, "v1", dp.PeerID)
	assert.False(t, reg.HasViewer("hall", "v1"))
	count, ok := firstType[protocol.ViewerCount](tx.sentTo("b1"))
	require.True(t, ok)
	assert.Equal(t, 1, count.Count)
}

func TestRoleCannotBeSwitched(t *testing.T) {
	r, _, reg := newTestRouter(t)
	join(r, "c1", watcherFrame("hall", "Alice"))

	// The same connection now claims the broadcaster seat; refused.
	r.HandleMessage("c1", []byte(broadcasterFrame("hall", "Alice")))
	_, _, ok := reg.Broadcaster("hall")
	assert.False(t, ok)

	// And it cannot hop rooms either.
	r.HandleMessage("c1", []byte(watcherFrame("other", "Alice")))
	assert.False(t, reg.HasRoom("other"))
}

func TestWatcherReannounceIsIdempotent(t *testing.T) {
	r, tx, reg := newTestRouter(t)
	join(r, "b1", broadcasterFrame("hall", "Amiim"))
	join(r, "v1", watcherFrame("hall", "Alice"))
	tx.reset()

	// A rejoin after a dropped media session re-announces on the same socket.
	r.HandleMessage("v1", []byte(watcherFrame("hall", "Alice")))

	assert.Equal(t, 1, reg.ViewerCount("hall"))
	notice, ok := firstType[protocol.WatcherNotice](tx.sentTo("b1"))
	require.True(t, ok)
	assert.Equal(t, "v1", notice.ViewerID)
}

func TestMalformedAndUnknownFramesAreIgnored(t *testing.T) {
	r, tx, _ := newTestRouter(t)
	join(r, "b1", broadcasterFrame("hall", "Amiim"))
	tx.reset()

	for _, frame := range []string{
		`not json`,
		`{}`,
		`{"type":"teleport"}`,
		`{"type":"broadcaster","roomId":""}`,
	} {
		assert.NotPanics(t, func() {
			r.HandleMessage("b1", []byte(frame))
		}, "frame %q", frame)
	}
	assert.Empty(t, tx.sends)
}

func TestFullSessionScenario(t *testing.T) {
	r, tx, reg := newTestRouter(t)

	join(r, "b1", broadcasterFrame("hall", "Amiim"))
	join(r, "v1", watcherFrame("hall", "Alice"))
	join(r, "v2", watcherFrame("hall", "Bob"))

	// Negotiation both ways.
	r.HandleMessage("b1", []byte(`{"type":"signal","viewerId":"v1","signal":{"type":"offer","sdp":"o"}}`))
	r.HandleMessage("v1", []byte(`{"type":"signal","signal":{"type":"answer","sdp":"a"}}`))

	// Chat, a mode flip, a kick, then the broadcaster leaves.
	r.HandleMessage("v2", []byte(`{"type":"chat","sender":"Bob","msg":"hello"}`))
	r.HandleMessage("b1", []byte(`{"type":"stream-mode","mode":"event"}`))
	r.HandleMessage("b1", []byte(`{"type":"kick-viewer","viewerId":"v2"}`))
	r.HandleDisconnect("b1")

	assert.False(t, reg.HasRoom("hall"))
	// v1 saw: offer, chat, mode change, kick fallout, and one final teardown.
	v1 := tx.sentTo("v1")
	assert.Equal(t, 1, countType[protocol.SignalRelay](v1))
	assert.Equal(t, 1, countType[protocol.Chat](v1))
	assert.Equal(t, 1, countType[protocol.DisconnectPeer](v1))
	// v2 was kicked before the shutdown, so no teardown notice reached it.
	assert.Equal(t, 1, countType[protocol.KickViewer](tx.sentTo("v2")))
	assert.Equal(t, 0, countType[protocol.DisconnectPeer](tx.sentTo("v2")))
}

func TestBroadcasterSyncOnLateJoin(t *testing.T) {
	r, tx, _ := newTestRouter(t)
	join(r, "v1", watcherFrame("hall", "Alice"))
	join(r, "v2", watcherFrame("hall", "Bob"))
	tx.reset()

	join(r, "b1", broadcasterFrame("hall", "Amiim"))

	count, ok := firstType[protocol.ViewerCount](tx.sentTo("b1"))
	require.True(t, ok)
	assert.Equal(t, 2, count.Count)
	list, ok := firstType[protocol.ViewerList](tx.sentTo("b1"))
	require.True(t, ok)
	assert.Len(t, list.Viewers, 2)
}
