// Package broadcast owns the broadcaster side of a room: one outgoing media
// session per viewer, torn down and rebuilt as viewers come and go.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/TumwekwaseAmiim/amiim-world/internal/core"
)

// degradedGrace is how long a session may sit degraded after an ICE restart
// before it is forced closed. The viewer rejoins on its own.
var degradedGrace = 15 * time.Second

// SignalSender is the slice of the signaling client this manager needs.
type SignalSender interface {
	SendSignal(roomID, viewerID string, signal json.RawMessage) error
}

type viewerSession struct {
	sess  core.Session
	name  string
	grace *time.Timer
}

// Manager tracks the per-viewer session arena. All fields behind mu; session
// callbacks re-enter through exported methods, never holding mu across calls
// into a session.
type Manager struct {
	client  SignalSender
	factory core.SessionFactory
	roomID  string

	mu      sync.Mutex
	src     core.MediaSource
	viewers map[string]*viewerSession
	onTrack func(viewerID string, track *webrtc.TrackRemote)
	closed  bool
}

func NewManager(client SignalSender, factory core.SessionFactory, roomID string, src core.MediaSource) *Manager {
	return &Manager{
		client:  client,
		factory: factory,
		roomID:  roomID,
		src:     src,
		viewers: make(map[string]*viewerSession),
	}
}

// OnViewerTrack sets the sink for inbound media from viewers, e.g. a viewer
// speaking after a mic grant. Set before the first watcher arrives.
func (m *Manager) OnViewerTrack(fn func(viewerID string, track *webrtc.TrackRemote)) {
	m.mu.Lock()
	m.onTrack = fn
	m.mu.Unlock()
}

// HandleWatcher creates an offering session toward a newly announced viewer.
// A session already registered under the same viewer id is a reconnect; the
// old one is torn down first. Without a media source there is nothing to
// offer, so the announce is ignored.
func (m *Manager) HandleWatcher(ctx context.Context, viewerID, viewerName string) {
	m.mu.Lock()
	if m.closed || m.src == nil {
		m.mu.Unlock()
		return
	}
	if old, ok := m.viewers[viewerID]; ok {
		delete(m.viewers, viewerID)
		m.stopLocked(old)
		go old.sess.Close()
	}
	m.mu.Unlock()

	sess, err := m.factory.NewSession(true, m.snapshotSource())
	if err != nil {
		log.Error().Err(err).Str("module", "peer.broadcast").Str("viewer", viewerID).Msg("session create failed")
		return
	}

	vs := &viewerSession{sess: sess, name: viewerName}

	sess.OnSignal(func(data json.RawMessage) {
		if err := m.client.SendSignal(m.roomID, viewerID, data); err != nil {
			log.Warn().Err(err).Str("module", "peer.broadcast").Str("viewer", viewerID).Msg("signal send dropped")
		}
	})
	sess.OnTrack(func(track *webrtc.TrackRemote) {
		m.mu.Lock()
		cb := m.onTrack
		m.mu.Unlock()
		if cb != nil {
			cb(viewerID, track)
		}
	})
	sess.OnStateChange(func(st core.SessionState) {
		m.onState(viewerID, vs, st)
	})

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		sess.Close()
		return
	}
	m.viewers[viewerID] = vs
	m.mu.Unlock()

	if err := sess.Start(ctx); err != nil {
		log.Error().Err(err).Str("module", "peer.broadcast").Str("viewer", viewerID).Msg("session start failed")
		m.HandleDisconnectPeer(viewerID)
		return
	}
	log.Info().Str("module", "peer.broadcast").Str("viewer", viewerID).Str("name", viewerName).Msg("viewer session started")
}

// HandleSignal applies a relayed negotiation event from the named viewer.
// Events for viewers with no registered session are dropped; they belong to a
// session that was already replaced or closed.
func (m *Manager) HandleSignal(viewerID string, data json.RawMessage) {
	m.mu.Lock()
	vs, ok := m.viewers[viewerID]
	m.mu.Unlock()
	if !ok {
		log.Debug().Str("module", "peer.broadcast").Str("viewer", viewerID).Msg("signal for unknown viewer dropped")
		return
	}
	if err := vs.sess.Signal(data); err != nil {
		log.Warn().Err(err).Str("module", "peer.broadcast").Str("viewer", viewerID).Msg("signal apply failed")
	}
}

// HandleDisconnectPeer tears down the named viewer's session, if any.
func (m *Manager) HandleDisconnectPeer(viewerID string) {
	m.mu.Lock()
	vs, ok := m.viewers[viewerID]
	if ok {
		delete(m.viewers, viewerID)
		m.stopLocked(vs)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	vs.sess.Close()
	log.Info().Str("module", "peer.broadcast").Str("viewer", viewerID).Msg("viewer session closed")
}

// ReplaceSource swaps the outgoing media on every live session in place.
// Failures are joined and reported; sessions that did accept the swap keep it.
func (m *Manager) ReplaceSource(src core.MediaSource) error {
	m.mu.Lock()
	m.src = src
	sessions := make(map[string]core.Session, len(m.viewers))
	for id, vs := range m.viewers {
		sessions[id] = vs.sess
	}
	m.mu.Unlock()

	var errs []error
	for id, sess := range sessions {
		if err := sess.ReplaceSource(src); err != nil {
			errs = append(errs, err)
			log.Error().Err(err).Str("module", "peer.broadcast").Str("viewer", id).Msg("source replace failed")
		}
	}
	return errors.Join(errs...)
}

// ViewerCount reports the number of live sessions.
func (m *Manager) ViewerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.viewers)
}

// Close tears down every session. The manager is unusable afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := make([]*viewerSession, 0, len(m.viewers))
	for _, vs := range m.viewers {
		m.stopLocked(vs)
		sessions = append(sessions, vs)
	}
	m.viewers = make(map[string]*viewerSession)
	m.mu.Unlock()

	for _, vs := range sessions {
		vs.sess.Close()
	}
}

func (m *Manager) snapshotSource() core.MediaSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.src
}

// stopLocked cancels a pending grace timer. Caller holds mu.
func (m *Manager) stopLocked(vs *viewerSession) {
	if vs.grace != nil {
		vs.grace.Stop()
		vs.grace = nil
	}
}

// onState runs the degraded recovery policy: restart ICE immediately, then
// give the session a grace window to come back before forcing it closed.
// State callbacks for a session that is no longer the registered one for its
// viewer id are ignored.
func (m *Manager) onState(viewerID string, vs *viewerSession, st core.SessionState) {
	m.mu.Lock()
	cur, ok := m.viewers[viewerID]
	if !ok || cur != vs {
		m.mu.Unlock()
		return
	}
	switch st {
	case core.SessionConnected:
		m.stopLocked(vs)
		m.mu.Unlock()
		log.Info().Str("module", "peer.broadcast").Str("viewer", viewerID).Msg("viewer connected")
	case core.SessionDegraded:
		if vs.grace == nil {
			vs.grace = time.AfterFunc(degradedGrace, func() {
				m.HandleDisconnectPeer(viewerID)
			})
		}
		m.mu.Unlock()
		if err := vs.sess.RestartICE(); err != nil {
			log.Warn().Err(err).Str("module", "peer.broadcast").Str("viewer", viewerID).Msg("ice restart failed")
		} else {
			log.Info().Str("module", "peer.broadcast").Str("viewer", viewerID).Msg("ice restart issued")
		}
	case core.SessionClosed:
		delete(m.viewers, viewerID)
		m.stopLocked(vs)
		m.mu.Unlock()
	default:
		m.mu.Unlock()
	}
}
