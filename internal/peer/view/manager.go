// Package view owns the viewer side of a room: a single answering media
// session toward the broadcaster, recreated with backoff whenever it drops.
package view

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/TumwekwaseAmiim/amiim-world/internal/core"
)

const (
	rejoinBase = time.Second
	rejoinMax  = 30 * time.Second
)

// Signaler is the slice of the signaling client this manager needs.
type Signaler interface {
	AnnounceWatcher(roomID, name string) error
	SendSignal(roomID, viewerID string, signal json.RawMessage) error
}

// rejoinState is the watcher re-announce machine. Idle while a session is
// live or none is wanted, Scheduled while the single timer is pending,
// Active while an announce is in flight. At most one timer exists at a time.
type rejoinState int

const (
	rejoinIdle rejoinState = iota
	rejoinScheduled
	rejoinActive
)

// Manager holds at most one session. The session is created lazily when the
// broadcaster's first negotiation event arrives; until then incoming signals
// are what tell us a broadcaster exists at all.
type Manager struct {
	client  Signaler
	factory core.SessionFactory
	roomID  string
	name    string

	onTrack func(*webrtc.TrackRemote)

	mu      sync.Mutex
	sess    core.Session
	ctx     context.Context
	state   rejoinState
	attempt int
	timer   *time.Timer
	closed  bool
}

func NewManager(client Signaler, factory core.SessionFactory, roomID, name string, onTrack func(*webrtc.TrackRemote)) *Manager {
	return &Manager{
		client:  client,
		factory: factory,
		roomID:  roomID,
		name:    name,
		onTrack: onTrack,
	}
}

// Join announces this viewer to the room. The server answers with the room's
// mode and, if a broadcaster is live, the broadcaster starts offering.
func (m *Manager) Join(ctx context.Context) error {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
	return m.client.AnnounceWatcher(m.roomID, m.name)
}

// HandleSignal applies a negotiation event from the broadcaster, creating the
// answering session on the first one.
func (m *Manager) HandleSignal(data json.RawMessage) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	sess := m.sess
	ctx := m.ctx
	m.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if sess == nil {
		created, err := m.factory.NewSession(false, nil)
		if err != nil {
			log.Error().Err(err).Str("module", "peer.view").Msg("session create failed")
			m.scheduleRejoin()
			return
		}
		created.OnSignal(func(out json.RawMessage) {
			if err := m.client.SendSignal(m.roomID, "", out); err != nil {
				log.Warn().Err(err).Str("module", "peer.view").Msg("signal send dropped")
			}
		})
		if m.onTrack != nil {
			created.OnTrack(m.onTrack)
		}
		created.OnStateChange(func(st core.SessionState) {
			m.onState(created, st)
		})

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			created.Close()
			return
		}
		if m.sess != nil {
			// Lost a race with a concurrent signal; use the winner.
			sess = m.sess
			m.mu.Unlock()
			created.Close()
		} else {
			m.sess = created
			m.state = rejoinIdle
			m.mu.Unlock()
			if err := created.Start(ctx); err != nil {
				log.Error().Err(err).Str("module", "peer.view").Msg("session start failed")
				m.teardown(created)
				m.scheduleRejoin()
				return
			}
			sess = created
		}
	}

	if err := sess.Signal(data); err != nil {
		log.Warn().Err(err).Str("module", "peer.view").Msg("signal apply failed")
	}
}

// HandleDisconnectPeer tears the session down and schedules a rejoin. The
// broadcaster may be gone for good or just refreshing; we retry either way.
func (m *Manager) HandleDisconnectPeer() {
	m.mu.Lock()
	sess := m.sess
	m.sess = nil
	m.mu.Unlock()
	if sess != nil {
		sess.Close()
		log.Info().Str("module", "peer.view").Msg("broadcaster session closed")
	}
	m.scheduleRejoin()
}

// Close stops the manager. No further rejoin is attempted.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	sess := m.sess
	m.sess = nil
	m.mu.Unlock()
	if sess != nil {
		sess.Close()
	}
}

// teardown drops the session if it is still the registered one.
func (m *Manager) teardown(sess core.Session) {
	m.mu.Lock()
	if m.sess == sess {
		m.sess = nil
	}
	m.mu.Unlock()
	sess.Close()
}

// scheduleRejoin arms the single rejoin timer with exponentially capped
// delay. A timer already pending or an announce in flight wins; the state
// machine never stacks timers and never gives up.
func (m *Manager) scheduleRejoin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state != rejoinIdle {
		return
	}
	delay := rejoinBase << m.attempt
	if delay > rejoinMax {
		delay = rejoinMax
	}
	if m.attempt < 10 {
		m.attempt++
	}
	m.state = rejoinScheduled
	m.timer = time.AfterFunc(delay, m.rejoin)
	log.Info().Str("module", "peer.view").Dur("delay", delay).Int("attempt", m.attempt).Msg("rejoin scheduled")
}

func (m *Manager) rejoin() {
	m.mu.Lock()
	if m.closed || m.state != rejoinScheduled {
		m.mu.Unlock()
		return
	}
	m.state = rejoinActive
	m.timer = nil
	m.mu.Unlock()

	err := m.client.AnnounceWatcher(m.roomID, m.name)

	m.mu.Lock()
	if m.state == rejoinActive {
		m.state = rejoinIdle
	}
	m.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Str("module", "peer.view").Msg("rejoin announce failed")
		m.scheduleRejoin()
	}
}

// onState resets the backoff on success and recycles the session on failure.
// Callbacks from a session that was already replaced are ignored.
func (m *Manager) onState(sess core.Session, st core.SessionState) {
	m.mu.Lock()
	if m.closed || m.sess != sess {
		m.mu.Unlock()
		return
	}
	switch st {
	case core.SessionConnected:
		m.attempt = 0
		m.mu.Unlock()
		log.Info().Str("module", "peer.view").Msg("broadcaster connected")
	case core.SessionClosed:
		m.sess = nil
		m.mu.Unlock()
		m.scheduleRejoin()
	default:
		m.mu.Unlock()
	}
}
