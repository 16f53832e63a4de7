package app

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/TumwekwaseAmiim/amiim-world/internal/core"
	"github.com/TumwekwaseAmiim/amiim-world/internal/domain"
	"github.com/TumwekwaseAmiim/amiim-world/internal/protocol"
)

// Role is the per-connection state machine: Unjoined until the first
// broadcaster/watcher event, then fixed for the connection's lifetime.
type Role int

const (
	RoleUnjoined Role = iota
	RoleBroadcaster
	RoleViewer
)

func (r Role) String() string {
	switch r {
	case RoleBroadcaster:
		return "broadcaster"
	case RoleViewer:
		return "viewer"
	default:
		return "unjoined"
	}
}

type clientState struct {
	role Role
	room domain.RoomID
	name string
}

type handlerFunc func(r *Router, id core.ConnID, data []byte)

// Router validates and forwards signaling between registry state and the
// transport. It is the only component that reads a client's declared role.
// A malformed or unauthorized message is dropped with a log line; it never
// reaches another client and never crashes the dispatch loop.
type Router struct {
	mu       sync.Mutex
	reg      *Registry
	tx       core.Transport
	clients  map[core.ConnID]*clientState
	handlers map[string]handlerFunc
	limiter  *SenderRateLimiter
}

func NewRouter(reg *Registry, tx core.Transport) *Router {
	r := &Router{
		reg:     reg,
		tx:      tx,
		clients: make(map[core.ConnID]*clientState),
		limiter: NewSenderRateLimiter(20, 10*time.Second),
	}
	r.handlers = map[string]handlerFunc{
		protocol.TypeBroadcaster: (*Router).handleBroadcaster,
		protocol.TypeWatcher:     (*Router).handleWatcher,
		protocol.TypeSignal:      (*Router).handleSignal,
		protocol.TypeChat:        (*Router).handleChat,
		protocol.TypeEmoji:       (*Router).handleEmoji,
		protocol.TypeRaiseHand:   (*Router).handleRaiseHand,
		protocol.TypeGrantMic:    (*Router).handleGrantMic,
		protocol.TypeKickViewer:  (*Router).handleKickViewer,
		protocol.TypeStreamMode:  (*Router).handleStreamMode,
		protocol.TypeFeedback:    (*Router).handleFeedback,
	}
	return r
}

// HandleConnect registers a fresh, unjoined connection.
func (r *Router) HandleConnect(id core.ConnID) {
	r.mu.Lock()
	r.clients[id] = &clientState{role: RoleUnjoined}
	r.mu.Unlock()
	log.Info().Str("module", "app.router").Str("conn", string(id)).Msg("client connected")
}

// HandleMessage dispatches one inbound frame to completion.
func (r *Router) HandleMessage(id core.ConnID, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "app.router").Str("conn", string(id)).Msg("bad json")
		return
	}
	h, ok := r.handlers[env.Type]
	if !ok {
		log.Warn().Str("module", "app.router").Str("conn", string(id)).Str("type", env.Type).Msg("unknown event")
		return
	}
	h(r, id, data)
}

func (r *Router) state(id core.ConnID) (clientState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.clients[id]
	if !ok {
		return clientState{}, false
	}
	return *st, true
}

// assume fixes the role on first join; repeated joins with the same role and
// room are re-announcements (the viewer reconnect path depends on them), a
// conflicting role or room switch is refused.
func (r *Router) assume(id core.ConnID, role Role, room domain.RoomID, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.clients[id]
	if !ok {
		return false
	}
	if st.role == RoleUnjoined {
		st.role = role
		st.room = room
		st.name = name
		return true
	}
	if st.role != role || st.room != room {
		return false
	}
	st.name = name
	return true
}

func (r *Router) handleBroadcaster(id core.ConnID, data []byte) {
	var p protocol.BroadcasterJoin
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "app.router").Msg("bad broadcaster payload")
		return
	}
	roomID, err := domain.ValidRoomID(p.RoomID)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.router").Str("conn", string(id)).Msg("broadcaster join rejected")
		return
	}
	name := domain.CleanDisplayName(p.BroadcasterName)
	if !r.assume(id, RoleBroadcaster, roomID, name) {
		log.Warn().Str("module", "app.router").Str("conn", string(id)).Msg("broadcaster join refused: role already set")
		return
	}
	r.reg.RegisterBroadcaster(roomID, id, name)

	// Sync the broadcaster with viewers that joined before it.
	r.broadcastRoom(roomID, protocol.ViewerCount{Type: protocol.TypeViewerCount, Count: r.reg.ViewerCount(roomID)}, "")
	r.broadcastRoom(roomID, r.viewerListMsg(roomID), "")
	r.broadcastRoom(roomID, protocol.StreamMode{Type: protocol.TypeStreamMode, Mode: string(r.reg.CurrentMode(roomID))}, "")
}

func (r *Router) handleWatcher(id core.ConnID, data []byte) {
	var p protocol.WatcherJoin
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "app.router").Msg("bad watcher payload")
		return
	}
	roomID, err := domain.ValidRoomID(p.RoomID)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.router").Str("conn", string(id)).Msg("watcher join rejected")
		return
	}
	name := domain.CleanDisplayName(p.ViewerName)
	if !r.assume(id, RoleViewer, roomID, name) {
		log.Warn().Str("module", "app.router").Str("conn", string(id)).Msg("watcher join refused: role already set")
		return
	}
	r.reg.RegisterViewer(roomID, id, name)

	if bid, _, ok := r.reg.Broadcaster(roomID); ok {
		r.tx.SendTo(bid, protocol.WatcherNotice{Type: protocol.TypeWatcher, ViewerID: string(id), ViewerName: name})
	}
	r.tx.SendTo(id, protocol.StreamMode{Type: protocol.TypeStreamMode, Mode: string(r.reg.CurrentMode(roomID))})
	r.tx.SendTo(id, protocol.Welcome{
		Type:    protocol.TypeWelcome,
		Message: "welcome to the broadcast",
		Mode:    string(r.reg.CurrentMode(roomID)),
	})
	r.broadcastRoom(roomID, protocol.ViewerCount{Type: protocol.TypeViewerCount, Count: r.reg.ViewerCount(roomID)}, "")
	r.broadcastRoom(roomID, r.viewerListMsg(roomID), "")
}

// handleSignal relays opaque negotiation payloads between exactly one
// broadcaster/viewer pair. Anything that fails the permission rule is
// dropped silently so a spoofed target cannot leak across rooms.
func (r *Router) handleSignal(id core.ConnID, data []byte) {
	var p protocol.SignalRelay
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "app.router").Msg("bad signal payload")
		return
	}
	st, ok := r.state(id)
	if !ok {
		return
	}
	switch st.role {
	case RoleBroadcaster:
		if p.ViewerID == "" {
			return
		}
		target := core.ConnID(p.ViewerID)
		if !r.reg.HasViewer(st.room, target) {
			log.Warn().Str("module", "app.router").Str("conn", string(id)).Str("target", p.ViewerID).Msg("signal to unknown viewer dropped")
			return
		}
		r.tx.SendTo(target, protocol.SignalRelay{Type: protocol.TypeSignal, ViewerID: p.ViewerID, Signal: p.Signal})
	case RoleViewer:
		// Target inferred as the room's broadcaster; a stale or absent
		// broadcaster means a silent drop, never an error.
		if !r.reg.HasViewer(st.room, id) {
			return
		}
		bid, _, ok := r.reg.Broadcaster(st.room)
		if !ok {
			log.Debug().Str("module", "app.router").Str("conn", string(id)).Msg("signal with no broadcaster dropped")
			return
		}
		r.tx.SendTo(bid, protocol.SignalRelay{Type: protocol.TypeSignal, ViewerID: string(id), Signal: p.Signal})
	default:
		log.Warn().Str("module", "app.router").Str("conn", string(id)).Msg("signal from unjoined client dropped")
	}
}

// member returns the sender's room when it is a current member addressing its
// own room.
func (r *Router) member(id core.ConnID, claimedRoom string) (domain.RoomID, bool) {
	st, ok := r.state(id)
	if !ok || st.role == RoleUnjoined {
		return "", false
	}
	if claimedRoom != "" && domain.RoomID(claimedRoom) != st.room {
		log.Warn().Str("module", "app.router").Str("conn", string(id)).Str("claimed", claimedRoom).Msg("cross-room message dropped")
		return "", false
	}
	return st.room, true
}

func (r *Router) handleChat(id core.ConnID, data []byte) {
	var p protocol.Chat
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	room, ok := r.member(id, p.RoomID)
	if !ok || !r.limiter.Allow(id) {
		return
	}
	// Excluding the sender is deliberate: the sender renders its own echo
	// locally, so echoing back would double the line.
	r.broadcastRoom(room, protocol.Chat{Type: protocol.TypeChat, Sender: p.Sender, Msg: p.Msg}, id)
}

func (r *Router) handleEmoji(id core.ConnID, data []byte) {
	var p protocol.Emoji
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	room, ok := r.member(id, p.RoomID)
	if !ok || !r.limiter.Allow(id) {
		return
	}
	r.broadcastRoom(room, protocol.Emoji{Type: protocol.TypeEmoji, Sender: p.Sender, Emoji: p.Emoji}, id)
}

func (r *Router) handleRaiseHand(id core.ConnID, data []byte) {
	var p protocol.RaiseHand
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	room, ok := r.member(id, p.RoomID)
	if !ok {
		return
	}
	r.broadcastRoom(room, protocol.RaiseHand{Type: protocol.TypeRaiseHand, Sender: p.Sender}, id)
}

// roomViewer authorizes broadcaster-only moderation of a viewer in its room.
func (r *Router) roomViewer(id core.ConnID, viewerID string) (domain.RoomID, core.ConnID, bool) {
	st, ok := r.state(id)
	if !ok || st.role != RoleBroadcaster || viewerID == "" {
		return "", "", false
	}
	target := core.ConnID(viewerID)
	if !r.reg.HasViewer(st.room, target) {
		return "", "", false
	}
	return st.room, target, true
}

func (r *Router) handleGrantMic(id core.ConnID, data []byte) {
	var p protocol.GrantMic
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if _, target, ok := r.roomViewer(id, p.ViewerID); ok {
		r.tx.SendTo(target, protocol.GrantMic{Type: protocol.TypeGrantMic})
	}
}

func (r *Router) handleKickViewer(id core.ConnID, data []byte) {
	var p protocol.KickViewer
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	room, target, ok := r.roomViewer(id, p.ViewerID)
	if !ok {
		return
	}
	r.tx.SendTo(target, protocol.KickViewer{Type: protocol.TypeKickViewer})
	r.reg.RemoveViewer(room, target)
	// The broadcaster tears down that viewer's session on this notice.
	r.tx.SendTo(id, protocol.DisconnectPeer{Type: protocol.TypeDisconnectPeer, PeerID: string(target)})
	r.broadcastRoom(room, protocol.ViewerCount{Type: protocol.TypeViewerCount, Count: r.reg.ViewerCount(room)}, "")
	r.broadcastRoom(room, r.viewerListMsg(room), "")
	log.Info().Str("module", "app.router").Str("room", string(room)).Str("viewer", string(target)).Msg("viewer kicked")
}

func (r *Router) handleStreamMode(id core.ConnID, data []byte) {
	var p protocol.StreamMode
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	st, ok := r.state(id)
	if !ok || st.role != RoleBroadcaster {
		log.Warn().Str("module", "app.router").Str("conn", string(id)).Msg("stream-mode from non-broadcaster dropped")
		return
	}
	mode := r.reg.SetMode(st.room, p.Mode)
	r.broadcastRoom(st.room, protocol.StreamMode{Type: protocol.TypeStreamMode, Mode: string(mode)}, "")
}

func (r *Router) handleFeedback(id core.ConnID, data []byte) {
	var p protocol.Feedback
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	st, ok := r.state(id)
	if !ok || st.role == RoleUnjoined {
		return
	}
	r.reg.AppendFeedback(st.room, domain.Feedback{
		From:        string(id),
		Text:        p.Text,
		Env:         p.Env,
		LastConsole: p.LastConsole,
	})
	if bid, _, ok := r.reg.Broadcaster(st.room); ok && bid != id {
		r.tx.SendTo(bid, protocol.Feedback{
			Type:        protocol.TypeFeedback,
			Text:        p.Text,
			Env:         p.Env,
			LastConsole: p.LastConsole,
			From:        string(id),
		})
	}
}

// HandleDisconnect finalizes a connection. A broadcaster going away tears the
// room down after notifying every viewer individually; a viewer going away
// notifies the broadcaster and updates the counts.
func (r *Router) HandleDisconnect(id core.ConnID) {
	r.mu.Lock()
	st, ok := r.clients[id]
	if ok {
		delete(r.clients, id)
	}
	r.mu.Unlock()
	r.limiter.Forget(id)
	if !ok {
		return
	}

	switch st.role {
	case RoleBroadcaster:
		bid, _, registered := r.reg.Broadcaster(st.room)
		if registered && bid != id {
			// A newer broadcaster connection already replaced this one;
			// leave its room alone.
			return
		}
		for _, v := range r.reg.ViewerList(st.room) {
			r.tx.SendTo(core.ConnID(v.ID), protocol.DisconnectPeer{Type: protocol.TypeDisconnectPeer, PeerID: string(id)})
		}
		r.reg.DeleteRoom(st.room)
		log.Info().Str("module", "app.router").Str("room", string(st.room)).Str("conn", string(id)).Msg("broadcaster disconnected, room closed")
	case RoleViewer:
		r.reg.RemoveViewer(st.room, id)
		if bid, _, ok := r.reg.Broadcaster(st.room); ok {
			r.tx.SendTo(bid, protocol.DisconnectPeer{Type: protocol.TypeDisconnectPeer, PeerID: string(id)})
		}
		r.broadcastRoom(st.room, protocol.ViewerCount{Type: protocol.TypeViewerCount, Count: r.reg.ViewerCount(st.room)}, "")
		r.broadcastRoom(st.room, r.viewerListMsg(st.room), "")
		log.Info().Str("module", "app.router").Str("room", string(st.room)).Str("conn", string(id)).Msg("viewer disconnected")
	default:
		log.Info().Str("module", "app.router").Str("conn", string(id)).Msg("unjoined client disconnected")
	}
}

func (r *Router) viewerListMsg(roomID domain.RoomID) protocol.ViewerList {
	viewers := r.reg.ViewerList(roomID)
	entries := make([]protocol.ViewerEntry, 0, len(viewers))
	for _, v := range viewers {
		entries = append(entries, protocol.ViewerEntry{ID: v.ID, Name: v.Name})
	}
	return protocol.ViewerList{Type: protocol.TypeViewerList, Viewers: entries}
}

// broadcastRoom fans out to the room's broadcaster and every viewer, skipping
// except when non-empty. Fire-and-forget, no acknowledgment.
func (r *Router) broadcastRoom(roomID domain.RoomID, v any, except core.ConnID) {
	if bid, _, ok := r.reg.Broadcaster(roomID); ok && bid != except {
		r.tx.SendTo(bid, v)
	}
	for _, viewer := range r.reg.ViewerList(roomID) {
		if core.ConnID(viewer.ID) == except {
			continue
		}
		r.tx.SendTo(core.ConnID(viewer.ID), v)
	}
}
