package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/TumwekwaseAmiim/amiim-world/internal/core"
	"github.com/TumwekwaseAmiim/amiim-world/internal/domain"
)

// roomState is the registry's private per-room record. Viewer order is join
// order and is kept only for display.
type roomState struct {
	broadcasterID   core.ConnID
	broadcasterName string
	mode            domain.Mode
	viewers         []domain.Viewer
	feedback        *domain.FeedbackLog
}

func newRoomState() *roomState {
	return &roomState{
		mode:     domain.ModeSlides,
		feedback: domain.NewFeedbackLog(domain.FeedbackCapacity),
	}
}

func (r *roomState) viewerIndex(id core.ConnID) int {
	for i, v := range r.viewers {
		if v.ID == string(id) {
			return i
		}
	}
	return -1
}

func (r *roomState) empty() bool {
	return r.broadcasterID == "" && len(r.viewers) == 0
}

// Registry is the single source of truth for room membership and mode.
// Every operation is total over possibly-absent rooms: absence means lazy
// creation or a silent no-op, never an error, because a disconnect racing a
// join must not crash the server.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomState
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[domain.RoomID]*roomState)}
}

func (g *Registry) getOrCreate(roomID domain.RoomID) *roomState {
	room, ok := g.rooms[roomID]
	if !ok {
		room = newRoomState()
		g.rooms[roomID] = room
		log.Info().Str("module", "app.registry").Str("room", string(roomID)).Msg("room created")
	}
	return room
}

// RegisterBroadcaster overwrites any prior broadcaster identity. A stale
// prior connection is cleaned up by its own disconnect handler, not here.
func (g *Registry) RegisterBroadcaster(roomID domain.RoomID, id core.ConnID, name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room := g.getOrCreate(roomID)
	room.broadcasterID = id
	room.broadcasterName = name
	log.Info().Str("module", "app.registry").Str("room", string(roomID)).Str("conn", string(id)).Msg("broadcaster registered")
}

func (g *Registry) RegisterViewer(roomID domain.RoomID, id core.ConnID, name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room := g.getOrCreate(roomID)
	if i := room.viewerIndex(id); i >= 0 {
		room.viewers[i].Name = name
		return
	}
	room.viewers = append(room.viewers, domain.Viewer{ID: string(id), Name: name})
	log.Info().Str("module", "app.registry").Str("room", string(roomID)).Str("conn", string(id)).Msg("viewer registered")
}

func (g *Registry) RemoveViewer(roomID domain.RoomID, id core.ConnID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[roomID]
	if !ok {
		return
	}
	i := room.viewerIndex(id)
	if i < 0 {
		return
	}
	room.viewers = append(room.viewers[:i], room.viewers[i+1:]...)
	log.Info().Str("module", "app.registry").Str("room", string(roomID)).Str("conn", string(id)).Msg("viewer removed")
}

func (g *Registry) ClearBroadcaster(roomID domain.RoomID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if room, ok := g.rooms[roomID]; ok {
		room.broadcasterID = ""
		room.broadcasterName = ""
	}
}

func (g *Registry) DeleteRoom(roomID domain.RoomID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.rooms[roomID]; ok {
		delete(g.rooms, roomID)
		log.Info().Str("module", "app.registry").Str("room", string(roomID)).Msg("room deleted")
	}
}

// Broadcaster reports the room's current broadcaster, if any.
func (g *Registry) Broadcaster(roomID domain.RoomID) (core.ConnID, string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room, ok := g.rooms[roomID]
	if !ok || room.broadcasterID == "" {
		return "", "", false
	}
	return room.broadcasterID, room.broadcasterName, true
}

func (g *Registry) ViewerCount(roomID domain.RoomID) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if room, ok := g.rooms[roomID]; ok {
		return len(room.viewers)
	}
	return 0
}

// ViewerList returns viewers in join order.
func (g *Registry) ViewerList(roomID domain.RoomID) []domain.Viewer {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room, ok := g.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]domain.Viewer, len(room.viewers))
	copy(out, room.viewers)
	return out
}

func (g *Registry) HasViewer(roomID domain.RoomID, id core.ConnID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room, ok := g.rooms[roomID]
	return ok && room.viewerIndex(id) >= 0
}

func (g *Registry) CurrentMode(roomID domain.RoomID) domain.Mode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if room, ok := g.rooms[roomID]; ok {
		return room.mode
	}
	return domain.ModeSlides
}

// SetMode normalizes unknown modes to slides.
func (g *Registry) SetMode(roomID domain.RoomID, raw string) domain.Mode {
	g.mu.Lock()
	defer g.mu.Unlock()
	mode := domain.NormalizeMode(raw)
	g.getOrCreate(roomID).mode = mode
	return mode
}

func (g *Registry) AppendFeedback(roomID domain.RoomID, f domain.Feedback) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[roomID]
	if !ok {
		return
	}
	f.At = time.Now()
	room.feedback.Append(f)
}

func (g *Registry) FeedbackCount(roomID domain.RoomID) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if room, ok := g.rooms[roomID]; ok {
		return room.feedback.Len()
	}
	return 0
}

func (g *Registry) HasRoom(roomID domain.RoomID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.rooms[roomID]
	return ok
}

// RoomStatus is the read-only view served by the status endpoint.
type RoomStatus struct {
	RoomID          string          `json:"roomId"`
	BroadcasterID   string          `json:"broadcasterId,omitempty"`
	BroadcasterName string          `json:"broadcasterName,omitempty"`
	Mode            domain.Mode     `json:"mode"`
	Viewers         []domain.Viewer `json:"viewers"`
	FeedbackCount   int             `json:"feedbackCount"`
}

func (g *Registry) Snapshot() []RoomStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]RoomStatus, 0, len(g.rooms))
	for id, room := range g.rooms {
		viewers := make([]domain.Viewer, len(room.viewers))
		copy(viewers, room.viewers)
		out = append(out, RoomStatus{
			RoomID:          string(id),
			BroadcasterID:   string(room.broadcasterID),
			BroadcasterName: room.broadcasterName,
			Mode:            room.mode,
			Viewers:         viewers,
			FeedbackCount:   room.feedback.Len(),
		})
	}
	return out
}
