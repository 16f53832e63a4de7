package core

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// SessionState tracks a point-to-point media session.
// Closed is terminal; Degraded may recover back to Connected.
type SessionState int

const (
	SessionNew SessionState = iota
	SessionConnecting
	SessionConnected
	SessionDegraded
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionNew:
		return "new"
	case SessionConnecting:
		return "connecting"
	case SessionConnected:
		return "connected"
	case SessionDegraded:
		return "degraded"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one negotiated media channel to a single peer. Negotiation
// payloads are opaque JSON relayed through the signaling server.
type Session interface {
	// Start binds callbacks and, on the offering side, kicks off negotiation.
	Start(ctx context.Context) error
	// Signal applies a remote negotiation event (offer/answer/candidate).
	Signal(data json.RawMessage) error
	// OnSignal sets the sink for locally produced negotiation events.
	OnSignal(func(data json.RawMessage))
	// OnTrack sets a callback for inbound remote media.
	OnTrack(func(track *webrtc.TrackRemote))
	// OnStateChange sets a callback for connection-state transitions.
	OnStateChange(func(SessionState))
	// ReplaceSource substitutes outgoing tracks in place, without renegotiation.
	ReplaceSource(src MediaSource) error
	// RestartICE attempts an in-place negotiation restart (offering side only).
	RestartICE() error
	Close()
}

// SessionFactory hides the transport stack from the session managers.
type SessionFactory interface {
	NewSession(initiator bool, src MediaSource) (Session, error)
}
