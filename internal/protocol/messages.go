// Package protocol is the wire contract between clients and the signaling
// server. Every frame is a JSON object whose "type" field selects the shape.
package protocol

import "encoding/json"

const (
	TypeBroadcaster    = "broadcaster"
	TypeWatcher        = "watcher"
	TypeSignal         = "signal"
	TypeChat           = "chat"
	TypeEmoji          = "emoji"
	TypeRaiseHand      = "raise-hand"
	TypeGrantMic       = "grant-mic"
	TypeKickViewer     = "kick-viewer"
	TypeStreamMode     = "stream-mode"
	TypeFeedback       = "clientFeedback"
	TypeViewerCount    = "viewer-count"
	TypeViewerList     = "viewer-list"
	TypeDisconnectPeer = "disconnectPeer"
	TypeWelcome        = "welcome"
)

// Envelope is decoded first to pick a handler; the full payload is then
// decoded into the concrete struct.
type Envelope struct {
	Type string `json:"type"`
}

// BroadcasterJoin announces the broadcaster of a room. Client to server.
type BroadcasterJoin struct {
	Type            string `json:"type"`
	RoomID          string `json:"roomId"`
	BroadcasterName string `json:"broadcasterName"`
}

// WatcherJoin announces a viewer. Client to server.
type WatcherJoin struct {
	Type       string `json:"type"`
	RoomID     string `json:"roomId"`
	ViewerName string `json:"viewerName"`
}

// WatcherNotice tells the broadcaster a viewer arrived. Server to broadcaster.
type WatcherNotice struct {
	Type       string `json:"type"`
	ViewerID   string `json:"viewerId"`
	ViewerName string `json:"viewerName"`
}

// SignalRelay carries an opaque negotiation event. ViewerID names the viewer
// end of the pair in both directions; a viewer sending upstream omits it and
// the server infers the room's broadcaster.
type SignalRelay struct {
	Type     string          `json:"type"`
	RoomID   string          `json:"roomId,omitempty"`
	ViewerID string          `json:"viewerId,omitempty"`
	Signal   json.RawMessage `json:"signal"`
}

type Chat struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId,omitempty"`
	Sender string `json:"sender"`
	Msg    string `json:"msg"`
}

type Emoji struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId,omitempty"`
	Sender string `json:"sender"`
	Emoji  string `json:"emoji"`
}

type RaiseHand struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId,omitempty"`
	Sender string `json:"sender"`
}

// GrantMic and KickViewer are broadcaster-only requests; relayed to the
// viewer with ViewerID cleared.
type GrantMic struct {
	Type     string `json:"type"`
	ViewerID string `json:"viewerId,omitempty"`
}

type KickViewer struct {
	Type     string `json:"type"`
	ViewerID string `json:"viewerId,omitempty"`
}

type StreamMode struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId,omitempty"`
	Mode   string `json:"mode"`
}

// Feedback is appended to the room's bounded log and forwarded to the
// broadcaster with From filled in.
type Feedback struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	Env         string `json:"env,omitempty"`
	LastConsole string `json:"lastConsole,omitempty"`
	From        string `json:"from,omitempty"`
}

type ViewerCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type ViewerEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ViewerList struct {
	Type    string        `json:"type"`
	Viewers []ViewerEntry `json:"viewers"`
}

// DisconnectPeer signals session teardown for the named peer.
type DisconnectPeer struct {
	Type   string `json:"type"`
	PeerID string `json:"peerId"`
}

// Welcome greets a joining viewer with the room's current mode.
type Welcome struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Mode    string `json:"mode"`
}
