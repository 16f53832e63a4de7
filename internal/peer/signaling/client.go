// Package signaling is the client end of the wire contract: one websocket to
// the relay server, typed send helpers, and callback dispatch by event type.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/TumwekwaseAmiim/amiim-world/internal/protocol"
)

var ErrBackpressure = errors.New("backpressure")

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Handlers holds the application callbacks. Nil fields are skipped. All
// callbacks run on the read loop goroutine; handlers must not block.
type Handlers struct {
	OnWatcher        func(viewerID, viewerName string)
	OnSignal         func(viewerID string, signal json.RawMessage)
	OnDisconnectPeer func(peerID string)
	OnViewerCount    func(count int)
	OnViewerList     func(viewers []protocol.ViewerEntry)
	OnStreamMode     func(mode string)
	OnChat           func(sender, msg string)
	OnEmoji          func(sender, emoji string)
	OnRaiseHand      func(sender string)
	OnGrantMic       func()
	OnKickViewer     func()
	OnWelcome        func(message, mode string)
	OnFeedback       func(from, text string)
	OnClosed         func(err error)
}

type Client struct {
	conn     *websocket.Conn
	ctx      context.Context
	send     chan []byte
	handlers Handlers

	mu     sync.Mutex
	closed bool
}

// Dial connects to the server's signaling endpoint, e.g.
// ws://host:8080/api/ws/signal. Outbound sends work immediately; inbound
// frames sit in the socket until Start attaches the handlers, so the
// application can finish wiring itself up before the first callback fires.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn: conn,
		ctx:  ctx,
		send: make(chan []byte, 32),
	}
	go c.writePump(ctx)
	return c, nil
}

// Start attaches the callbacks and begins dispatching inbound frames. Call
// it exactly once.
func (c *Client) Start(handlers Handlers) {
	c.handlers = handlers
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.readPump(c.ctx)
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *Client) trySend(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("client closed")
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Client) AnnounceBroadcaster(roomID, name string) error {
	return c.trySend(protocol.BroadcasterJoin{Type: protocol.TypeBroadcaster, RoomID: roomID, BroadcasterName: name})
}

func (c *Client) AnnounceWatcher(roomID, name string) error {
	return c.trySend(protocol.WatcherJoin{Type: protocol.TypeWatcher, RoomID: roomID, ViewerName: name})
}

// SendSignal relays a negotiation event. viewerID targets one viewer
// (broadcaster side); empty means "to my room's broadcaster" (viewer side).
func (c *Client) SendSignal(roomID, viewerID string, signal json.RawMessage) error {
	return c.trySend(protocol.SignalRelay{Type: protocol.TypeSignal, RoomID: roomID, ViewerID: viewerID, Signal: signal})
}

func (c *Client) SendChat(roomID, sender, msg string) error {
	return c.trySend(protocol.Chat{Type: protocol.TypeChat, RoomID: roomID, Sender: sender, Msg: msg})
}

func (c *Client) SendEmoji(roomID, sender, emoji string) error {
	return c.trySend(protocol.Emoji{Type: protocol.TypeEmoji, RoomID: roomID, Sender: sender, Emoji: emoji})
}

func (c *Client) RaiseHand(roomID, sender string) error {
	return c.trySend(protocol.RaiseHand{Type: protocol.TypeRaiseHand, RoomID: roomID, Sender: sender})
}

func (c *Client) GrantMic(viewerID string) error {
	return c.trySend(protocol.GrantMic{Type: protocol.TypeGrantMic, ViewerID: viewerID})
}

func (c *Client) KickViewer(viewerID string) error {
	return c.trySend(protocol.KickViewer{Type: protocol.TypeKickViewer, ViewerID: viewerID})
}

func (c *Client) SetStreamMode(roomID, mode string) error {
	return c.trySend(protocol.StreamMode{Type: protocol.TypeStreamMode, RoomID: roomID, Mode: mode})
}

func (c *Client) SendFeedback(text, env, lastConsole string) error {
	return c.trySend(protocol.Feedback{Type: protocol.TypeFeedback, Text: text, Env: env, LastConsole: lastConsole})
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "peer.signaling").Msg("write error")
				return
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context) {
	var readErr error
	defer func() {
		c.Close()
		if c.handlers.OnClosed != nil {
			c.handlers.OnClosed(readErr)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				readErr = err
				log.Error().Err(err).Str("module", "peer.signaling").Msg("read error")
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "peer.signaling").Msg("bad frame")
		return
	}

	switch env.Type {
	case protocol.TypeWatcher:
		var p protocol.WatcherNotice
		if json.Unmarshal(data, &p) == nil && c.handlers.OnWatcher != nil {
			c.handlers.OnWatcher(p.ViewerID, p.ViewerName)
		}
	case protocol.TypeSignal:
		var p protocol.SignalRelay
		if json.Unmarshal(data, &p) == nil && c.handlers.OnSignal != nil {
			c.handlers.OnSignal(p.ViewerID, p.Signal)
		}
	case protocol.TypeDisconnectPeer:
		var p protocol.DisconnectPeer
		if json.Unmarshal(data, &p) == nil && c.handlers.OnDisconnectPeer != nil {
			c.handlers.OnDisconnectPeer(p.PeerID)
		}
	case protocol.TypeViewerCount:
		var p protocol.ViewerCount
		if json.Unmarshal(data, &p) == nil && c.handlers.OnViewerCount != nil {
			c.handlers.OnViewerCount(p.Count)
		}
	case protocol.TypeViewerList:
		var p protocol.ViewerList
		if json.Unmarshal(data, &p) == nil && c.handlers.OnViewerList != nil {
			c.handlers.OnViewerList(p.Viewers)
		}
	case protocol.TypeStreamMode:
		var p protocol.StreamMode
		if json.Unmarshal(data, &p) == nil && c.handlers.OnStreamMode != nil {
			c.handlers.OnStreamMode(p.Mode)
		}
	case protocol.TypeChat:
		var p protocol.Chat
		if json.Unmarshal(data, &p) == nil && c.handlers.OnChat != nil {
			c.handlers.OnChat(p.Sender, p.Msg)
		}
	case protocol.TypeEmoji:
		var p protocol.Emoji
		if json.Unmarshal(data, &p) == nil && c.handlers.OnEmoji != nil {
			c.handlers.OnEmoji(p.Sender, p.Emoji)
		}
	case protocol.TypeRaiseHand:
		var p protocol.RaiseHand
		if json.Unmarshal(data, &p) == nil && c.handlers.OnRaiseHand != nil {
			c.handlers.OnRaiseHand(p.Sender)
		}
	case protocol.TypeGrantMic:
		if c.handlers.OnGrantMic != nil {
			c.handlers.OnGrantMic()
		}
	case protocol.TypeKickViewer:
		if c.handlers.OnKickViewer != nil {
			c.handlers.OnKickViewer()
		}
	case protocol.TypeWelcome:
		var p protocol.Welcome
		if json.Unmarshal(data, &p) == nil && c.handlers.OnWelcome != nil {
			c.handlers.OnWelcome(p.Message, p.Mode)
		}
	case protocol.TypeFeedback:
		var p protocol.Feedback
		if json.Unmarshal(data, &p) == nil && c.handlers.OnFeedback != nil {
			c.handlers.OnFeedback(p.From, p.Text)
		}
	default:
		log.Warn().Str("module", "peer.signaling").Str("type", env.Type).Msg("unknown frame")
	}
}
