package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/TumwekwaseAmiim/amiim-world/internal/app"
	"github.com/TumwekwaseAmiim/amiim-world/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

// WsSignalConn wraps one websocket with a buffered outbound queue. TrySend
// never blocks; a full queue drops the frame.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
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

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Controller owns the live connection set and feeds inbound frames to the
// router. It implements core.Transport for the router's outbound side.
type Controller struct {
	Router *app.Router

	mu         sync.RWMutex
	conns      map[core.ConnID]*WsSignalConn
	readLimit  int64
	pingPeriod time.Duration
}

func NewController(readLimit int64, pingPeriod time.Duration) *Controller {
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	return &Controller{
		conns:      make(map[core.ConnID]*WsSignalConn),
		readLimit:  readLimit,
		pingPeriod: pingPeriod,
	}
}

// SendTo marshals and queues v for one client. Best-effort: an unknown id or
// a saturated queue is a log line, nothing more.
func (ctl *Controller) SendTo(id core.ConnID, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("SendTo marshal")
		return
	}
	ctl.mu.RLock()
	conn, ok := ctl.conns[id]
	ctl.mu.RUnlock()
	if !ok {
		log.Debug().Str("module", "signal").Str("conn", string(id)).Msg("SendTo: no such connection")
		return
	}
	if err := conn.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("SendTo dropped")
	}
}

// HandleSignal upgrades the request and runs the connection's pumps. Each
// websocket gets a fresh connection id; the cookie token only correlates
// logs across reconnects.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	id := core.ConnID(uuid.NewString())
	log.Info().Str("module", "signal").Str("conn", string(id)).Str("sid", c.GetString("client_token")).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.readLimit > 0 {
		ws.SetReadLimit(ctl.readLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	ctl.mu.Lock()
	ctl.conns[id] = conn
	ctl.mu.Unlock()
	ctl.Router.HandleConnect(id)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, id, conn)
}

func (ctl *Controller) drop(id core.ConnID) {
	ctl.mu.Lock()
	delete(ctl.conns, id)
	ctl.mu.Unlock()
}
