// Package signal is the WebSocket edge: it upgrades connections, mints
// connection handles and pumps frames between the socket and the router.
package signal

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/peerlink/internal/app"
	"github.com/avolkov/peerlink/internal/config"
	"github.com/avolkov/peerlink/internal/core"
	"github.com/avolkov/peerlink/internal/domain"
)

type Controller struct {
	Router   *app.Router
	Cfg      *config.Config
	upgrader websocket.Upgrader
}

func NewController(cfg *config.Config, router *app.Router) *Controller {
	return &Controller{
		Router: router,
		Cfg:    cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowedOrigin == "*" {
					return true
				}
				return r.Header.Get("Origin") == cfg.AllowedOrigin
			},
		},
	}
}

// wsConn implements core.SignalConnection over one websocket.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
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

// Handle upgrades the request and starts the connection's pumps. The
// handle lives exactly as long as the socket; a reconnect gets a new one.
func (ctl *Controller) Handle(ctx context.Context, c *gin.Context) {
	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	id := domain.ClientID(uuid.NewString())
	log.Info().Str("module", "signal").Str("handle", string(id)).Msg("new WS connection")

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	ctl.Router.OnConnect(id, conn)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, id, conn)
}
