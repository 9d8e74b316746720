package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hetulpatel/crossmatch/internal/engine"
	"github.com/hetulpatel/crossmatch/internal/logging"
	"github.com/hetulpatel/crossmatch/internal/stream"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait).
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
)

const (
	commandArbitrage = "arb"
	commandCompare   = "compare"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// command is a client request on /ws/status.
type command struct {
	Type string `json:"type"`
	engine.Request
}

// conn serializes writes to one websocket and owns its in-flight run.
type conn struct {
	id string
	ws *websocket.Conn

	writeMu sync.Mutex

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (c *conn) write(f stream.Frame) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(f); err != nil {
		logging.Debugf("[ws] %s write error: %v", c.id, err)
	}
}

func (c *conn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}

// stop cancels the in-flight run, if any, and waits for its terminal frame.
func (c *conn) stop() {
	c.runMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// start supersedes any in-flight run with fn.
func (c *conn) start(ctx context.Context, fn func(ctx context.Context, g *stream.Guard)) {
	c.stop()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.runMu.Lock()
	c.cancel, c.done = cancel, done
	c.runMu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		fn(runCtx, stream.NewGuard(c.write))
	}()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnf("[ws] upgrade error: %v", err)
		return
	}
	c := &conn{id: uuid.NewString(), ws: ws}
	logging.Infof("[ws] %s connected", c.id)

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		c.stop()
		ws.Close()
		logging.Infof("[ws] %s disconnected", c.id)
	}()
	go c.keepalive(ctx)

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var cmd command
		if err := ws.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debugf("[ws] %s read error: %v", c.id, err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))
		s.dispatch(ctx, c, cmd)
	}
}

func (s *Server) dispatch(ctx context.Context, c *conn, cmd command) {
	req := cmd.Request
	switch cmd.Type {
	case commandArbitrage:
		logging.Infof("[ws] %s arb run (limit=%d min_profit=%.2f max_days=%d)", c.id, req.Limit, req.MinProfitCents, req.MaxDays)
		c.start(ctx, func(ctx context.Context, g *stream.Guard) {
			_, err := s.engine.Arbitrage(ctx, req, g)
			finish(g, err)
		})
	case commandCompare:
		logging.Infof("[ws] %s compare run (limit=%d)", c.id, req.Limit)
		c.start(ctx, func(ctx context.Context, g *stream.Guard) {
			_, err := s.engine.Compare(ctx, req, g)
			finish(g, err)
		})
	default:
		// Unknown commands supersede the in-flight run like any other.
		logging.Debugf("[ws] %s unknown command %q", c.id, cmd.Type)
		c.start(ctx, func(_ context.Context, g *stream.Guard) {
			g.Error("unknown command: " + cmd.Type)
		})
	}
}

// finish sends a terminal frame if the engine returned without one.
func finish(g *stream.Guard, err error) {
	if g.Finished() {
		return
	}
	if err != nil {
		g.Error(err.Error())
		return
	}
	g.Done(stream.Done{})
}

func (c *conn) keepalive(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
