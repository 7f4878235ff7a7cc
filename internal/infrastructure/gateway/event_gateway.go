// Package gateway accepts membership events from the platform bridge over a
// WebSocket and feeds them to the event router.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"tempvoice/internal/core/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventSink takes ownership of an event. Returning means the event is queued, not
// necessarily applied.
type EventSink interface {
	Submit(ctx context.Context, ev domain.MembershipEvent) error
}

// EventFrame is one inbound voice-state change.
type EventFrame struct {
	Seq           int64            `json:"seq,omitempty"`
	UserID        domain.UserID    `json:"user_id"`
	ChannelBefore domain.ChannelID `json:"channel_before,omitempty"`
	ChannelAfter  domain.ChannelID `json:"channel_after,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// Reply acknowledges or rejects a frame.
type Reply struct {
	Type  string `json:"type"`
	Seq   int64  `json:"seq,omitempty"`
	Error string `json:"error,omitempty"`
}

type Config struct {
	AllowedOrigins []string
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

type EventGateway struct {
	sink     EventSink
	cfg      Config
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewEventGateway(sink EventSink, cfg Config, logger *zap.SugaredLogger) *EventGateway {
	g := &EventGateway{
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		conns:  make(map[*websocket.Conn]struct{}),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *EventGateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range g.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// HandleWebSocket serves one bridge connection. Authentication happens in front of it.
func (g *EventGateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}
	if !g.track(conn) {
		conn.Close()
		return
	}
	defer g.untrack(conn)

	remote := r.RemoteAddr
	g.logger.Infow("bridge connected", "remote", remote)

	conn.SetReadDeadline(time.Now().Add(g.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(g.cfg.ReadTimeout))
	})

	frames := make(chan EventFrame, 16)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(frames)
		for {
			var f EventFrame
			if err := conn.ReadJSON(&f); err != nil {
				readErr <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(g.cfg.ReadTimeout))
			select {
			case frames <- f:
			case <-done:
				return
			}
		}
	}()

	ping := time.NewTicker(g.cfg.PingInterval)
	defer ping.Stop()

	// Only this loop writes to conn.
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				err := <-readErr
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					g.logger.Infow("bridge read failed", "remote", remote, "error", err)
				}
				g.logger.Infow("bridge disconnected", "remote", remote)
				return
			}
			if err := g.write(conn, g.handleFrame(r.Context(), f)); err != nil {
				g.logger.Infow("bridge write failed", "remote", remote, "error", err)
				return
			}

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				g.logger.Infow("bridge ping failed", "remote", remote, "error", err)
				return
			}
		}
	}
}

func (g *EventGateway) handleFrame(ctx context.Context, f EventFrame) Reply {
	ev := domain.MembershipEvent{
		UserID:    f.UserID,
		Before:    f.ChannelBefore,
		After:     f.ChannelAfter,
		Timestamp: f.Timestamp,
	}
	// The router outlives the connection: a queued event must not be cancelled when the
	// bridge hangs up.
	if err := g.sink.Submit(context.WithoutCancel(ctx), ev); err != nil {
		return Reply{Type: "error", Seq: f.Seq, Error: err.Error()}
	}
	return Reply{Type: "ack", Seq: f.Seq}
}

func (g *EventGateway) write(conn *websocket.Conn, reply Reply) error {
	conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
	return conn.WriteJSON(reply)
}

func (g *EventGateway) track(conn *websocket.Conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.conns[conn] = struct{}{}
	g.wg.Add(1)
	return true
}

func (g *EventGateway) untrack(conn *websocket.Conn) {
	g.mu.Lock()
	delete(g.conns, conn)
	g.mu.Unlock()
	conn.Close()
	g.wg.Done()
}

// Connections reports how many bridges are connected.
func (g *EventGateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Close refuses new connections, asks connected bridges to go away and waits for
// their handlers to finish.
func (g *EventGateway) Close() {
	g.mu.Lock()
	g.closed = true
	for conn := range g.conns {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
	}
	g.mu.Unlock()
	g.wg.Wait()
}
