package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Registry *core.Registry
	Limiter  *RateLimiter

	readLimit int64
}

func NewController(reg *core.Registry, cfg *config.Config) *Controller {
	return &Controller{
		Registry:  reg,
		Limiter:   NewRateLimiter(cfg.ChatRateLimit, cfg.ChatRateWindow),
		readLimit: cfg.ReadLimit,
	}
}

// session is per-connection state. The connection id doubles as the
// peer id; room is nil until join succeeds.
type session struct {
	id   domain.PeerID
	conn *wsConn

	mu   sync.Mutex
	room *core.Room
	name string
}

func (s *session) currentRoom() *core.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

func (s *session) joinedRoom(room *core.Room, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = room
	s.name = name
}

func (s *session) takeRoom() *core.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.room
	s.room = nil
	return room
}

func (s *session) displayName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

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
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
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

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	// The cookie token identifies the browser; the peer id must be
	// unique per live connection, or two tabs would share one peer and
	// each leave would evict both.
	sid := domain.PeerID(uuid.NewString())
	log.Info().Str("module", "signal").Str("peer", string(sid)).Str("client", c.GetString("client_token")).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.readLimit > 0 {
		ws.SetReadLimit(ctl.readLimit)
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	sess := &session{id: sid, conn: conn}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, sess)
	}()
}

// broadcast fans an event out to every room member except from.
func (ctl *Controller) broadcast(room *core.Room, from domain.PeerID, typ string, payload any) {
	frame, err := EncodeEvent(typ, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("type", typ).Msg("encode event")
		return
	}
	res := room.Broadcast(from, frame)
	if len(res.Dropped) > 0 {
		log.Warn().Str("module", "signal").Str("type", typ).Int("dropped", len(res.Dropped)).Msg("slow receivers dropped event")
	}
}

func (ctl *Controller) sendEvent(room *core.Room, to domain.PeerID, typ string, payload any) {
	frame, err := EncodeEvent(typ, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("type", typ).Msg("encode event")
		return
	}
	if err := room.SendTo(to, frame); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("type", typ).Str("peer", string(to)).Msg("send event")
	}
}
