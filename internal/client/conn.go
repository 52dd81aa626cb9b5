// Package client is the client-side mirror of the signaling protocol:
// an emit-with-acknowledgement websocket and a session controller that
// drives the join state machine.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/signal"
)

var ErrConnClosed = errors.New("signaling connection closed")

// inbound covers both acks and server-initiated events.
type inbound struct {
	Type  string            `json:"type"`
	RID   string            `json:"rid,omitempty"`
	Data  json.RawMessage   `json:"data,omitempty"`
	Error *signal.WireError `json:"error,omitempty"`
}

// Conn is a request/response signaling channel. Every request gets a
// fresh rid; the matching ack is routed back to the caller. Events
// without a rid go to registered handlers.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan inbound

	handlersMu sync.RWMutex
	handlers   map[string]func(json.RawMessage)

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects with a defensive timeout on the handshake only;
// steady-state calls wait as long as the connection lives.
func Dial(ctx context.Context, url string, connectTimeout time.Duration) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: connectTimeout}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		ws:       ws,
		pending:  make(map[string]chan inbound),
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// On registers a handler for a server-initiated event. Handlers run on
// the read loop and must not block on further calls.
func (c *Conn) On(event string, fn func(json.RawMessage)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[event] = fn
}

func (c *Conn) readLoop() {
	defer c.Close()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			log.Info().Err(err).Str("module", "client").Msg("read loop stopped")
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad frame")
			continue
		}
		if msg.Type == signal.EvAck {
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.RID]
			delete(c.pending, msg.RID)
			c.pendingMu.Unlock()
			if ok {
				ch <- msg
			}
			continue
		}
		c.handlersMu.RLock()
		fn := c.handlers[msg.Type]
		c.handlersMu.RUnlock()
		if fn != nil {
			fn(msg.Data)
		}
	}
}

func (c *Conn) write(env signal.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

// Call sends a request and blocks until its ack arrives. A structured
// error in the ack comes back as a domain.SignalError.
func (c *Conn) Call(typ string, payload, out any) error {
	env := signal.Envelope{Type: typ, RID: uuid.NewString()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		env.Data = data
	}

	ch := make(chan inbound, 1)
	c.pendingMu.Lock()
	c.pending[env.RID] = ch
	c.pendingMu.Unlock()

	if err := c.write(env); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, env.RID)
		c.pendingMu.Unlock()
		return err
	}

	select {
	case ack := <-ch:
		if ack.Error != nil {
			return &domain.SignalError{Code: ack.Error.Code, Message: ack.Error.Message}
		}
		if out != nil && len(ack.Data) > 0 {
			return json.Unmarshal(ack.Data, out)
		}
		return nil
	case <-c.done:
		return ErrConnClosed
	}
}

// Notify sends a fire-and-forget event.
func (c *Conn) Notify(typ string, payload any) error {
	env := signal.Envelope{Type: typ}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		env.Data = data
	}
	return c.write(env)
}

func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
