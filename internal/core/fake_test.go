package core

import (
	"fmt"
	"sync"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/engine"
)

// fakeEngine records every handle it hands out and every Close call, so
// tests can assert teardown order and idempotence.
type fakeEngine struct {
	mu      sync.Mutex
	routers []*fakeRouter
	seq     int
}

func (e *fakeEngine) CreateRouter(roomID domain.RoomID) (engine.Router, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := &fakeRouter{eng: e, room: roomID}
	e.routers = append(e.routers, r)
	return r, nil
}

func (e *fakeEngine) nextID(prefix string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	return fmt.Sprintf("%s-%d", prefix, e.seq)
}

type fakeRouter struct {
	eng  *fakeEngine
	room domain.RoomID

	mu     sync.Mutex
	closed int
	log    []string
}

func (r *fakeRouter) record(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, ev)
}

func (r *fakeRouter) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

func (r *fakeRouter) Capabilities() engine.Capabilities {
	return engine.Capabilities{Codecs: []engine.CodecCapability{
		{MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{MimeType: "video/VP8", ClockRate: 90000},
	}}
}

func (r *fakeRouter) CreateTransport(peerID domain.PeerID, dir domain.TransportDirection) (engine.Transport, error) {
	return &fakeTransport{router: r, id: r.eng.nextID("tr"), dir: dir}, nil
}

func (r *fakeRouter) CreateProducer(transportID string, kind domain.MediaKind, params engine.ProduceParams) (engine.Producer, error) {
	return &fakeProducer{router: r, id: r.eng.nextID("prod"), kind: kind}, nil
}

func (r *fakeRouter) CreateConsumer(transportID, producerID string, caps engine.Capabilities) (engine.Consumer, error) {
	return &fakeConsumer{router: r, id: r.eng.nextID("cons"), producerID: producerID, kind: domain.KindAudio}, nil
}

func (r *fakeRouter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
}

type fakeTransport struct {
	router    *fakeRouter
	id        string
	dir       domain.TransportDirection
	connected bool
	onICE     func(engine.ICECandidate)
}

func (t *fakeTransport) ID() string                           { return t.id }
func (t *fakeTransport) Direction() domain.TransportDirection { return t.dir }
func (t *fakeTransport) Info() engine.TransportInfo {
	return engine.TransportInfo{ID: t.id, Direction: t.dir}
}
func (t *fakeTransport) Connect(offer string) (string, error) {
	t.connected = true
	return "answer-" + t.id, nil
}
func (t *fakeTransport) AddICECandidate(c engine.ICECandidate) error { return nil }
func (t *fakeTransport) OnICECandidate(fn func(engine.ICECandidate)) { t.onICE = fn }
func (t *fakeTransport) Close()                                      { t.router.record("close transport " + t.id) }

type fakeProducer struct {
	router *fakeRouter
	id     string
	kind   domain.MediaKind
}

func (p *fakeProducer) ID() string             { return p.id }
func (p *fakeProducer) Kind() domain.MediaKind { return p.kind }
func (p *fakeProducer) Close()                 { p.router.record("close producer " + p.id) }

type fakeConsumer struct {
	router     *fakeRouter
	id         string
	producerID string
	kind       domain.MediaKind
	resumed    bool
}

func (c *fakeConsumer) ID() string             { return c.id }
func (c *fakeConsumer) ProducerID() string     { return c.producerID }
func (c *fakeConsumer) Kind() domain.MediaKind { return c.kind }
func (c *fakeConsumer) Info() engine.ConsumerInfo {
	return engine.ConsumerInfo{ID: c.id, ProducerID: c.producerID, Kind: c.kind}
}
func (c *fakeConsumer) Resume() error {
	c.resumed = true
	return nil
}
func (c *fakeConsumer) Close() { c.router.record("close consumer " + c.id) }

func engineOpusParams() engine.ProduceParams {
	return engine.ProduceParams{MimeType: "audio/opus", ClockRate: 48000, Channels: 2}
}

func engineVP8Params() engine.ProduceParams {
	return engine.ProduceParams{MimeType: "video/VP8", ClockRate: 90000}
}

// fakeConn collects frames; flip failing to simulate a slow receiver
// with a saturated send buffer.
type fakeConn struct {
	mu      sync.Mutex
	frames  []Frame
	failing bool
	closed  bool
}

func (c *fakeConn) TrySend(data Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return fmt.Errorf("send buffer full")
	}
	c.frames = append(c.frames, data)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}
