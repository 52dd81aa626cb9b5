package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/engine"
	"github.com/dkeye/Huddle/internal/signal"
)

// State is the join state machine. Error is terminal for the attempt;
// the caller tears down and may retry from Disconnected.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateJoined
	StateTransportsReady
	StateProducing
	StateInCall
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	case StateTransportsReady:
		return "transportsReady"
	case StateProducing:
		return "producing"
	case StateInCall:
		return "inCall"
	case StateError:
		return "error"
	}
	return "unknown"
}

// RemoteTrack is one attached consumer, ready for rendering.
type RemoteTrack struct {
	PeerID      domain.PeerID
	ProducerID  string
	ConsumerID  string
	Kind        domain.MediaKind
	ScreenShare bool
}

// LocalTransport mirrors one engine-side transport.
type LocalTransport struct {
	Info      engine.TransportInfo
	Connected bool
}

type LocalProducer struct {
	ID          string
	Kind        domain.MediaKind
	ScreenShare bool
}

// MediaSession is the local WebRTC side the controller negotiates for:
// it builds the offer for each transport, applies the answer, and
// absorbs candidates trickled down from the engine.
type MediaSession interface {
	CreateOffer(info engine.TransportInfo) (sdp string, err error)
	ApplyAnswer(transportID, sdp string) error
	AddRemoteCandidate(transportID string, c engine.ICECandidate) error
}

type Options struct {
	// Media drives the local peer connections. Required before
	// SetupTransports.
	Media MediaSession

	// OnTrack fires after a consumer is resumed and attached. A track
	// of the same kind from the same peer replaces the previous one;
	// OnTrackEnded fires for the replaced or closed track first.
	OnTrack      func(RemoteTrack)
	OnTrackEnded func(RemoteTrack)
	OnForceMute  func(kind domain.MediaKind, by domain.PeerID)
	OnChat       func(domain.ChatMessage)
	OnHostChange func(domain.Peer)
	OnPeerJoined func(domain.Peer)
	OnPeerLeft   func(domain.Peer)

	ConnectTimeout time.Duration
}

// rpc is what the controller needs from the signaling connection.
type rpc interface {
	Call(typ string, payload, out any) error
	Notify(typ string, payload any) error
	On(event string, fn func(json.RawMessage))
	Close()
}

const workQueueSize = 64

// Controller drives one client's session: capability exchange, exactly
// one send and one receive transport, local producers, and consumers
// keyed by remote producer.
type Controller struct {
	opts Options

	mu       sync.Mutex
	conn     rpc
	state    State
	cause    error
	peerID   domain.PeerID
	isHost   bool
	caps     engine.Capabilities
	snapshot core.Snapshot

	sendT *LocalTransport
	recvT *LocalTransport

	producers map[string]LocalProducer
	consumers map[string]RemoteTrack
	attached  map[domain.PeerID]map[domain.MediaKind]string

	// Producer announcements that arrived before the receive transport
	// was ready; drained exactly once, in arrival order.
	pendingAnnounce []core.ProducerInfo
	recvReady       bool

	work      chan core.ProducerInfo
	done      chan struct{}
	closeOnce sync.Once
}

func NewController(opts Options) *Controller {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	return &Controller{
		opts:      opts,
		state:     StateDisconnected,
		producers: make(map[string]LocalProducer),
		consumers: make(map[string]RemoteTrack),
		attached:  make(map[domain.PeerID]map[domain.MediaKind]string),
		work:      make(chan core.ProducerInfo, workQueueSize),
		done:      make(chan struct{}),
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the cause of the error state, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

func (c *Controller) PeerID() domain.PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

func (c *Controller) IsHost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isHost
}

func (c *Controller) Snapshot() core.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

func (c *Controller) fail(stage string, err error) error {
	c.mu.Lock()
	c.state = StateError
	c.cause = err
	c.mu.Unlock()
	return fmt.Errorf("%s: %w", stage, err)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Connect dials the signaling endpoint. The handshake is bounded by
// ConnectTimeout; everything after it is event driven.
func (c *Controller) Connect(ctx context.Context, url string) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("connect from state %s", c.state)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, err := Dial(ctx, url, c.opts.ConnectTimeout)
	if err != nil {
		return c.fail("connect", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	c.registerHandlers(conn)
	go c.consumeWorker()
	return nil
}

func (c *Controller) registerHandlers(conn rpc) {
	conn.On(signal.EvNewProducer, func(data json.RawMessage) {
		var info core.ProducerInfo
		if err := json.Unmarshal(data, &info); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad new-producer event")
			return
		}
		c.consumeOrQueue(info)
	})
	conn.On(signal.EvIceCandidate, func(data json.RawMessage) {
		var sig signal.IceCandidateSignal
		if err := json.Unmarshal(data, &sig); err != nil {
			return
		}
		if c.opts.Media == nil {
			return
		}
		if err := c.opts.Media.AddRemoteCandidate(sig.TransportID, sig.Candidate); err != nil {
			log.Warn().Err(err).Str("module", "client").Str("transport_id", sig.TransportID).Msg("add remote candidate")
		}
	})
	conn.On(signal.EvProducerClosed, func(data json.RawMessage) {
		var ev signal.ProducerClosedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		c.dropRemote(ev.ProducerID)
	})
	conn.On(signal.EvForceMute, func(data json.RawMessage) {
		var ev signal.ForceMuteEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		if c.opts.OnForceMute != nil {
			c.opts.OnForceMute(ev.Kind, ev.By)
		}
	})
	conn.On(signal.EvChatMessage, func(data json.RawMessage) {
		var msg domain.ChatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		if c.opts.OnChat != nil {
			c.opts.OnChat(msg)
		}
	})
	conn.On(signal.EvHostChanged, func(data json.RawMessage) {
		var ev signal.PeerEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		c.mu.Lock()
		c.isHost = ev.Peer.ID == c.peerID
		c.mu.Unlock()
		if c.opts.OnHostChange != nil {
			c.opts.OnHostChange(ev.Peer)
		}
	})
	conn.On(signal.EvUserJoined, func(data json.RawMessage) {
		var ev signal.PeerEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		c.mu.Lock()
		c.snapshot.Peers = append(c.snapshot.Peers, ev.Peer)
		c.mu.Unlock()
		if c.opts.OnPeerJoined != nil {
			c.opts.OnPeerJoined(ev.Peer)
		}
	})
	conn.On(signal.EvUserLeft, func(data json.RawMessage) {
		var ev signal.PeerEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		c.mu.Lock()
		peers := c.snapshot.Peers[:0]
		for _, p := range c.snapshot.Peers {
			if p.ID != ev.Peer.ID {
				peers = append(peers, p)
			}
		}
		c.snapshot.Peers = peers
		c.mu.Unlock()
		if c.opts.OnPeerLeft != nil {
			c.opts.OnPeerLeft(ev.Peer)
		}
	})
}

// Join resolves the room and stores the returned capabilities and
// collaborative snapshot.
func (c *Controller) Join(room, name, password string) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return fmt.Errorf("join from state %s", c.state)
	}
	conn := c.conn
	c.mu.Unlock()

	var resp signal.JoinResponse
	err := conn.Call(signal.EvJoin, signal.JoinRequest{Room: room, Name: name, Password: password}, &resp)
	if err != nil {
		return c.fail("join", err)
	}

	c.mu.Lock()
	c.peerID = resp.PeerID
	c.isHost = resp.IsHost
	c.caps = resp.Capabilities
	c.snapshot = resp.Snapshot
	c.state = StateJoined
	c.mu.Unlock()
	return nil
}

// SetupTransports creates both transports, runs the offer/answer
// exchange for each through the media session, then drains the pending
// producer announcements exactly once.
func (c *Controller) SetupTransports() error {
	c.mu.Lock()
	if c.state != StateJoined {
		c.mu.Unlock()
		return fmt.Errorf("setup transports from state %s", c.state)
	}
	conn := c.conn
	c.mu.Unlock()
	if c.opts.Media == nil {
		return c.fail("setup transports", fmt.Errorf("no media session configured"))
	}

	sendT, err := c.setupTransport(conn, domain.DirectionSend)
	if err != nil {
		return c.fail("send transport", err)
	}
	recvT, err := c.setupTransport(conn, domain.DirectionRecv)
	if err != nil {
		return c.fail("receive transport", err)
	}

	c.mu.Lock()
	c.sendT = sendT
	c.recvT = recvT
	c.recvReady = true
	queued := c.pendingAnnounce
	c.pendingAnnounce = nil
	c.state = StateTransportsReady
	c.mu.Unlock()

	for _, info := range queued {
		c.consumeNow(info)
	}
	return nil
}

func (c *Controller) setupTransport(conn rpc, dir domain.TransportDirection) (*LocalTransport, error) {
	var info engine.TransportInfo
	if err := conn.Call(signal.EvCreateTransport, signal.CreateTransportRequest{Direction: dir}, &info); err != nil {
		return nil, err
	}
	offer, err := c.opts.Media.CreateOffer(info)
	if err != nil {
		return nil, err
	}
	var resp signal.ConnectTransportResponse
	err = conn.Call(signal.EvConnectTransport, signal.ConnectTransportRequest{
		TransportID: info.ID,
		SDP:         offer,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if err := c.opts.Media.ApplyAnswer(info.ID, resp.SDP); err != nil {
		return nil, err
	}
	return &LocalTransport{Info: info, Connected: true}, nil
}

// SendCandidate trickles a locally gathered candidate up to the engine.
func (c *Controller) SendCandidate(transportID string, cand engine.ICECandidate) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrConnClosed
	}
	return conn.Notify(signal.EvIceCandidate, signal.IceCandidateSignal{
		TransportID: transportID,
		Candidate:   cand,
	})
}

// Produce announces one local media kind. Screen shares are tagged
// right after creation so peers route them to the screen slot.
func (c *Controller) Produce(kind domain.MediaKind, params engine.ProduceParams, screenShare bool) (string, error) {
	c.mu.Lock()
	if c.state != StateTransportsReady && c.state != StateProducing && c.state != StateInCall {
		c.mu.Unlock()
		return "", fmt.Errorf("produce from state %s", c.state)
	}
	conn := c.conn
	sendID := c.sendT.Info.ID
	c.mu.Unlock()

	var resp signal.ProduceResponse
	err := conn.Call(signal.EvProduce, signal.ProduceRequest{
		TransportID: sendID,
		Kind:        kind,
		Params:      params,
		ScreenShare: screenShare,
	}, &resp)
	if err != nil {
		return "", c.fail("produce", err)
	}

	c.mu.Lock()
	c.producers[resp.ProducerID] = LocalProducer{ID: resp.ProducerID, Kind: kind, ScreenShare: screenShare}
	if c.state == StateTransportsReady {
		c.state = StateProducing
	}
	c.mu.Unlock()
	return resp.ProducerID, nil
}

// ConsumeExisting fetches and consumes every producer already live in
// the room, completing the transition into the call.
func (c *Controller) ConsumeExisting() error {
	c.mu.Lock()
	if c.state != StateProducing && c.state != StateTransportsReady {
		c.mu.Unlock()
		return fmt.Errorf("consume existing from state %s", c.state)
	}
	conn := c.conn
	c.mu.Unlock()

	var resp signal.GetProducersResponse
	if err := conn.Call(signal.EvGetProducers, nil, &resp); err != nil {
		return c.fail("get producers", err)
	}
	for _, info := range resp.Producers {
		c.consumeNow(info)
	}
	c.setState(StateInCall)
	return nil
}

// consumeOrQueue runs on the read loop, so it never blocks on a call;
// actual consuming happens on the worker.
func (c *Controller) consumeOrQueue(info core.ProducerInfo) {
	c.mu.Lock()
	if _, dup := c.consumers[info.ProducerID]; dup {
		c.mu.Unlock()
		return
	}
	if !c.recvReady {
		c.pendingAnnounce = append(c.pendingAnnounce, info)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	select {
	case c.work <- info:
	default:
		log.Warn().Str("module", "client").Str("producer_id", info.ProducerID).Msg("consume queue full, dropping announcement")
	}
}

func (c *Controller) consumeWorker() {
	for {
		select {
		case <-c.done:
			return
		case info := <-c.work:
			c.consumeNow(info)
		}
	}
}

// consumeNow is the three-step exchange: consume, resume, attach.
func (c *Controller) consumeNow(info core.ProducerInfo) {
	c.mu.Lock()
	if _, dup := c.consumers[info.ProducerID]; dup {
		c.mu.Unlock()
		return
	}
	if c.recvT == nil {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	recvID := c.recvT.Info.ID
	caps := c.caps
	c.mu.Unlock()

	var resp signal.ConsumeResponse
	err := conn.Call(signal.EvConsume, signal.ConsumeRequest{
		TransportID:  recvID,
		ProducerID:   info.ProducerID,
		Capabilities: caps,
	}, &resp)
	if err != nil {
		log.Warn().Err(err).Str("module", "client").Str("producer_id", info.ProducerID).Msg("consume failed")
		return
	}
	if err := conn.Call(signal.EvResumeConsumer, signal.ResumeConsumerRequest{ConsumerID: resp.ID}, nil); err != nil {
		log.Warn().Err(err).Str("module", "client").Str("consumer_id", resp.ID).Msg("resume failed")
		return
	}

	track := RemoteTrack{
		PeerID:      resp.PeerID,
		ProducerID:  info.ProducerID,
		ConsumerID:  resp.ID,
		Kind:        resp.Kind,
		ScreenShare: resp.ScreenShare || info.ScreenShare,
	}
	c.attach(track)
}

// attach replaces any existing track in the same slot for the peer; a
// reconnecting producer must not leave two live tracks of one kind.
func (c *Controller) attach(track RemoteTrack) {
	var ended *RemoteTrack
	c.mu.Lock()
	byKind := c.attached[track.PeerID]
	if byKind == nil {
		byKind = make(map[domain.MediaKind]string)
		c.attached[track.PeerID] = byKind
	}
	slot := track.Kind
	if track.ScreenShare {
		// Screen video lands in its own slot next to camera video.
		slot = domain.MediaKind("screen-" + string(track.Kind))
	}
	if old, ok := byKind[slot]; ok && old != track.ProducerID {
		if prev, ok := c.consumers[old]; ok {
			ended = &prev
			delete(c.consumers, old)
		}
	}
	byKind[slot] = track.ProducerID
	c.consumers[track.ProducerID] = track
	c.mu.Unlock()

	if ended != nil && c.opts.OnTrackEnded != nil {
		c.opts.OnTrackEnded(*ended)
	}
	if c.opts.OnTrack != nil {
		c.opts.OnTrack(track)
	}
}

func (c *Controller) dropRemote(producerID string) {
	c.mu.Lock()
	track, ok := c.consumers[producerID]
	if ok {
		delete(c.consumers, producerID)
		if byKind := c.attached[track.PeerID]; byKind != nil {
			for slot, pid := range byKind {
				if pid == producerID {
					delete(byKind, slot)
				}
			}
		}
	}
	c.mu.Unlock()
	if ok && c.opts.OnTrackEnded != nil {
		c.opts.OnTrackEnded(track)
	}
}

// SendChat relays a message; the ack carries the stamped message back.
func (c *Controller) SendChat(text string, target domain.PeerID) (domain.ChatMessage, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return domain.ChatMessage{}, ErrConnClosed
	}
	var msg domain.ChatMessage
	err := conn.Call(signal.EvChatSend, signal.ChatSendRequest{Text: text, Target: target}, &msg)
	return msg, err
}

// Leave exits the room but keeps the socket for a later rejoin.
func (c *Controller) Leave() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrConnClosed
	}
	err := conn.Call(signal.EvLeave, nil, nil)
	c.resetMedia(StateConnected)
	return err
}

// Close tears the whole session down. Idempotent and safe to race:
// explicit user teardown and the disconnect path may both call it.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()

		close(c.done)
		if conn != nil {
			conn.Close()
		}
		c.resetMedia(StateDisconnected)
	})
}

func (c *Controller) resetMedia(to State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendT = nil
	c.recvT = nil
	c.recvReady = false
	c.pendingAnnounce = nil
	c.producers = make(map[string]LocalProducer)
	c.consumers = make(map[string]RemoteTrack)
	c.attached = make(map[domain.PeerID]map[domain.MediaKind]string)
	if c.state != StateError {
		c.state = to
	}
}
