package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
)

const defaultSTUNServer = "stun:stun.l.google.com:19302"

// WebRTCEngine implements Engine on top of pion. One engine instance
// serves the whole process; routers are per room.
type WebRTCEngine struct {
	iceServers []string
}

func NewWebRTCEngine(iceServers []string) *WebRTCEngine {
	if len(iceServers) == 0 {
		iceServers = []string{defaultSTUNServer}
	}
	return &WebRTCEngine{iceServers: iceServers}
}

func (e *WebRTCEngine) CreateRouter(roomID domain.RoomID) (Router, error) {
	logger := log.With().
		Str("module", "engine").
		Str("room", string(roomID)).
		Logger()
	ctx, cancel := context.WithCancel(context.Background())
	r := &webrtcRouter{
		roomID:     roomID,
		iceServers: e.iceServers,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		transports: make(map[string]*webrtcTransport),
		producers:  make(map[string]*webrtcProducer),
		relays:     make(map[string]*relay),
	}
	logger.Info().Msg("router created")
	return r, nil
}

type webrtcRouter struct {
	roomID     domain.RoomID
	iceServers []string
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	closed     bool
	transports map[string]*webrtcTransport
	producers  map[string]*webrtcProducer
	relays     map[string]*relay
}

func (r *webrtcRouter) Capabilities() Capabilities {
	return Capabilities{Codecs: []CodecCapability{
		{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
	}}
}

func (r *webrtcRouter) CreateTransport(peerID domain.PeerID, dir domain.TransportDirection) (Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("router for room %s is closed", r.roomID)
	}

	servers := make([]webrtc.ICEServer, 0, len(r.iceServers))
	for _, u := range r.iceServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	t := &webrtcTransport{
		id:     uuid.NewString(),
		peerID: peerID,
		dir:    dir,
		pc:     pc,
		info: TransportInfo{
			Direction:  dir,
			ICEServers: r.iceServers,
		},
		pending:   make(map[domain.MediaKind][]*webrtcProducer),
		consumers: make(map[string]*webrtcConsumer),
	}
	t.info.ID = t.id

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		r.logger.Info().Str("transport_id", t.id).Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		t.mu.Lock()
		fn := t.onICE
		t.mu.Unlock()
		if fn != nil {
			fn(fromICEInit(cand.ToJSON()))
		}
	})

	if dir == domain.DirectionSend {
		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			r.bindTrack(t, track)
		})
	}

	r.transports[t.id] = t
	r.logger.Info().
		Str("transport_id", t.id).
		Str("peer", string(peerID)).
		Str("direction", string(dir)).
		Msg("transport created")
	return t, nil
}

// bindTrack matches an incoming remote track to the oldest producer of
// the same kind that is still waiting for its media.
func (r *webrtcRouter) bindTrack(t *webrtcTransport, track *webrtc.TrackRemote) {
	kind := kindOf(track.Kind())
	p := t.takePending(kind)
	if p == nil {
		r.logger.Warn().
			Str("transport_id", t.id).
			Str("kind", string(kind)).
			Msg("remote track without a waiting producer, dropping")
		return
	}
	r.logger.Info().
		Str("producer_id", p.id).
		Str("kind", string(kind)).
		Msg("remote track bound to producer")
	p.relay.start(r.ctx, track, &r.logger)
}

func (r *webrtcRouter) CreateProducer(transportID string, kind domain.MediaKind, params ProduceParams) (Producer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("router for room %s is closed", r.roomID)
	}
	t, ok := r.transports[transportID]
	if !ok {
		return nil, domain.NotFoundf("unknown transport %s", transportID)
	}
	if t.dir != domain.DirectionSend {
		return nil, domain.Protocolf("produce requires a send transport")
	}

	p := &webrtcProducer{
		id:     uuid.NewString(),
		kind:   kind,
		params: params,
		router: r,
	}
	p.relay = newRelay(p.id)
	r.relays[p.id] = p.relay
	r.producers[p.id] = p
	t.addPending(p)
	r.logger.Info().
		Str("producer_id", p.id).
		Str("kind", string(kind)).
		Str("mime", params.MimeType).
		Msg("producer created")
	return p, nil
}

func (r *webrtcRouter) CreateConsumer(transportID, producerID string, caps Capabilities) (Consumer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("router for room %s is closed", r.roomID)
	}
	t, ok := r.transports[transportID]
	if !ok {
		return nil, domain.NotFoundf("unknown transport %s", transportID)
	}
	if t.dir != domain.DirectionRecv {
		return nil, domain.Protocolf("consume requires a receive transport")
	}
	p, ok := r.producers[producerID]
	if !ok {
		return nil, domain.NotFoundf("unknown producer %s", producerID)
	}
	if !supportsCodec(caps, p.params.MimeType) {
		return nil, domain.Protocolf("client capabilities do not cover %s", p.params.MimeType)
	}

	consumerID := uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:  p.params.MimeType,
		ClockRate: p.params.ClockRate,
		Channels:  p.params.Channels,
	}, consumerID, string(t.peerID))
	if err != nil {
		return nil, fmt.Errorf("new local track: %w", err)
	}
	sender, err := t.pc.AddTrack(local)
	if err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}

	ot := newOutTrack(local)
	p.relay.addOutTrack(consumerID, ot)

	c := &webrtcConsumer{
		id:        consumerID,
		producer:  p,
		transport: t,
		sender:    sender,
		ot:        ot,
	}
	t.mu.Lock()
	t.consumers[consumerID] = c
	t.mu.Unlock()
	r.logger.Info().
		Str("consumer_id", consumerID).
		Str("producer_id", producerID).
		Msg("consumer created (paused)")
	return c, nil
}

func (r *webrtcRouter) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	transports := make([]*webrtcTransport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	relays := make([]*relay, 0, len(r.relays))
	for _, rel := range r.relays {
		relays = append(relays, rel)
	}
	r.mu.Unlock()

	r.cancel()
	for _, rel := range relays {
		rel.stop()
	}
	for _, t := range transports {
		t.Close()
	}
	r.logger.Info().Msg("router closed")
}

func (r *webrtcRouter) dropProducer(p *webrtcProducer) {
	r.mu.Lock()
	delete(r.producers, p.id)
	delete(r.relays, p.id)
	r.mu.Unlock()
}

type webrtcTransport struct {
	id     string
	peerID domain.PeerID
	dir    domain.TransportDirection
	pc     *webrtc.PeerConnection
	info   TransportInfo

	mu        sync.Mutex
	closed    bool
	onICE     func(ICECandidate)
	pending   map[domain.MediaKind][]*webrtcProducer
	consumers map[string]*webrtcConsumer
}

func (t *webrtcTransport) ID() string                           { return t.id }
func (t *webrtcTransport) Direction() domain.TransportDirection { return t.dir }
func (t *webrtcTransport) Info() TransportInfo                  { return t.info }

// Connect applies the client's offer and answers it. The answer waits
// for gathering to complete so it is usable as-is; candidates found
// later still trickle through OnICECandidate.
func (t *webrtcTransport) Connect(offerSDP string) (string, error) {
	if offerSDP == "" {
		return "", domain.Protocolf("missing sdp offer")
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return "", fmt.Errorf("transport %s is closed", t.id)
	}
	t.mu.Unlock()

	err := t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	})
	if err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	<-gatherComplete
	return t.pc.LocalDescription().SDP, nil
}

func (t *webrtcTransport) AddICECandidate(c ICECandidate) error {
	return t.pc.AddICECandidate(toICEInit(c))
}

func (t *webrtcTransport) OnICECandidate(fn func(ICECandidate)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onICE = fn
}

func (t *webrtcTransport) addPending(p *webrtcProducer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[p.kind] = append(t.pending[p.kind], p)
}

func (t *webrtcTransport) takePending(kind domain.MediaKind) *webrtcProducer {
	t.mu.Lock()
	defer t.mu.Unlock()
	queue := t.pending[kind]
	if len(queue) == 0 {
		return nil
	}
	p := queue[0]
	t.pending[kind] = queue[1:]
	return p
}

// Close tears the transport down along with every consumer attached to
// it. Idempotent.
func (t *webrtcTransport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	consumers := make([]*webrtcConsumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.consumers = make(map[string]*webrtcConsumer)
	t.mu.Unlock()

	for _, c := range consumers {
		c.Close()
	}
	_ = t.pc.Close()
}

type webrtcProducer struct {
	id     string
	kind   domain.MediaKind
	params ProduceParams
	relay  *relay
	router *webrtcRouter

	once sync.Once
}

func (p *webrtcProducer) ID() string             { return p.id }
func (p *webrtcProducer) Kind() domain.MediaKind { return p.kind }

func (p *webrtcProducer) Close() {
	p.once.Do(func() {
		p.relay.stop()
		p.router.dropProducer(p)
	})
}

type webrtcConsumer struct {
	id        string
	producer  *webrtcProducer
	transport *webrtcTransport
	sender    *webrtc.RTPSender
	ot        *outTrack

	once sync.Once
}

func (c *webrtcConsumer) ID() string             { return c.id }
func (c *webrtcConsumer) ProducerID() string     { return c.producer.id }
func (c *webrtcConsumer) Kind() domain.MediaKind { return c.producer.kind }

func (c *webrtcConsumer) Info() ConsumerInfo {
	return ConsumerInfo{
		ID:         c.id,
		ProducerID: c.producer.id,
		Kind:       c.producer.kind,
		Params:     c.producer.params,
	}
}

func (c *webrtcConsumer) Resume() error {
	if c.ot.getState() == trackStateDelete {
		return fmt.Errorf("consumer %s is closed", c.id)
	}
	c.ot.markLive()
	return nil
}

func (c *webrtcConsumer) Close() {
	c.once.Do(func() {
		c.ot.markDelete()
		c.producer.relay.removeOutTrack(c.id)
		_ = c.transport.pc.RemoveTrack(c.sender)
		c.transport.mu.Lock()
		delete(c.transport.consumers, c.id)
		c.transport.mu.Unlock()
	})
}

func fromICEInit(ci webrtc.ICECandidateInit) ICECandidate {
	out := ICECandidate{Candidate: ci.Candidate}
	if ci.SDPMid != nil {
		out.SDPMid = *ci.SDPMid
	}
	if ci.SDPMLineIndex != nil {
		out.SDPMLineIndex = *ci.SDPMLineIndex
	}
	return out
}

func toICEInit(c ICECandidate) webrtc.ICECandidateInit {
	ci := webrtc.ICECandidateInit{Candidate: c.Candidate}
	if c.SDPMid != "" {
		ci.SDPMid = &c.SDPMid
	}
	ci.SDPMLineIndex = &c.SDPMLineIndex
	return ci
}

func kindOf(t webrtc.RTPCodecType) domain.MediaKind {
	if t == webrtc.RTPCodecTypeAudio {
		return domain.KindAudio
	}
	return domain.KindVideo
}

func supportsCodec(caps Capabilities, mimeType string) bool {
	for _, c := range caps.Codecs {
		if strings.EqualFold(c.MimeType, mimeType) {
			return true
		}
	}
	return false
}
