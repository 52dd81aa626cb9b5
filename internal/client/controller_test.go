package client

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/engine"
	"github.com/dkeye/Huddle/internal/signal"
)

// fakeRPC scripts the server side of the signaling exchange: canned
// ack payloads per request type, plus emit for server-pushed events.
type fakeRPC struct {
	mu       sync.Mutex
	calls    []string
	handlers map[string]func(json.RawMessage)
	owner    map[string]domain.PeerID
	kind     map[string]domain.MediaKind
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{
		handlers: make(map[string]func(json.RawMessage)),
		owner:    make(map[string]domain.PeerID),
		kind:     make(map[string]domain.MediaKind),
	}
}

func (f *fakeRPC) addProducer(id string, owner domain.PeerID, kind domain.MediaKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owner[id] = owner
	f.kind[id] = kind
}

func (f *fakeRPC) record(ev string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ev)
}

func (f *fakeRPC) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func reply(out, resp any) error {
	if out == nil {
		return nil
	}
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func (f *fakeRPC) Call(typ string, payload, out any) error {
	switch typ {
	case signal.EvJoin:
		f.record("join")
		return reply(out, signal.JoinResponse{
			PeerID: "me",
			IsHost: true,
			Capabilities: engine.Capabilities{Codecs: []engine.CodecCapability{
				{MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
			}},
		})
	case signal.EvCreateTransport:
		var req signal.CreateTransportRequest
		b, _ := json.Marshal(payload)
		_ = json.Unmarshal(b, &req)
		f.record("create-transport " + string(req.Direction))
		return reply(out, engine.TransportInfo{ID: "t-" + string(req.Direction), Direction: req.Direction})
	case signal.EvConnectTransport:
		var req signal.ConnectTransportRequest
		b, _ := json.Marshal(payload)
		_ = json.Unmarshal(b, &req)
		f.record("connect-transport " + req.TransportID)
		return reply(out, signal.ConnectTransportResponse{SDP: "answer-" + req.TransportID})
	case signal.EvConsume:
		var req signal.ConsumeRequest
		b, _ := json.Marshal(payload)
		_ = json.Unmarshal(b, &req)
		f.record("consume " + req.ProducerID)
		f.mu.Lock()
		owner := f.owner[req.ProducerID]
		kind := f.kind[req.ProducerID]
		f.mu.Unlock()
		return reply(out, signal.ConsumeResponse{
			ConsumerInfo: engine.ConsumerInfo{ID: "c-" + req.ProducerID, ProducerID: req.ProducerID, Kind: kind},
			PeerID:       owner,
		})
	case signal.EvResumeConsumer:
		var req signal.ResumeConsumerRequest
		b, _ := json.Marshal(payload)
		_ = json.Unmarshal(b, &req)
		f.record("resume " + req.ConsumerID)
		return nil
	case signal.EvGetProducers:
		f.record("get-producers")
		return reply(out, signal.GetProducersResponse{})
	case signal.EvProduce:
		f.record("produce")
		return reply(out, signal.ProduceResponse{ProducerID: "my-prod"})
	default:
		f.record(typ)
		return nil
	}
}

func (f *fakeRPC) Notify(typ string, payload any) error {
	f.record("notify " + typ)
	return nil
}

func (f *fakeRPC) On(event string, fn func(json.RawMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = fn
}

func (f *fakeRPC) emit(event string, payload any) {
	f.mu.Lock()
	fn := f.handlers[event]
	f.mu.Unlock()
	if fn == nil {
		return
	}
	b, _ := json.Marshal(payload)
	fn(b)
}

func (f *fakeRPC) Close() {}

// fakeMedia records the local negotiation steps the controller drives.
type fakeMedia struct {
	mu         sync.Mutex
	offers     []string
	answers    map[string]string
	candidates map[string][]engine.ICECandidate
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{
		answers:    make(map[string]string),
		candidates: make(map[string][]engine.ICECandidate),
	}
}

func (m *fakeMedia) CreateOffer(info engine.TransportInfo) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers = append(m.offers, info.ID)
	return "offer-" + info.ID, nil
}

func (m *fakeMedia) ApplyAnswer(transportID, sdp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers[transportID] = sdp
	return nil
}

func (m *fakeMedia) AddRemoteCandidate(transportID string, c engine.ICECandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates[transportID] = append(m.candidates[transportID], c)
	return nil
}

// newTestController wires a controller to the fake, already past the
// dial step.
func newTestController(t *testing.T, f *fakeRPC, opts Options) *Controller {
	t.Helper()
	if opts.Media == nil {
		opts.Media = newFakeMedia()
	}
	c := NewController(opts)
	c.mu.Lock()
	c.conn = f
	c.state = StateConnected
	c.mu.Unlock()
	c.registerHandlers(f)
	go c.consumeWorker()
	t.Cleanup(c.Close)
	return c
}

func TestPendingProducersDrainOnceInOrder(t *testing.T) {
	f := newFakeRPC()
	var tracksMu sync.Mutex
	var tracks []string
	c := newTestController(t, f, Options{
		OnTrack: func(tr RemoteTrack) {
			tracksMu.Lock()
			tracks = append(tracks, tr.ProducerID)
			tracksMu.Unlock()
		},
	})

	require.NoError(t, c.Join("room", "alice", ""))
	assert.Equal(t, StateJoined, c.State())

	// Announcements arriving before the receive transport is up are
	// queued, not consumed.
	f.addProducer("p1", "peerA", domain.KindAudio)
	f.addProducer("p2", "peerB", domain.KindVideo)
	f.emit(signal.EvNewProducer, core.ProducerInfo{PeerID: "peerA", ProducerID: "p1", Kind: domain.KindAudio})
	f.emit(signal.EvNewProducer, core.ProducerInfo{PeerID: "peerB", ProducerID: "p2", Kind: domain.KindVideo})
	for _, call := range f.callLog() {
		assert.NotContains(t, call, "consume")
	}

	require.NoError(t, c.SetupTransports())
	assert.Equal(t, StateTransportsReady, c.State())

	want := []string{
		"join",
		"create-transport send",
		"connect-transport t-send",
		"create-transport receive",
		"connect-transport t-receive",
		"consume p1",
		"resume c-p1",
		"consume p2",
		"resume c-p2",
	}
	assert.Equal(t, want, f.callLog())
	assert.Equal(t, []string{"p1", "p2"}, tracks)

	// A re-announcement of an already-consumed producer is ignored.
	f.emit(signal.EvNewProducer, core.ProducerInfo{PeerID: "peerA", ProducerID: "p1", Kind: domain.KindAudio})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, want, f.callLog())
}

func TestNewProducerAfterReadyConsumesAsync(t *testing.T) {
	f := newFakeRPC()
	var tracksMu sync.Mutex
	var tracks []string
	c := newTestController(t, f, Options{
		OnTrack: func(tr RemoteTrack) {
			tracksMu.Lock()
			tracks = append(tracks, tr.ProducerID)
			tracksMu.Unlock()
		},
	})
	require.NoError(t, c.Join("room", "alice", ""))
	require.NoError(t, c.SetupTransports())

	f.addProducer("late", "peerC", domain.KindAudio)
	f.emit(signal.EvNewProducer, core.ProducerInfo{PeerID: "peerC", ProducerID: "late", Kind: domain.KindAudio})

	assert.Eventually(t, func() bool {
		tracksMu.Lock()
		defer tracksMu.Unlock()
		return len(tracks) == 1 && tracks[0] == "late"
	}, time.Second, 5*time.Millisecond)
}

func TestSameKindTrackReplaced(t *testing.T) {
	f := newFakeRPC()
	var mu sync.Mutex
	var started, ended []string
	c := newTestController(t, f, Options{
		OnTrack: func(tr RemoteTrack) {
			mu.Lock()
			started = append(started, tr.ProducerID)
			mu.Unlock()
		},
		OnTrackEnded: func(tr RemoteTrack) {
			mu.Lock()
			ended = append(ended, tr.ProducerID)
			mu.Unlock()
		},
	})
	require.NoError(t, c.Join("room", "alice", ""))

	f.addProducer("a1", "peerA", domain.KindAudio)
	f.emit(signal.EvNewProducer, core.ProducerInfo{PeerID: "peerA", ProducerID: "a1", Kind: domain.KindAudio})
	require.NoError(t, c.SetupTransports())

	// The same peer re-producing audio supersedes the old track.
	f.addProducer("a2", "peerA", domain.KindAudio)
	f.emit(signal.EvNewProducer, core.ProducerInfo{PeerID: "peerA", ProducerID: "a2", Kind: domain.KindAudio})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(started) == 2 && len(ended) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a1", "a2"}, started)
	assert.Equal(t, []string{"a1"}, ended)
}

func TestProducerClosedEndsTrack(t *testing.T) {
	f := newFakeRPC()
	var mu sync.Mutex
	var ended []string
	c := newTestController(t, f, Options{
		OnTrackEnded: func(tr RemoteTrack) {
			mu.Lock()
			ended = append(ended, tr.ProducerID)
			mu.Unlock()
		},
	})
	require.NoError(t, c.Join("room", "alice", ""))
	f.addProducer("p1", "peerA", domain.KindAudio)
	f.emit(signal.EvNewProducer, core.ProducerInfo{PeerID: "peerA", ProducerID: "p1", Kind: domain.KindAudio})
	require.NoError(t, c.SetupTransports())

	f.emit(signal.EvProducerClosed, signal.ProducerClosedEvent{PeerID: "peerA", ProducerID: "p1"})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"p1"}, ended)
}

func TestProduceAdvancesState(t *testing.T) {
	f := newFakeRPC()
	c := newTestController(t, f, Options{})
	require.NoError(t, c.Join("room", "alice", ""))
	require.NoError(t, c.SetupTransports())

	id, err := c.Produce(domain.KindAudio, engine.ProduceParams{MimeType: "audio/opus", ClockRate: 48000, Channels: 2}, false)
	require.NoError(t, err)
	assert.Equal(t, "my-prod", id)
	assert.Equal(t, StateProducing, c.State())

	require.NoError(t, c.ConsumeExisting())
	assert.Equal(t, StateInCall, c.State())
}

func TestHostChangeUpdatesSelf(t *testing.T) {
	f := newFakeRPC()
	var gotMu sync.Mutex
	var got domain.Peer
	c := newTestController(t, f, Options{
		OnHostChange: func(p domain.Peer) {
			gotMu.Lock()
			got = p
			gotMu.Unlock()
		},
	})
	require.NoError(t, c.Join("room", "alice", ""))
	require.True(t, c.IsHost())

	f.emit(signal.EvHostChanged, signal.PeerEvent{Peer: domain.Peer{ID: "other", Name: "bob", Host: true}})
	assert.False(t, c.IsHost())
	gotMu.Lock()
	assert.Equal(t, domain.PeerID("other"), got.ID)
	gotMu.Unlock()

	f.emit(signal.EvHostChanged, signal.PeerEvent{Peer: domain.Peer{ID: "me", Name: "alice", Host: true}})
	assert.True(t, c.IsHost())
}

func TestJoinStateGuards(t *testing.T) {
	f := newFakeRPC()
	c := newTestController(t, f, Options{})

	// Media setup before join is a protocol misuse, not a panic.
	assert.Error(t, c.SetupTransports())
	_, err := c.Produce(domain.KindAudio, engine.ProduceParams{}, false)
	assert.Error(t, err)

	require.NoError(t, c.Join("room", "alice", ""))
	assert.Error(t, c.Join("room", "alice", ""))
}

func TestSetupTransportsNegotiatesBoth(t *testing.T) {
	f := newFakeRPC()
	media := newFakeMedia()
	c := newTestController(t, f, Options{Media: media})
	require.NoError(t, c.Join("room", "alice", ""))
	require.NoError(t, c.SetupTransports())

	media.mu.Lock()
	defer media.mu.Unlock()
	assert.Equal(t, []string{"t-send", "t-receive"}, media.offers)
	assert.Equal(t, "answer-t-send", media.answers["t-send"])
	assert.Equal(t, "answer-t-receive", media.answers["t-receive"])
}

func TestCandidatesFlowBothWays(t *testing.T) {
	f := newFakeRPC()
	media := newFakeMedia()
	c := newTestController(t, f, Options{Media: media})
	require.NoError(t, c.Join("room", "alice", ""))
	require.NoError(t, c.SetupTransports())

	cand := engine.ICECandidate{Candidate: "candidate:1 1 udp 2130706431 10.0.0.9 6000 typ host"}
	require.NoError(t, c.SendCandidate("t-send", cand))
	assert.Contains(t, f.callLog(), "notify "+signal.EvIceCandidate)

	f.emit(signal.EvIceCandidate, signal.IceCandidateSignal{TransportID: "t-receive", Candidate: cand})
	media.mu.Lock()
	defer media.mu.Unlock()
	require.Len(t, media.candidates["t-receive"], 1)
	assert.Equal(t, cand.Candidate, media.candidates["t-receive"][0].Candidate)
}

func TestCloseIsSafeToRace(t *testing.T) {
	f := newFakeRPC()
	c := newTestController(t, f, Options{})
	require.NoError(t, c.Join("room", "alice", ""))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Close()
		}()
	}
	wg.Wait()
	assert.Equal(t, StateDisconnected, c.State())
}
