// Package engine is the boundary with the selective-forwarding media
// engine. The rest of the subsystem only creates routers, transports,
// producers and consumers, connects and resumes them, and closes them;
// it never inspects media payloads.
package engine

import "github.com/dkeye/Huddle/internal/domain"

type Engine interface {
	// CreateRouter allocates the per-room forwarding unit. One router
	// per room, created once.
	CreateRouter(roomID domain.RoomID) (Router, error)
}

type CodecCapability struct {
	MimeType  string `json:"mime_type"`
	ClockRate uint32 `json:"clock_rate"`
	Channels  uint16 `json:"channels"`
}

// Capabilities describe what the router can route; clients present
// their own capabilities back when consuming.
type Capabilities struct {
	Codecs []CodecCapability `json:"codecs"`
}

// TransportInfo is the engine-side transport parameter set returned to
// the client for local transport construction.
type TransportInfo struct {
	ID         string                    `json:"id"`
	Direction  domain.TransportDirection `json:"direction"`
	ICEServers []string                  `json:"ice_servers"`
}

// ICECandidate is one trickled candidate, either direction.
type ICECandidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdp_mid,omitempty"`
	SDPMLineIndex uint16 `json:"sdp_mline_index,omitempty"`
}

// ProduceParams are the negotiated RTP parameters for one producer.
type ProduceParams struct {
	MimeType  string `json:"mime_type"`
	ClockRate uint32 `json:"clock_rate"`
	Channels  uint16 `json:"channels"`
}

type ConsumerInfo struct {
	ID         string           `json:"id"`
	ProducerID string           `json:"producer_id"`
	Kind       domain.MediaKind `json:"kind"`
	Params     ProduceParams    `json:"params"`
}

type Router interface {
	Capabilities() Capabilities
	CreateTransport(peerID domain.PeerID, dir domain.TransportDirection) (Transport, error)
	CreateProducer(transportID string, kind domain.MediaKind, params ProduceParams) (Producer, error)
	CreateConsumer(transportID, producerID string, caps Capabilities) (Consumer, error)
	// Close releases every transport, producer and consumer owned by
	// the router. Idempotent.
	Close()
}

type Transport interface {
	ID() string
	Direction() domain.TransportDirection
	Info() TransportInfo
	// Connect applies the client's SDP offer and returns the answer.
	// Calling it again renegotiates, which the client does whenever it
	// adds a track or needs more receive slots.
	Connect(offerSDP string) (answerSDP string, err error)
	// AddICECandidate applies a candidate trickled by the client.
	AddICECandidate(c ICECandidate) error
	// OnICECandidate registers the callback for candidates gathered on
	// the engine side; it may fire from engine goroutines.
	OnICECandidate(fn func(ICECandidate))
	// Close is idempotent; closing a closed transport is a no-op.
	Close()
}

type Producer interface {
	ID() string
	Kind() domain.MediaKind
	Close()
}

type Consumer interface {
	ID() string
	ProducerID() string
	Kind() domain.MediaKind
	Info() ConsumerInfo
	// Resume unpauses delivery. Consumers start paused so the client
	// can attach the track before media flows.
	Resume() error
	Close()
}
