// Package core owns the live room state: membership, host lifecycle,
// media bookkeeping and collaborative state. Every mutation happens
// under the room's own lock; the signaling layer never touches the
// maps directly.
package core

import "github.com/dkeye/Huddle/internal/domain"

// Frame is a raw signaling payload, already marshaled by the caller.
type Frame []byte

// SignalConnection abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// PublishResult reports delivery stats/backpressure to the caller.
type PublishResult struct {
	SentTo  int
	Dropped []domain.PeerID
}

// ProducerInfo is the discoverable view of a producer inside a room.
type ProducerInfo struct {
	PeerID      domain.PeerID    `json:"peer_id"`
	ProducerID  string           `json:"producer_id"`
	Kind        domain.MediaKind `json:"kind"`
	ScreenShare bool             `json:"is_screen_share"`
}

type RoomInfo struct {
	ID        domain.RoomID `json:"id"`
	PeerCount int           `json:"peer_count"`
	Protected bool          `json:"protected"`
}

// Snapshot is the chat-independent collaborative state a late joiner
// receives at join time.
type Snapshot struct {
	Peers      []domain.Peer            `json:"peers"`
	Board      domain.Whiteboard        `json:"whiteboard"`
	Notes      string                   `json:"notes"`
	Polls      []domain.Poll            `json:"polls"`
	Presenting []domain.PresentingState `json:"presenting"`
}
