package domain

import (
	"errors"
	"time"
	"unicode/utf8"
)

const MaxPeerNameLen = 64

var (
	ErrNameEmpty   = errors.New("display name empty")
	ErrNameTooLong = errors.New("display name too long")
)

type PeerID string

// Peer is one connected client inside a room. JoinedAt comes from a
// monotonic clock and orders host succession.
type Peer struct {
	ID       PeerID    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
	Host     bool      `json:"is_host"`
}

func NewPeer(id PeerID, name string, joinedAt time.Time) (*Peer, error) {
	if err := ValidatePeerName(name); err != nil {
		return nil, err
	}
	return &Peer{ID: id, Name: name, JoinedAt: joinedAt}, nil
}

func ValidatePeerName(name string) error {
	if name == "" {
		return ErrNameEmpty
	}
	if utf8.RuneCountInString(name) > MaxPeerNameLen {
		return ErrNameTooLong
	}
	return nil
}
