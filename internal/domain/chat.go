package domain

import "time"

// ChatMessage is relayed, never stored: late joiners do not receive
// chat history.
type ChatMessage struct {
	ID       string    `json:"id"`
	From     PeerID    `json:"from"`
	FromName string    `json:"from_name"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sent_at"`
	// Target empty means broadcast to the whole room; otherwise the
	// message goes to the target and is echoed back to the sender.
	Target PeerID `json:"target,omitempty"`
}

func (m *ChatMessage) Private() bool { return m.Target != "" }
