// Package signal carries every control message between a client and
// the server over one persistent websocket per connection.
package signal

import (
	"encoding/json"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/engine"
)

// Client → server events. Requests carrying a rid get an ack.
const (
	EvJoin             = "join"
	EvLeave            = "leave"
	EvPing             = "ping"
	EvCreateTransport  = "create-transport"
	EvConnectTransport = "connect-transport"
	EvIceCandidate     = "ice-candidate"
	EvProduce          = "produce"
	EvMarkScreenShare  = "mark-screen-share"
	EvConsume          = "consume"
	EvResumeConsumer   = "resume-consumer"
	EvGetProducers     = "get-producers"
	EvChatSend         = "send-chat-message"
	EvCreatePoll       = "create-poll"
	EvSubmitVote       = "submit-vote"
	EvClosePoll        = "close-poll"
	EvBoardDraw        = "whiteboard-draw"
	EvBoardClear       = "whiteboard-clear"
	EvBoardUndo        = "whiteboard-undo"
	EvNotesUpdate      = "notes-update"
	EvBoardPresent     = "whiteboard-present"
	EvNotesPresent     = "notes-present"
	EvMute             = "mute-participant"
)

// Server → client events.
const (
	EvAck            = "ack"
	EvPong           = "pong"
	EvNewProducer    = "new-producer"
	EvProducerClosed = "producer-closed"
	EvUserJoined     = "user-joined"
	EvUserLeft       = "user-left"
	EvHostChanged    = "host-changed"
	EvChatMessage    = "chat-message"
	EvNewPoll        = "new-poll"
	EvPollUpdated    = "poll-updated"
	EvPollClosed     = "poll-closed"
	EvNotesUpdated   = "notes-updated"
	EvPresenting     = "presenting"
	EvForceMute      = "force-mute"
)

// Envelope frames every signaling message. A request that expects an
// acknowledgement carries a rid; the ack echoes it back with either a
// payload or a structured error, never both.
type Envelope struct {
	Type string          `json:"type"`
	RID  string          `json:"rid,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type WireError struct {
	Code    domain.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

type Ack struct {
	Type  string     `json:"type"`
	RID   string     `json:"rid"`
	Data  any        `json:"data,omitempty"`
	Error *WireError `json:"error,omitempty"`
}

type JoinRequest struct {
	Room     string `json:"room"`
	Name     string `json:"name"`
	Password string `json:"password,omitempty"`
}

type JoinResponse struct {
	PeerID       domain.PeerID       `json:"peer_id"`
	IsHost       bool                `json:"is_host"`
	Capabilities engine.Capabilities `json:"capabilities"`
	core.Snapshot
}

type CreateTransportRequest struct {
	Direction domain.TransportDirection `json:"direction"`
}

// ConnectTransportRequest carries the client's SDP offer; sent again
// on the same transport it renegotiates.
type ConnectTransportRequest struct {
	TransportID string `json:"transport_id"`
	SDP         string `json:"sdp"`
}

type ConnectTransportResponse struct {
	SDP string `json:"sdp"`
}

// IceCandidateSignal is symmetric: trickled client→server as a request
// and server→client as an event, tagged with the transport it belongs
// to.
type IceCandidateSignal struct {
	TransportID string              `json:"transport_id"`
	Candidate   engine.ICECandidate `json:"candidate"`
}

type ProduceRequest struct {
	TransportID string               `json:"transport_id"`
	Kind        domain.MediaKind     `json:"kind"`
	Params      engine.ProduceParams `json:"rtp_parameters"`
	ScreenShare bool                 `json:"is_screen_share"`
}

type ProduceResponse struct {
	ProducerID string `json:"producer_id"`
}

type MarkScreenShareRequest struct {
	ProducerID string `json:"producer_id"`
}

type ConsumeRequest struct {
	TransportID  string              `json:"transport_id"`
	ProducerID   string              `json:"producer_id"`
	Capabilities engine.Capabilities `json:"rtp_capabilities"`
}

type ConsumeResponse struct {
	engine.ConsumerInfo
	PeerID      domain.PeerID `json:"peer_id"`
	ScreenShare bool          `json:"is_screen_share"`
}

type ResumeConsumerRequest struct {
	ConsumerID string `json:"consumer_id"`
}

type GetProducersResponse struct {
	Producers []core.ProducerInfo `json:"producers"`
}

type ProducerClosedEvent struct {
	PeerID     domain.PeerID `json:"peer_id"`
	ProducerID string        `json:"producer_id"`
}

type ChatSendRequest struct {
	Text   string        `json:"text"`
	Target domain.PeerID `json:"target,omitempty"`
}

type CreatePollRequest struct {
	Question  string   `json:"question"`
	Options   []string `json:"options"`
	Anonymous bool     `json:"anonymous"`
	Multiple  bool     `json:"multiple"`
}

type SubmitVoteRequest struct {
	PollID  string `json:"poll_id"`
	Options []int  `json:"options"`
}

type ClosePollRequest struct {
	PollID string `json:"poll_id"`
}

type BoardDrawRequest struct {
	Stroke domain.Stroke `json:"stroke"`
}

type BoardDrawEvent struct {
	PeerID domain.PeerID `json:"peer_id"`
	Stroke domain.Stroke `json:"stroke"`
}

type BoardSignalEvent struct {
	PeerID domain.PeerID `json:"peer_id"`
}

type NotesUpdateRequest struct {
	Content string `json:"content"`
}

type NotesUpdatedEvent struct {
	PeerID  domain.PeerID `json:"peer_id"`
	Content string        `json:"content"`
}

type PresentRequest struct {
	IsPresenting bool `json:"is_presenting"`
}

type MuteRequest struct {
	TargetID domain.PeerID    `json:"target_id"`
	Kind     domain.MediaKind `json:"kind"`
}

type ForceMuteEvent struct {
	Kind domain.MediaKind `json:"kind"`
	By   domain.PeerID    `json:"by"`
}

type PeerEvent struct {
	Peer domain.Peer `json:"peer"`
}

// EncodeEvent marshals a server-initiated event into a wire frame.
func EncodeEvent(typ string, payload any) (core.Frame, error) {
	env := Envelope{Type: typ}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Data = data
	}
	return json.Marshal(env)
}
