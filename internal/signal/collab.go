package signal

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
)

// handleChatSend relays the message without storing it. Private
// messages go to the target only; the ack carries the message back so
// both sides see the same transcript ordering.
func (ctl *Controller) handleChatSend(sess *session, data json.RawMessage) (any, error) {
	room, err := ctl.joinedRoomOf(sess)
	if err != nil {
		return nil, err
	}
	p, err := decode[ChatSendRequest](data)
	if err != nil {
		return nil, err
	}
	if p.Text == "" {
		return nil, domain.Protocolf("empty message")
	}
	if !ctl.Limiter.Allow(sess.id) {
		return nil, domain.Protocolf("too many messages, slow down")
	}

	msg := domain.ChatMessage{
		ID:       ulid.Make().String(),
		From:     sess.id,
		FromName: sess.displayName(),
		Text:     p.Text,
		SentAt:   time.Now(),
		Target:   p.Target,
	}
	if msg.Private() {
		if _, ok := room.Peer(p.Target); !ok {
			return nil, domain.NotFoundf("peer %s not in room %s", p.Target, room.Meta().ID)
		}
		ctl.sendEvent(room, p.Target, EvChatMessage, msg)
	} else {
		ctl.broadcast(room, sess.id, EvChatMessage, msg)
	}
	return msg, nil
}

func (ctl *Controller) handleCreatePoll(sess *session, data json.RawMessage) (any, error) {
	room, err := ctl.joinedRoomOf(sess)
	if err != nil {
		return nil, err
	}
	p, err := decode[CreatePollRequest](data)
	if err != nil {
		return nil, err
	}
	poll, err := domain.NewPoll(ulid.Make().String(), p.Question, p.Options, sess.displayName(), p.Anonymous, p.Multiple)
	if err != nil {
		return nil, domain.Protocolf("%v", err)
	}
	created := room.CreatePoll(poll)
	log.Info().Str("module", "signal").Str("room", string(room.Meta().ID)).Str("poll_id", created.ID).Msg("poll created")
	ctl.broadcast(room, sess.id, EvNewPoll, created)
	return created, nil
}

// handleSubmitVote updates the tally server-side and broadcasts only
// the counters, never the ballot.
func (ctl *Controller) handleSubmitVote(sess *session, data json.RawMessage) (any, error) {
	room, err := ctl.joinedRoomOf(sess)
	if err != nil {
		return nil, err
	}
	p, err := decode[SubmitVoteRequest](data)
	if err != nil {
		return nil, err
	}
	updated, err := room.Vote(p.PollID, p.Options)
	if err != nil {
		return nil, err
	}
	ctl.broadcast(room, "", EvPollUpdated, updated)
	return updated, nil
}

func (ctl *Controller) handleClosePoll(sess *session, data json.RawMessage) (any, error) {
	room, err := ctl.joinedRoomOf(sess)
	if err != nil {
		return nil, err
	}
	p, err := decode[ClosePollRequest](data)
	if err != nil {
		return nil, err
	}
	closed, err := room.ClosePoll(p.PollID)
	if err != nil {
		return nil, err
	}
	ctl.broadcast(room, "", EvPollClosed, closed)
	return closed, nil
}

func (ctl *Controller) handleBoardDraw(sess *session, data json.RawMessage) (any, error) {
	room, err := ctl.joinedRoomOf(sess)
	if err != nil {
		return nil, err
	}
	p, err := decode[BoardDrawRequest](data)
	if err != nil {
		return nil, err
	}
	if len(p.Stroke.Points) == 0 {
		return nil, domain.Protocolf("stroke without points")
	}
	if p.Stroke.ID == "" {
		p.Stroke.ID = ulid.Make().String()
	}
	room.AppendStroke(p.Stroke)
	ctl.broadcast(room, sess.id, EvBoardDraw, BoardDrawEvent{PeerID: sess.id, Stroke: p.Stroke})
	return p.Stroke, nil
}

func (ctl *Controller) handleBoardClear(sess *session) (any, error) {
	room, err := ctl.joinedRoomOf(sess)
	if err != nil {
		return nil, err
	}
	room.ClearBoard()
	ctl.broadcast(room, sess.id, EvBoardClear, BoardSignalEvent{PeerID: sess.id})
	return struct{}{}, nil
}

// handleBoardUndo removes the globally-last stroke regardless of who
// drew it.
func (ctl *Controller) handleBoardUndo(sess *session) (any, error) {
	room, err := ctl.joinedRoomOf(sess)
	if err != nil {
		return nil, err
	}
	if _, ok := room.UndoStroke(); !ok {
		return nil, domain.NotFoundf("whiteboard is empty")
	}
	ctl.broadcast(room, sess.id, EvBoardUndo, BoardSignalEvent{PeerID: sess.id})
	return struct{}{}, nil
}

func (ctl *Controller) handleNotesUpdate(sess *session, data json.RawMessage) (any, error) {
	room, err := ctl.joinedRoomOf(sess)
	if err != nil {
		return nil, err
	}
	p, err := decode[NotesUpdateRequest](data)
	if err != nil {
		return nil, err
	}
	room.SetNotes(p.Content)
	ctl.broadcast(room, sess.id, EvNotesUpdated, NotesUpdatedEvent{PeerID: sess.id, Content: p.Content})
	return struct{}{}, nil
}

func (ctl *Controller) handlePresent(sess *session, data json.RawMessage, surface domain.PresentingSurface) (any, error) {
	room, err := ctl.joinedRoomOf(sess)
	if err != nil {
		return nil, err
	}
	p, err := decode[PresentRequest](data)
	if err != nil {
		return nil, err
	}
	st := domain.PresentingState{
		Surface: surface,
		By:      sess.id,
		ByName:  sess.displayName(),
		Active:  p.IsPresenting,
	}
	room.SetPresenting(st)
	ctl.broadcast(room, sess.id, EvPresenting, st)
	return st, nil
}
