package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

const writeWait = 5 * time.Second

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, sess *session) {
	defer func() {
		log.Info().Str("module", "signal").Str("peer", string(sess.id)).Msg("readPump closing")
		ctl.leaveRoom(sess)
		sess.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("peer", string(sess.id)).Msg("readPump ctx done")
			return
		default:
			_, data, err := sess.conn.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("peer", string(sess.id)).Msg("readPump read error")
				return
			}
			ctl.handleMessage(sess, data)
		}
	}
}

// handleMessage processes one inbound event to completion before the
// next one from this connection is read.
func (ctl *Controller) handleMessage(sess *session, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	result, err := ctl.dispatch(sess, env)
	if env.RID == "" {
		if err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("type", env.Type).Str("peer", string(sess.id)).Msg("unacked request failed")
		}
		return
	}

	ack := Ack{Type: EvAck, RID: env.RID}
	if err != nil {
		se := domain.AsSignalError(err)
		ack.Error = &WireError{Code: se.Code, Message: se.Message}
		log.Warn().Err(err).Str("module", "signal").Str("type", env.Type).Str("peer", string(sess.id)).Msg("request failed")
	} else {
		ack.Data = result
	}
	ctl.sendJSON(sess.conn, ack)
}

func (ctl *Controller) dispatch(sess *session, env Envelope) (any, error) {
	switch env.Type {
	case EvJoin:
		return ctl.handleJoin(sess, env.Data)
	case EvLeave:
		return ctl.handleLeave(sess)
	case EvPing:
		ctl.sendJSON(sess.conn, Envelope{Type: EvPong})
		return nil, nil
	case EvCreateTransport:
		return ctl.handleCreateTransport(sess, env.Data)
	case EvConnectTransport:
		return ctl.handleConnectTransport(sess, env.Data)
	case EvIceCandidate:
		return ctl.handleIceCandidate(sess, env.Data)
	case EvProduce:
		return ctl.handleProduce(sess, env.Data)
	case EvMarkScreenShare:
		return ctl.handleMarkScreenShare(sess, env.Data)
	case EvConsume:
		return ctl.handleConsume(sess, env.Data)
	case EvResumeConsumer:
		return ctl.handleResumeConsumer(sess, env.Data)
	case EvGetProducers:
		return ctl.handleGetProducers(sess)
	case EvChatSend:
		return ctl.handleChatSend(sess, env.Data)
	case EvCreatePoll:
		return ctl.handleCreatePoll(sess, env.Data)
	case EvSubmitVote:
		return ctl.handleSubmitVote(sess, env.Data)
	case EvClosePoll:
		return ctl.handleClosePoll(sess, env.Data)
	case EvBoardDraw:
		return ctl.handleBoardDraw(sess, env.Data)
	case EvBoardClear:
		return ctl.handleBoardClear(sess)
	case EvBoardUndo:
		return ctl.handleBoardUndo(sess)
	case EvNotesUpdate:
		return ctl.handleNotesUpdate(sess, env.Data)
	case EvBoardPresent:
		return ctl.handlePresent(sess, env.Data, domain.SurfaceWhiteboard)
	case EvNotesPresent:
		return ctl.handlePresent(sess, env.Data, domain.SurfaceNotes)
	case EvMute:
		return ctl.handleMute(sess, env.Data)
	default:
		return nil, domain.Protocolf("unknown signal %q", env.Type)
	}
}

// joinedRoomOf guards every post-join operation.
func (ctl *Controller) joinedRoomOf(sess *session) (*core.Room, error) {
	room := sess.currentRoom()
	if room == nil {
		return nil, domain.Protocolf("not joined to a room")
	}
	return room, nil
}

func decode[T any](data json.RawMessage) (T, error) {
	var out T
	if len(data) == 0 {
		return out, domain.Protocolf("missing payload")
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, domain.Protocolf("bad payload: %v", err)
	}
	return out, nil
}

func (ctl *Controller) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
