package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
)

func (ctl *Controller) handleJoin(sess *session, data json.RawMessage) (any, error) {
	if sess.currentRoom() != nil {
		return nil, domain.Protocolf("already joined")
	}
	p, err := decode[JoinRequest](data)
	if err != nil {
		return nil, err
	}
	if p.Room == "" {
		return nil, domain.Protocolf("missing room id")
	}
	if err := domain.ValidatePeerName(p.Name); err != nil {
		return nil, domain.Protocolf("%v", err)
	}

	peer := &domain.Peer{ID: sess.id, Name: p.Name}
	room, err := ctl.Registry.Join(domain.RoomID(p.Room), p.Password, peer, sess.conn)
	if err != nil {
		return nil, err
	}
	sess.joinedRoom(room, p.Name)

	log.Info().Str("module", "signal").Str("peer", string(sess.id)).Str("room", p.Room).Bool("host", peer.Host).Msg("join")
	ctl.broadcast(room, sess.id, EvUserJoined, PeerEvent{Peer: *peer})

	return JoinResponse{
		PeerID:       sess.id,
		IsHost:       peer.Host,
		Capabilities: room.Router().Capabilities(),
		Snapshot:     room.Snapshot(),
	}, nil
}

// handleLeave exits the room without dropping the socket.
func (ctl *Controller) handleLeave(sess *session) (any, error) {
	if sess.currentRoom() == nil {
		return nil, domain.Protocolf("not joined to a room")
	}
	ctl.leaveRoom(sess)
	return struct{}{}, nil
}

// leaveRoom is the single teardown path, used by both explicit leave
// and socket disconnect. Media handles go first, in reverse-dependency
// order; membership and host succession follow.
func (ctl *Controller) leaveRoom(sess *session) {
	room := sess.takeRoom()
	if room == nil {
		return
	}
	ctl.Limiter.Forget(sess.id)

	for _, producerID := range room.TeardownPeer(sess.id) {
		ctl.broadcast(room, sess.id, EvProducerClosed, ProducerClosedEvent{
			PeerID:     sess.id,
			ProducerID: producerID,
		})
	}

	removed, newHost, deleted := ctl.Registry.RemovePeer(room.Meta().ID, sess.id)
	if deleted {
		return
	}
	if removed != nil {
		ctl.broadcast(room, sess.id, EvUserLeft, PeerEvent{Peer: *removed})
	}
	if newHost != nil {
		log.Info().Str("module", "signal").Str("room", string(room.Meta().ID)).Str("host", string(newHost.ID)).Msg("host changed")
		ctl.broadcast(room, "", EvHostChanged, PeerEvent{Peer: *newHost})
	}
}

// handleMute is the single privileged operation: the host instructs a
// target peer's client to disable its own media locally. The server
// never touches another peer's producers.
func (ctl *Controller) handleMute(sess *session, data json.RawMessage) (any, error) {
	room, err := ctl.joinedRoomOf(sess)
	if err != nil {
		return nil, err
	}
	p, err := decode[MuteRequest](data)
	if err != nil {
		return nil, err
	}
	if !room.IsHost(sess.id) {
		return nil, domain.Permissionf("only the host can mute participants")
	}
	if !p.Kind.Valid() {
		return nil, domain.Protocolf("unknown media kind %q", p.Kind)
	}
	if _, ok := room.Peer(p.TargetID); !ok {
		return nil, domain.NotFoundf("peer %s not in room %s", p.TargetID, room.Meta().ID)
	}
	ctl.sendEvent(room, p.TargetID, EvForceMute, ForceMuteEvent{Kind: p.Kind, By: sess.id})
	return struct{}{}, nil
}
