package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/engine"
)

func (ctl *Controller) handleCreateTransport(sess *session, data json.RawMessage) (any, error) {
	room, err := ctl.joinedRoomOf(sess)
	if err != nil {
		return nil, err
	}
	p, err := decode[CreateTransportRequest](data)
	if err != nil {
		return nil, err
	}
	if !p.Direction.Valid() {
		return nil, domain.Protocolf("unknown transport direction %q", p.Direction)
	}

	t, err := room.Router().CreateTransport(sess.id, p.Direction)
	if err != nil {
		return nil, domain.AsSignalError(err)
	}
	if err := room.PutTransport(sess.id, t); err != nil {
		t.Close()
		return nil, err
	}
	// Candidates gathered after the answer trickle down to the owner.
	peerID := sess.id
	transportID := t.ID()
	t.OnICECandidate(func(c engine.ICECandidate) {
		ctl.sendEvent(room, peerID, EvIceCandidate, IceCandidateSignal{
			TransportID: transportID,
			Candidate:   c,
		})
	})
	log.Info().Str("module", "signal").Str("peer", string(sess.id)).Str("transport_id", t.ID()).Str("direction", string(p.Direction)).Msg("transport created")
	return t.Info(), nil
}

func (ctl *Controller) handleConnectTransport(sess *session, data json.RawMessage) (any, error) {
	room, err := ctl.joinedRoomOf(sess)
	if err != nil {
		return nil, err
	}
	p, err := decode[ConnectTransportRequest](data)
	if err != nil {
		return nil, err
	}
	t, err := room.Transport(sess.id, p.TransportID)
	if err != nil {
		return nil, err
	}
	answer, err := t.Connect(p.SDP)
	if err != nil {
		return nil, domain.AsSignalError(err)
	}
	return ConnectTransportResponse{SDP: answer}, nil
}

func (ctl *Controller) handleIceCandidate(sess *session, data json.RawMessage) (any, error) {
	room, err := ctl.joinedRoomOf(sess)
	if err != nil {
		return nil, err
	}
	p, err := decode[IceCandidateSignal](data)
	if err != nil {
		return nil, err
	}
	t, err := room.Transport(sess.id, p.TransportID)
	if err != nil {
		return nil, err
	}
	if err := t.AddICECandidate(p.Candidate); err != nil {
		return nil, domain.AsSignalError(err)
	}
	return struct{}{}, nil
}

func (ctl *Controller) handleProduce(sess *session, data json.RawMessage) (any, error) {
	room, err := ctl.joinedRoomOf(sess)
	if err != nil {
		return nil, err
	}
	p, err := decode[ProduceRequest](data)
	if err != nil {
		return nil, err
	}
	if !p.Kind.Valid() {
		return nil, domain.Protocolf("unknown media kind %q", p.Kind)
	}
	if _, err := room.Transport(sess.id, p.TransportID); err != nil {
		return nil, err
	}

	producer, err := room.Router().CreateProducer(p.TransportID, p.Kind, p.Params)
	if err != nil {
		return nil, domain.AsSignalError(err)
	}
	if err := room.PutProducer(sess.id, producer); err != nil {
		producer.Close()
		return nil, err
	}
	// Flagged on the produce request itself so the announcement routes
	// screen tracks correctly from the first consume.
	if p.ScreenShare {
		if err := room.MarkScreenShare(sess.id, producer.ID()); err != nil {
			return nil, err
		}
	}

	log.Info().Str("module", "signal").Str("peer", string(sess.id)).Str("producer_id", producer.ID()).Str("kind", string(p.Kind)).Bool("screen", p.ScreenShare).Msg("producing")
	// Announced to everyone immediately; clients whose receive
	// transport is not ready yet queue the announcement.
	ctl.broadcast(room, sess.id, EvNewProducer, core.ProducerInfo{
		PeerID:      sess.id,
		ProducerID:  producer.ID(),
		Kind:        p.Kind,
		ScreenShare: p.ScreenShare,
	})
	return ProduceResponse{ProducerID: producer.ID()}, nil
}

func (ctl *Controller) handleMarkScreenShare(sess *session, data json.RawMessage) (any, error) {
	room, err := ctl.joinedRoomOf(sess)
	if err != nil {
		return nil, err
	}
	p, err := decode[MarkScreenShareRequest](data)
	if err != nil {
		return nil, err
	}
	if err := room.MarkScreenShare(sess.id, p.ProducerID); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

// handleConsume is steps one and two of the three-step consume
// exchange; the client follows up with resume-consumer.
func (ctl *Controller) handleConsume(sess *session, data json.RawMessage) (any, error) {
	room, err := ctl.joinedRoomOf(sess)
	if err != nil {
		return nil, err
	}
	p, err := decode[ConsumeRequest](data)
	if err != nil {
		return nil, err
	}
	ref, err := room.FindProducer(p.ProducerID)
	if err != nil {
		return nil, err
	}
	if _, err := room.Transport(sess.id, p.TransportID); err != nil {
		return nil, err
	}

	consumer, err := room.Router().CreateConsumer(p.TransportID, p.ProducerID, p.Capabilities)
	if err != nil {
		return nil, domain.AsSignalError(err)
	}
	if err := room.PutConsumer(sess.id, consumer); err != nil {
		consumer.Close()
		return nil, err
	}

	log.Info().Str("module", "signal").Str("peer", string(sess.id)).Str("consumer_id", consumer.ID()).Str("producer_id", p.ProducerID).Msg("consumer created")
	return ConsumeResponse{
		ConsumerInfo: consumer.Info(),
		PeerID:       ref.Owner,
		ScreenShare:  ref.ScreenShare,
	}, nil
}

func (ctl *Controller) handleResumeConsumer(sess *session, data json.RawMessage) (any, error) {
	room, err := ctl.joinedRoomOf(sess)
	if err != nil {
		return nil, err
	}
	p, err := decode[ResumeConsumerRequest](data)
	if err != nil {
		return nil, err
	}
	consumer, err := room.ConsumerByID(sess.id, p.ConsumerID)
	if err != nil {
		return nil, err
	}
	if err := consumer.Resume(); err != nil {
		return nil, domain.AsSignalError(err)
	}
	return struct{}{}, nil
}

func (ctl *Controller) handleGetProducers(sess *session) (any, error) {
	room, err := ctl.joinedRoomOf(sess)
	if err != nil {
		return nil, err
	}
	return GetProducersResponse{Producers: room.Producers(sess.id)}, nil
}
