package core

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/engine"
)

// PutTransport registers a freshly created transport for the peer.
// A peer owns at most one transport per direction.
func (r *Room) PutTransport(peerID domain.PeerID, t engine.Transport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.peers[peerID]
	if !ok {
		return domain.NotFoundf("peer %s not in room %s", peerID, r.meta.ID)
	}
	if _, exists := ps.byDir[t.Direction()]; exists {
		return domain.Protocolf("peer %s already has a %s transport", peerID, t.Direction())
	}
	ps.transports[t.ID()] = t
	ps.byDir[t.Direction()] = t.ID()
	return nil
}

func (r *Room) Transport(peerID domain.PeerID, transportID string) (engine.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.peers[peerID]
	if !ok {
		return nil, domain.NotFoundf("peer %s not in room %s", peerID, r.meta.ID)
	}
	t, ok := ps.transports[transportID]
	if !ok {
		return nil, domain.NotFoundf("unknown transport %s", transportID)
	}
	return t, nil
}

func (r *Room) PutProducer(peerID domain.PeerID, p engine.Producer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.peers[peerID]
	if !ok {
		return domain.NotFoundf("peer %s not in room %s", peerID, r.meta.ID)
	}
	ps.producers[p.ID()] = &ProducerRef{
		Producer: p,
		Owner:    peerID,
		Kind:     p.Kind(),
	}
	return nil
}

// MarkScreenShare tags an existing producer so downstream peers can
// route it to a screen slot instead of the camera slot.
func (r *Room) MarkScreenShare(peerID domain.PeerID, producerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.peers[peerID]
	if !ok {
		return domain.NotFoundf("peer %s not in room %s", peerID, r.meta.ID)
	}
	ref, ok := ps.producers[producerID]
	if !ok {
		return domain.NotFoundf("unknown producer %s", producerID)
	}
	ref.ScreenShare = true
	return nil
}

// FindProducer locates a producer anywhere in the room.
func (r *Room) FindProducer(producerID string) (*ProducerRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ps := range r.peers {
		if ref, ok := ps.producers[producerID]; ok {
			return ref, nil
		}
	}
	return nil, domain.NotFoundf("unknown producer %s", producerID)
}

// Producers lists every producer owned by peers other than except.
func (r *Room) Producers(except domain.PeerID) []ProducerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ProducerInfo
	for id, ps := range r.peers {
		if id == except {
			continue
		}
		for pid, ref := range ps.producers {
			out = append(out, ProducerInfo{
				PeerID:      id,
				ProducerID:  pid,
				Kind:        ref.Kind,
				ScreenShare: ref.ScreenShare,
			})
		}
	}
	return out
}

// PutConsumer registers a consumer keyed by the remote producer id,
// enforcing one consumer per (remote producer, local peer) pair.
func (r *Room) PutConsumer(peerID domain.PeerID, c engine.Consumer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.peers[peerID]
	if !ok {
		return domain.NotFoundf("peer %s not in room %s", peerID, r.meta.ID)
	}
	if _, exists := ps.consumers[c.ProducerID()]; exists {
		return domain.Protocolf("peer %s already consumes producer %s", peerID, c.ProducerID())
	}
	ps.consumers[c.ProducerID()] = c
	return nil
}

func (r *Room) ConsumerByID(peerID domain.PeerID, consumerID string) (engine.Consumer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.peers[peerID]
	if !ok {
		return nil, domain.NotFoundf("peer %s not in room %s", peerID, r.meta.ID)
	}
	for _, c := range ps.consumers {
		if c.ID() == consumerID {
			return c, nil
		}
	}
	return nil, domain.NotFoundf("unknown consumer %s", consumerID)
}

// TeardownPeer releases every media handle the peer owns, consumers
// and producers before transports. It tolerates handles that never
// finished being created and is safe to call more than once.
func (r *Room) TeardownPeer(peerID domain.PeerID) (closedProducers []string) {
	r.mu.Lock()
	ps, ok := r.peers[peerID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	consumers := make([]engine.Consumer, 0, len(ps.consumers))
	for _, c := range ps.consumers {
		consumers = append(consumers, c)
	}
	producers := make([]*ProducerRef, 0, len(ps.producers))
	for _, ref := range ps.producers {
		producers = append(producers, ref)
	}
	transports := make([]engine.Transport, 0, len(ps.transports))
	for _, t := range ps.transports {
		transports = append(transports, t)
	}
	ps.consumers = make(map[string]engine.Consumer)
	ps.producers = make(map[string]*ProducerRef)
	ps.transports = make(map[string]engine.Transport)
	ps.byDir = make(map[domain.TransportDirection]string)
	r.mu.Unlock()

	for _, c := range consumers {
		c.Close()
	}
	for _, ref := range producers {
		ref.Producer.Close()
		closedProducers = append(closedProducers, ref.Producer.ID())
	}
	for _, t := range transports {
		t.Close()
	}
	if len(consumers)+len(producers)+len(transports) > 0 {
		log.Info().
			Str("module", "core.room").
			Str("room", string(r.meta.ID)).
			Str("peer", string(peerID)).
			Int("consumers", len(consumers)).
			Int("producers", len(producers)).
			Int("transports", len(transports)).
			Msg("peer media torn down")
	}
	return closedProducers
}
