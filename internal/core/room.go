package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/engine"
)

// ProducerRef tags an engine producer with its owner and routing hints.
type ProducerRef struct {
	Producer    engine.Producer
	Owner       domain.PeerID
	Kind        domain.MediaKind
	ScreenShare bool
}

type peerState struct {
	meta *domain.Peer
	conn SignalConnection

	// At most one transport per direction.
	transports map[string]engine.Transport
	byDir      map[domain.TransportDirection]string
	// Producers and consumers keyed by producer id; one consumer per
	// (remote producer, local peer) pair.
	producers map[string]*ProducerRef
	consumers map[string]engine.Consumer
}

func newPeerState(meta *domain.Peer, conn SignalConnection) *peerState {
	return &peerState{
		meta:       meta,
		conn:       conn,
		transports: make(map[string]engine.Transport),
		byDir:      make(map[domain.TransportDirection]string),
		producers:  make(map[string]*ProducerRef),
		consumers:  make(map[string]engine.Consumer),
	}
}

// Room is a threadsafe in-memory room. All shared mutable state lives
// behind mu; engine calls that can block are made by the signaling
// layer before or after the locked section, never inside it.
type Room struct {
	meta   *domain.Room
	router engine.Router

	mu         sync.Mutex
	peers      map[domain.PeerID]*peerState
	hostID     domain.PeerID
	polls      map[string]*domain.Poll
	pollOrder  []string
	board      domain.Whiteboard
	notes      string
	presenting map[domain.PresentingSurface]domain.PresentingState
}

func NewRoom(meta *domain.Room, router engine.Router) *Room {
	return &Room{
		meta:       meta,
		router:     router,
		peers:      make(map[domain.PeerID]*peerState),
		polls:      make(map[string]*domain.Poll),
		presenting: make(map[domain.PresentingSurface]domain.PresentingState),
	}
}

func (r *Room) Meta() *domain.Room    { return r.meta }
func (r *Room) Router() engine.Router { return r.router }

// AddPeer inserts the peer; the first peer of a room becomes host.
// A connection id already present is rejected rather than overwritten,
// so a duplicate join can never orphan the first connection's media.
func (r *Room) AddPeer(meta *domain.Peer, conn SignalConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.peers[meta.ID]; exists {
		return domain.Protocolf("peer %s is already in room %s", meta.ID, r.meta.ID)
	}
	if r.hostID == "" {
		r.hostID = meta.ID
		meta.Host = true
	}
	r.peers[meta.ID] = newPeerState(meta, conn)
	log.Info().Str("module", "core.room").Str("room", string(r.meta.ID)).Str("peer", string(meta.ID)).Bool("host", meta.Host).Msg("peer added")
	return nil
}

// RemovePeer deletes the peer and, when the host leaves, promotes the
// remaining peer with the earliest join timestamp.
func (r *Room) RemovePeer(id domain.PeerID) (removed, newHost *domain.Peer, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.peers[id]
	if !ok {
		return nil, nil, len(r.peers) == 0
	}
	delete(r.peers, id)
	removed = ps.meta

	if r.hostID == id {
		r.hostID = ""
		for _, cand := range r.peers {
			if newHost == nil || cand.meta.JoinedAt.Before(newHost.JoinedAt) {
				newHost = cand.meta
			}
		}
		if newHost != nil {
			newHost.Host = true
			r.hostID = newHost.ID
		}
	}
	log.Info().Str("module", "core.room").Str("room", string(r.meta.ID)).Str("peer", string(id)).Msg("peer removed")
	return removed, newHost, len(r.peers) == 0
}

func (r *Room) HostID() domain.PeerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostID
}

func (r *Room) IsHost(id domain.PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostID == id && id != ""
}

func (r *Room) PeerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

func (r *Room) Peer(id domain.PeerID) (domain.Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ps, ok := r.peers[id]; ok {
		return *ps.meta, true
	}
	return domain.Peer{}, false
}

func (r *Room) Peers() []domain.Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peersLocked()
}

func (r *Room) peersLocked() []domain.Peer {
	out := make([]domain.Peer, 0, len(r.peers))
	for _, ps := range r.peers {
		out = append(out, *ps.meta)
	}
	return out
}

// Broadcast fans a frame out to every peer except from. Slow receivers
// are reported, not blocked on.
func (r *Room) Broadcast(from domain.PeerID, data Frame) PublishResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := PublishResult{}
	for id, ps := range r.peers {
		if id == from {
			continue
		}
		if err := ps.conn.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, id)
			continue
		}
		res.SentTo++
	}
	return res
}

func (r *Room) SendTo(id domain.PeerID, data Frame) error {
	r.mu.Lock()
	ps, ok := r.peers[id]
	r.mu.Unlock()
	if !ok {
		return domain.NotFoundf("peer %s not in room %s", id, r.meta.ID)
	}
	return ps.conn.TrySend(data)
}

// Snapshot returns the state a late joiner receives: roster, board,
// notes, polls (open and closed) and presenting toggles.
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := Snapshot{
		Peers: r.peersLocked(),
		Board: r.board.Snapshot(),
		Notes: r.notes,
		Polls: make([]domain.Poll, 0, len(r.pollOrder)),
	}
	for _, id := range r.pollOrder {
		snap.Polls = append(snap.Polls, copyPoll(r.polls[id]))
	}
	for _, st := range r.presenting {
		snap.Presenting = append(snap.Presenting, st)
	}
	return snap
}
