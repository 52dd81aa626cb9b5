package core

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/engine"
)

// Registry is the injected, explicitly-owned room table. Rooms are
// created on first reference and deleted the moment their last peer
// leaves; an empty room never persists.
type Registry struct {
	engine engine.Engine
	now    func() time.Time

	mu    sync.Mutex
	rooms map[domain.RoomID]*Room
}

func NewRegistry(eng engine.Engine) *Registry {
	return &Registry{
		engine: eng,
		now:    time.Now,
		rooms:  make(map[domain.RoomID]*Room),
	}
}

// Join resolves the room (validating the password) or creates a fresh
// one, router included, and adds the peer — all under the registry
// lock, so a concurrent last-peer leave can never delete the room
// between resolution and membership. A router-creation failure fails
// this join only, not the process.
func (r *Registry) Join(id domain.RoomID, password string, peer *domain.Peer, conn SignalConnection) (*Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if ok {
		if err := room.Meta().CheckPassword(password); err != nil {
			return nil, err
		}
	} else {
		router, err := r.engine.CreateRouter(id)
		if err != nil {
			return nil, domain.EngineError(err)
		}
		room = NewRoom(&domain.Room{ID: id, Password: password, CreatedAt: r.now()}, router)
		r.rooms[id] = room
		log.Info().Str("module", "core.registry").Str("room", string(id)).Bool("protected", password != "").Msg("room created")
	}
	peer.JoinedAt = r.now()
	if err := room.AddPeer(peer, conn); err != nil {
		return nil, err
	}
	return room, nil
}

func (r *Registry) Get(id domain.RoomID) (*Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return nil, domain.NotFoundf("unknown room %s", id)
	}
	return room, nil
}

// RemovePeer removes the peer from the room and deletes the room
// outright when it empties, closing its router.
func (r *Registry) RemovePeer(id domain.RoomID, peerID domain.PeerID) (removed, newHost *domain.Peer, deleted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return nil, nil, false
	}
	removed, newHost, empty := room.RemovePeer(peerID)
	if empty {
		delete(r.rooms, id)
		room.Router().Close()
		log.Info().Str("module", "core.registry").Str("room", string(id)).Msg("room deleted, last peer left")
		return removed, nil, true
	}
	return removed, newHost, false
}

func (r *Registry) List() []RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RoomInfo, 0, len(r.rooms))
	for id, room := range r.rooms {
		out = append(out, RoomInfo{
			ID:        id,
			PeerCount: room.PeerCount(),
			Protected: room.Meta().Password != "",
		})
	}
	return out
}
