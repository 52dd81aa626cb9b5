package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Huddle/internal/domain"
)

func joinRoom(t *testing.T, reg *Registry, roomID domain.RoomID, password string, id domain.PeerID) (*Room, *domain.Peer) {
	t.Helper()
	peer, err := domain.NewPeer(id, "peer-"+string(id), time.Time{})
	require.NoError(t, err)
	room, err := reg.Join(roomID, password, peer, &fakeConn{})
	require.NoError(t, err)
	return room, peer
}

func TestJoinCreatesRoomWithPassword(t *testing.T) {
	eng := &fakeEngine{}
	reg := NewRegistry(eng)

	room, peer := joinRoom(t, reg, "meeting", "s3cret", "a")
	assert.Equal(t, "s3cret", room.Meta().Password)
	assert.True(t, peer.Host)
	assert.False(t, peer.JoinedAt.IsZero())
	require.Len(t, eng.routers, 1)

	// Same id resolves to the same room, no second router.
	again, _ := joinRoom(t, reg, "meeting", "s3cret", "b")
	assert.Same(t, room, again)
	assert.Len(t, eng.routers, 1)
	assert.Equal(t, 2, room.PeerCount())
}

func TestJoinWrongPassword(t *testing.T) {
	eng := &fakeEngine{}
	reg := NewRegistry(eng)
	joinRoom(t, reg, "meeting", "s3cret", "a")

	peer, err := domain.NewPeer("b", "peer-b", time.Time{})
	require.NoError(t, err)
	_, err = reg.Join("meeting", "wrong", peer, &fakeConn{})
	var serr *domain.SignalError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, domain.CodeAuth, serr.Code)
}

func TestOpenRoomAdmitsAnyPassword(t *testing.T) {
	eng := &fakeEngine{}
	reg := NewRegistry(eng)
	joinRoom(t, reg, "lobby", "", "a")
	joinRoom(t, reg, "lobby", "whatever", "b")
}

func TestJoinRejectsDuplicatePeerID(t *testing.T) {
	eng := &fakeEngine{}
	reg := NewRegistry(eng)
	joinRoom(t, reg, "meeting", "", "a")

	dup, err := domain.NewPeer("a", "second-tab", time.Time{})
	require.NoError(t, err)
	_, err = reg.Join("meeting", "", dup, &fakeConn{})
	var serr *domain.SignalError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, domain.CodeProtocol, serr.Code)
}

func TestEmptyRoomDeletedAndRouterClosed(t *testing.T) {
	eng := &fakeEngine{}
	reg := NewRegistry(eng)
	joinRoom(t, reg, "meeting", "", "a")

	removed, newHost, deleted := reg.RemovePeer("meeting", "a")
	require.NotNil(t, removed)
	assert.Nil(t, newHost)
	assert.True(t, deleted)

	router := eng.routers[0]
	assert.Equal(t, 1, router.closed)
	_, err := reg.Get("meeting")
	assert.Error(t, err)
	assert.Empty(t, reg.List())
}

func TestJoinAfterLastPeerLeftGetsFreshRoom(t *testing.T) {
	eng := &fakeEngine{}
	reg := NewRegistry(eng)
	stale, _ := joinRoom(t, reg, "meeting", "", "a")

	_, _, deleted := reg.RemovePeer("meeting", "a")
	require.True(t, deleted)

	// The next joiner lands in a new tracked room with a live router,
	// never the deleted one whose router is already closed.
	room, peer := joinRoom(t, reg, "meeting", "", "b")
	assert.NotSame(t, stale, room)
	assert.True(t, peer.Host)
	assert.Equal(t, 1, room.PeerCount())
	require.Len(t, eng.routers, 2)
	assert.Equal(t, 1, eng.routers[0].closed)
	assert.Equal(t, 0, eng.routers[1].closed)

	got, err := reg.Get("meeting")
	require.NoError(t, err)
	assert.Same(t, room, got)
}

func TestRemovePeerPromotesSuccessor(t *testing.T) {
	eng := &fakeEngine{}
	reg := NewRegistry(eng)
	base := time.Now()
	clock := base
	reg.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	joinRoom(t, reg, "meeting", "", "host")
	joinRoom(t, reg, "meeting", "", "next")
	joinRoom(t, reg, "meeting", "", "late")

	removed, newHost, deleted := reg.RemovePeer("meeting", "host")
	require.NotNil(t, removed)
	require.NotNil(t, newHost)
	assert.False(t, deleted)
	assert.Equal(t, domain.PeerID("next"), newHost.ID)

	again, err := reg.Get("meeting")
	require.NoError(t, err)
	assert.True(t, again.IsHost("next"))
}

func TestRemovePeerFromUnknownRoom(t *testing.T) {
	reg := NewRegistry(&fakeEngine{})
	removed, newHost, deleted := reg.RemovePeer("ghost", "a")
	assert.Nil(t, removed)
	assert.Nil(t, newHost)
	assert.False(t, deleted)
}

func TestListReportsProtection(t *testing.T) {
	eng := &fakeEngine{}
	reg := NewRegistry(eng)
	joinRoom(t, reg, "open", "", "a")
	joinRoom(t, reg, "locked", "pw", "b")

	infos := reg.List()
	require.Len(t, infos, 2)
	byID := map[domain.RoomID]RoomInfo{}
	for _, info := range infos {
		byID[info.ID] = info
	}
	assert.False(t, byID["open"].Protected)
	assert.True(t, byID["locked"].Protected)
	assert.Equal(t, 1, byID["open"].PeerCount)
}
