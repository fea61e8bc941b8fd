package room

import (
	"context"
	"fmt"
	"sync"
	"testing"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jerome244/code-graph-explorer/internal/domain"
)

func TestRegistry_SingleRoomUnderConcurrentJoins(t *testing.T) {
	reg := newTestRegistry(t, nil, 16)

	const joiners = 10
	clients := make([]*Client, joiners)
	for i := range clients {
		serverConn, _ := newTestConnPair(t)
		clients[i] = NewClient(serverConn, clockwork.NewRealClock(), peer(fmt.Sprintf("u%d", i), "user"), domain.RoleEditor)
	}

	var wg sync.WaitGroup
	rooms := make([]*Room, joiners)
	for i := range clients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := reg.Join(context.Background(), "room-1", domain.RoomKindGraph, clients[i])
			require.NoError(t, err)
			rooms[i] = r
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, reg.Count())
	for i := 1; i < joiners; i++ {
		assert.Same(t, rooms[0], rooms[i])
	}
}

func TestRegistry_RoomRecreatedAfterDraining(t *testing.T) {
	reg := newTestRegistry(t, nil, 8)

	first, client, _ := joinPeer(t, reg, "room-1", domain.RoomKindGraph, peer("u1", "alice"), domain.RoleOwner)
	first.Leave(client)

	waitFor(t, func() bool { return reg.Count() == 0 })

	second, _, conn := joinPeer(t, reg, "room-1", domain.RoomKindGraph, peer("u2", "bob"), domain.RoleEditor)
	assert.NotSame(t, first, second)

	welcome := readEvent(t, conn)
	assert.Equal(t, "welcome", welcome["type"])
}

func TestRegistry_JoinOnDrainedRoomPointerFails(t *testing.T) {
	reg := newTestRegistry(t, nil, 8)

	r, client, _ := joinPeer(t, reg, "room-1", domain.RoomKindGraph, peer("u1", "alice"), domain.RoleOwner)
	r.Leave(client)
	waitFor(t, func() bool { return reg.Count() == 0 })

	serverConn, _ := newTestConnPair(t)
	late := NewClient(serverConn, clockwork.NewRealClock(), peer("u2", "bob"), domain.RoleEditor)
	err := r.Join(late)
	require.ErrorIs(t, err, domain.ErrRoomClosed)
	late.Close()
}

func TestRegistry_ShutdownSendsCloseFrames(t *testing.T) {
	reg := NewRegistry(clockwork.NewRealClock(), nil, 8, 0)
	_, _, conn := joinPeer(t, reg, "room-1", domain.RoomKindGraph, peer("u1", "alice"), domain.RoleOwner)
	readEvent(t, conn) // welcome

	reg.Shutdown()

	_, _, err := conn.ReadMessage()
	var closeErr *ws.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, 1001, closeErr.Code)
	assert.Equal(t, 0, reg.Count())
}

func TestRegistry_IsolatedRooms(t *testing.T) {
	reg := newTestRegistry(t, nil, 8)

	r1, alice, _ := joinPeer(t, reg, "room-1", domain.RoomKindGraph, peer("u1", "alice"), domain.RoleEditor)
	r2, bob, bobConn := joinPeer(t, reg, "room-2", domain.RoomKindGraph, peer("u2", "bob"), domain.RoleEditor)
	readEvent(t, bobConn) // welcome

	r1.MoveNode(alice, "n1", 1, 1)
	r1.Chat(alice, "only room 1")

	// Bob sees his own snapshot untouched by room-1 traffic.
	r2.RequestSnapshot(bob)
	state := readUntilType(t, bobConn, "state")
	assert.Empty(t, state["entities"])
	assert.Empty(t, state["chat"])
	assert.Equal(t, 2, reg.Count())
}
