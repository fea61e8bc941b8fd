package room

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jerome244/code-graph-explorer/internal/domain"
	"github.com/jerome244/code-graph-explorer/internal/logging"
	"github.com/jerome244/code-graph-explorer/internal/metrics"
)

// joinAttempts bounds the closed-room retry loop. A room that drains to
// empty between lookup and join is recreated on the next attempt.
const joinAttempts = 3

// Registry owns the roomID to actor map. It is the only structure shared
// across room actors; the mutex is held only for map operations, never
// during store I/O or command handling.
type Registry struct {
	clock           clockwork.Clock
	store           domain.RoomStateStore
	maxMembers      int
	checkpointEvery time.Duration

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewRegistry(clock clockwork.Clock, store domain.RoomStateStore, maxMembers int, checkpointEvery time.Duration) *Registry {
	return &Registry{
		clock:           clock,
		store:           store,
		maxMembers:      maxMembers,
		checkpointEvery: checkpointEvery,
		rooms:           make(map[string]*Room),
	}
}

// Join finds or creates the room and registers the client with it. A
// join that races room destruction retries against a fresh room.
func (reg *Registry) Join(ctx context.Context, roomID string, kind domain.RoomKind, client *Client) (*Room, error) {
	for attempt := 0; attempt < joinAttempts; attempt++ {
		r := reg.getOrCreate(ctx, roomID, kind)
		err := r.Join(client)
		if errors.Is(err, domain.ErrRoomClosed) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, domain.ErrRoomClosed
}

func (reg *Registry) getOrCreate(ctx context.Context, roomID string, kind domain.RoomKind) *Room {
	reg.mu.Lock()
	if r, ok := reg.rooms[roomID]; ok {
		reg.mu.Unlock()
		return r
	}
	reg.mu.Unlock()

	// Checkpointed state is loaded outside the lock. If another join
	// wins the race below, the loaded state is simply discarded.
	initial := reg.loadState(ctx, roomID, kind)

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, ok := reg.rooms[roomID]; ok {
		return r
	}

	var store domain.RoomStateStore
	if kind == domain.RoomKindGraph {
		store = reg.store
	}
	r := newRoom(roomID, kind, reg.maxMembers, reg.checkpointEvery, reg.clock, store, initial, reg.release)
	reg.rooms[roomID] = r
	metrics.RoomsActive.Set(float64(len(reg.rooms)))
	metrics.RoomsCreatedTotal.WithLabelValues(string(kind)).Inc()
	logging.WithRoom(roomID).Info("Room created", "kind", kind)
	return r
}

// release removes a drained room. Pointer compared so a freshly created
// room under the same id is never evicted by its predecessor.
func (reg *Registry) release(r *Room) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if current, ok := reg.rooms[r.id]; ok && current == r {
		delete(reg.rooms, r.id)
		metrics.RoomsActive.Set(float64(len(reg.rooms)))
		logging.WithRoom(r.id).Info("Room released")
	}
}

func (reg *Registry) loadState(ctx context.Context, roomID string, kind domain.RoomKind) *domain.RoomState {
	if reg.store == nil || kind != domain.RoomKindGraph {
		return nil
	}
	loadCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	state, err := reg.store.Load(loadCtx, roomID)
	if err != nil {
		logging.WithError(err).Error("Failed to load room state, starting empty", "room_id", roomID)
		return nil
	}
	return state
}

// Shutdown stops every room: final checkpoints, close frames to all
// clients. Used during graceful server shutdown.
func (reg *Registry) Shutdown() {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.Unlock()

	for _, r := range rooms {
		r.Stop()
	}
	slog.Info("Room registry shut down", "rooms", len(rooms))
}

// Count returns the number of live rooms.
func (reg *Registry) Count() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}
