package domain

import "context"

// RoomStateStore checkpoints room state to the external fast key-value
// layer. Rooms are ephemeral: a Load miss returns (nil, nil) and Save
// failures must degrade to log-and-continue, never to a dead room.
type RoomStateStore interface {
	Load(ctx context.Context, roomID string) (*RoomState, error)
	Save(ctx context.Context, roomID string, state RoomState) error
	Delete(ctx context.Context, roomID string) error
}
