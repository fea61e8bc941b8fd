package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/jerome244/code-graph-explorer/internal/domain"
	"github.com/jerome244/code-graph-explorer/internal/metrics"
)

const (
	fieldEntities = "entities"
	fieldChat     = "chat"

	// Checkpoints of rooms nobody revisits expire on their own.
	stateTTL = 24 * time.Hour
)

// StateStore persists room checkpoints as a Redis hash per room. All
// operations run through a circuit breaker so repeated Redis failures
// fail fast instead of holding a connection slot per call.
type StateStore struct {
	rdb     *goredis.Client
	breaker *gobreaker.CircuitBreaker
}

func NewStateStore(rdb *goredis.Client) *StateStore {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "room-state",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("State store circuit breaker changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			metrics.StateStoreCircuitState.Set(circuitStateValue(to))
		},
	})
	return &StateStore{rdb: rdb, breaker: breaker}
}

// Load returns the persisted state for a room, or (nil, nil) when the
// room has no checkpoint.
func (s *StateStore) Load(ctx context.Context, roomID string) (*domain.RoomState, error) {
	v, err := s.breaker.Execute(func() (any, error) {
		return s.rdb.HGetAll(ctx, stateKey(roomID)).Result()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load room state: %w", err)
	}

	fields := v.(map[string]string)
	if len(fields) == 0 {
		return nil, nil
	}

	state := domain.RoomState{Entities: make(map[string]domain.Entity)}
	if raw, ok := fields[fieldEntities]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &state.Entities); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entities: %w", err)
		}
	}
	if raw, ok := fields[fieldChat]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &state.Chat); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chat backlog: %w", err)
		}
	}
	return &state, nil
}

func (s *StateStore) Save(ctx context.Context, roomID string, state domain.RoomState) error {
	entities, err := json.Marshal(state.Entities)
	if err != nil {
		return fmt.Errorf("failed to marshal entities: %w", err)
	}
	chat, err := json.Marshal(state.Chat)
	if err != nil {
		return fmt.Errorf("failed to marshal chat backlog: %w", err)
	}

	_, err = s.breaker.Execute(func() (any, error) {
		key := stateKey(roomID)
		pipe := s.rdb.Pipeline()
		pipe.HSet(ctx, key, map[string]any{
			fieldEntities: string(entities),
			fieldChat:     string(chat),
		})
		pipe.Expire(ctx, key, stateTTL)
		return pipe.Exec(ctx)
	})
	if err != nil {
		metrics.CheckpointFailuresTotal.Inc()
		return fmt.Errorf("failed to save room state: %w", err)
	}
	return nil
}

func (s *StateStore) Delete(ctx context.Context, roomID string) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return s.rdb.Del(ctx, stateKey(roomID)).Result()
	})
	return err
}

func stateKey(roomID string) string {
	return "room:state:" + roomID
}

func circuitStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
