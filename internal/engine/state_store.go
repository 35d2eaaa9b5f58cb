package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const stateTTL = 72 * time.Hour

// StateStore persists ConversationState between turns.
type StateStore interface {
	Save(ctx context.Context, state *ConversationState) error
	Load(ctx context.Context, conversationID string) (*ConversationState, error)
}

// redisStateStore keeps live conversation state in Redis; long-term history
// belongs to the transcript store.
type redisStateStore struct {
	redis  *redis.Client
	tracer trace.Tracer
}

// NewRedisStateStore builds the Redis-backed state store.
func NewRedisStateStore(client *redis.Client, tracer trace.Tracer) StateStore {
	if client == nil {
		panic("engine: redis client cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("havenline.engine.state")
	}
	return &redisStateStore{redis: client, tracer: tracer}
}

func (s *redisStateStore) Save(ctx context.Context, state *ConversationState) error {
	ctx, span := s.tracer.Start(ctx, "engine.save_state")
	defer span.End()

	if state == nil || state.ConversationID == "" {
		return fmt.Errorf("engine: state requires a conversation id")
	}
	data, err := json.Marshal(state)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("engine: failed to marshal state: %w", err)
	}
	if err := s.redis.Set(ctx, stateKey(state.ConversationID), data, stateTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("engine: failed to persist state: %w", err)
	}
	return nil
}

// Load returns (nil, nil) for an unknown conversation so the engine can
// create fresh state on the first turn.
func (s *redisStateStore) Load(ctx context.Context, conversationID string) (*ConversationState, error) {
	ctx, span := s.tracer.Start(ctx, "engine.load_state")
	defer span.End()

	data, err := s.redis.Get(ctx, stateKey(conversationID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("engine: failed to load state: %w", err)
	}

	var state ConversationState
	if err := json.Unmarshal(data, &state); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("engine: failed to decode state: %w", err)
	}
	return &state, nil
}

func stateKey(id string) string {
	return fmt.Sprintf("conversation_state:%s", id)
}

// MemoryStateStore is an in-process StateStore for tests and single-node
// development runs. The mutex covers the map only; different conversations
// save and load concurrently.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]*ConversationState
}

// NewMemoryStateStore builds an empty in-memory store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]*ConversationState)}
}

func (s *MemoryStateStore) Save(ctx context.Context, state *ConversationState) error {
	if state == nil || state.ConversationID == "" {
		return fmt.Errorf("engine: state requires a conversation id")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("engine: failed to marshal state: %w", err)
	}
	var clone ConversationState
	if err := json.Unmarshal(data, &clone); err != nil {
		return fmt.Errorf("engine: failed to clone state: %w", err)
	}
	s.mu.Lock()
	s.states[state.ConversationID] = &clone
	s.mu.Unlock()
	return nil
}

func (s *MemoryStateStore) Load(ctx context.Context, conversationID string) (*ConversationState, error) {
	s.mu.Lock()
	state, ok := s.states[conversationID]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to marshal state: %w", err)
	}
	var clone ConversationState
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, fmt.Errorf("engine: failed to clone state: %w", err)
	}
	return &clone, nil
}
