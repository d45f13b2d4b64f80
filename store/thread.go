package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ThreadScope selects which persisted thread id a chat session uses. Public
// takes precedence over AgentID.
type ThreadScope struct {
	Public  bool
	AgentID string
}

// Key is the storage key for the scope. Keys of different scopes never
// collide.
func (s ThreadScope) Key() string {
	switch {
	case s.Public:
		return "aicp_public_thread_id"
	case s.AgentID != "":
		return "aicp_agent_" + s.AgentID + "_thread_id"
	default:
		return "aicp_thread_id"
	}
}

func (s ThreadScope) String() string {
	switch {
	case s.Public:
		return "public"
	case s.AgentID != "":
		return "agent:" + s.AgentID
	default:
		return "default"
	}
}

// NewThreadID synthesizes a client side thread id.
func NewThreadID() string {
	return "user-thread-" + uuid.NewString()
}

// ThreadID returns the persisted id for scope, creating and persisting a new
// one when absent. created reports whether a new id was generated.
func (s *Store) ThreadID(ctx context.Context, scope ThreadScope) (id string, created bool, err error) {
	id, ok, err := s.Get(ctx, scope.Key())
	if err != nil {
		return "", false, fmt.Errorf("store: load thread id: %w", err)
	}
	if ok && id != "" {
		return id, false, nil
	}
	id = NewThreadID()
	if err := s.Set(ctx, scope.Key(), id); err != nil {
		return "", false, fmt.Errorf("store: save thread id: %w", err)
	}
	return id, true, nil
}

// ResetThreadID discards the persisted id for scope and stores a fresh one.
func (s *Store) ResetThreadID(ctx context.Context, scope ThreadScope) (string, error) {
	if err := s.Delete(ctx, scope.Key()); err != nil {
		return "", fmt.Errorf("store: clear thread id: %w", err)
	}
	id := NewThreadID()
	if err := s.Set(ctx, scope.Key(), id); err != nil {
		return "", fmt.Errorf("store: save thread id: %w", err)
	}
	return id, nil
}

// SetThreadID persists id for scope.
func (s *Store) SetThreadID(ctx context.Context, scope ThreadScope, id string) error {
	if err := s.Set(ctx, scope.Key(), id); err != nil {
		return fmt.Errorf("store: save thread id: %w", err)
	}
	return nil
}

// LookupThreadID returns the persisted id for scope without creating one.
func (s *Store) LookupThreadID(ctx context.Context, scope ThreadScope) (string, bool, error) {
	return s.Get(ctx, scope.Key())
}
