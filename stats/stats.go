// Package stats serves the dashboard ticket summary, falling back to the
// last cached copy when the backend cannot be reached.
package stats

import (
	"context"
	"fmt"

	"gridlink/core"
	"gridlink/protocol"
	"gridlink/store"
)

// Fetcher is the backend call. *api.Client satisfies it.
type Fetcher interface {
	TicketStats(ctx context.Context) (*protocol.TicketStats, error)
}

// Result is a summary and whether it came from the cache.
type Result struct {
	Stats  protocol.TicketStats
	Cached bool
}

type Service struct {
	fetcher Fetcher
	store   *store.Store
	logger  *core.Logger
}

func NewService(fetcher Fetcher, st *store.Store, logger *core.Logger) *Service {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Service{fetcher: fetcher, store: st, logger: logger.Component("stats")}
}

// Cached returns the stored summary without contacting the backend, or nil.
func (s *Service) Cached(ctx context.Context) *protocol.TicketStats {
	cached, err := s.store.CachedTicketStats(ctx)
	if err != nil {
		s.logger.With(map[string]interface{}{"error": err}).Warn("ignoring unreadable stats cache")
		return nil
	}
	return cached
}

// Refresh fetches a fresh summary and overwrites the cache. When the fetch
// fails and a cached copy exists, the cached copy is returned instead.
func (s *Service) Refresh(ctx context.Context) (Result, error) {
	fresh, err := s.fetcher.TicketStats(ctx)
	if err != nil {
		if cached := s.Cached(ctx); cached != nil {
			s.logger.With(map[string]interface{}{"error": err}).Warn("stats fetch failed, serving cached copy")
			return Result{Stats: *cached, Cached: true}, nil
		}
		return Result{}, fmt.Errorf("stats: fetch: %w", err)
	}
	if err := s.store.SaveTicketStats(ctx, *fresh); err != nil {
		s.logger.With(map[string]interface{}{"error": err}).Warn("failed to update stats cache")
	}
	return Result{Stats: *fresh}, nil
}
