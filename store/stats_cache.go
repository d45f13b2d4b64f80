package store

import (
	"context"
	"fmt"

	"gridlink/protocol"
)

const statsCacheKey = "dashboard_stats_cache"

// CachedTicketStats returns the last stored dashboard stats, if any.
func (s *Store) CachedTicketStats(ctx context.Context) (*protocol.TicketStats, error) {
	raw, ok, err := s.Get(ctx, statsCacheKey)
	if err != nil || !ok {
		return nil, err
	}
	stats, err := protocol.UnmarshalPayload[protocol.TicketStats]([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("store: decode stats cache: %w", err)
	}
	return &stats, nil
}

// SaveTicketStats overwrites the cached dashboard stats.
func (s *Store) SaveTicketStats(ctx context.Context, stats protocol.TicketStats) error {
	b, err := protocol.Marshal(stats)
	if err != nil {
		return err
	}
	return s.Set(ctx, statsCacheKey, string(b))
}
