package sqlite

import (
	"context"
	"fmt"
	"strconv"

	"github.com/lodestar-dev/lodestar/internal/storage"
)

// Stats gathers the runtime-plane counters in one round trip.
func (s *SQLiteStore) Stats(ctx context.Context, now string) (*storage.RuntimeStats, error) {
	var (
		stats   storage.RuntimeStats
		version string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM agents),
			(SELECT COUNT(*) FROM agents WHERE last_seen_at IS NOT NULL AND last_seen_at != ''),
			(SELECT COUNT(*) FROM leases WHERE expires_at > ?),
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(*) FROM messages WHERE read_at IS NULL),
			(SELECT COUNT(*) FROM events),
			(SELECT COALESCE(MAX(id), 0) FROM events),
			COALESCE((SELECT value FROM meta WHERE key = 'schema_version'), '0')
	`, now).Scan(
		&stats.Agents, &stats.ActiveAgents, &stats.ActiveLeases,
		&stats.Messages, &stats.UnreadMessages,
		&stats.Events, &stats.LastEventID, &version,
	)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to gather runtime stats: %w", err))
	}
	stats.SchemaVersion, err = strconv.Atoi(version)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema version %q: %w", version, err)
	}
	return &stats, nil
}
