package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultArchiveTTL = 2 * time.Hour

// Archive keeps closed-session tallies in Redis for a short window so the
// host can still export results after the session has been evicted from
// the registry. A nil client disables archiving.
type Archive struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewArchive creates a tally archive with the given retention.
func NewArchive(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Archive {
	if ttl <= 0 {
		ttl = defaultArchiveTTL
	}
	return &Archive{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "tally_archive").Logger(),
	}
}

func archiveKey(code string) string {
	return "attendance:tally:" + Normalize(code)
}

// Save stores the final tally rows under the session code.
func (a *Archive) Save(ctx context.Context, code string, rows []Row) error {
	if a == nil || a.client == nil {
		return nil
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshal tally: %w", err)
	}
	if err := a.client.Set(ctx, archiveKey(code), data, a.ttl).Err(); err != nil {
		return fmt.Errorf("store tally: %w", err)
	}
	a.logger.Debug().Str("session_code", code).Int("rows", len(rows)).Msg("tally archived")
	return nil
}

// Load fetches an archived tally; (nil, nil) when nothing is stored.
func (a *Archive) Load(ctx context.Context, code string) ([]Row, error) {
	if a == nil || a.client == nil {
		return nil, nil
	}
	data, err := a.client.Get(ctx, archiveKey(code)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch tally: %w", err)
	}
	var rows []Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal tally: %w", err)
	}
	return rows, nil
}
