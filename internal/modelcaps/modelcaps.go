// Package modelcaps implements C4.11: a three-layer negative cache of
// "models that do not support tool calls" — an in-process set for the fast
// path, a Redis-backed set shared across processes, and a durable Postgres
// table that survives a full restart.
package modelcaps

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/manifold-chat/core/internal/apperr"
)

const redisSetKey = "modelcaps:unsupported"

// Store is the capability-memory cache described in spec.md §4.11.
// check_supports_tools defaults to true (unknown models are assumed
// tool-capable until proven otherwise); every other path only ever narrows
// that default.
type Store struct {
	mu        sync.RWMutex
	inProcess map[string]bool

	redis *redis.Client
	pg    *pgxpool.Pool
	log   zerolog.Logger
}

// New builds a Store. redis and pg may be nil in tests; a nil layer is
// simply skipped, leaving the in-process set as the sole source of truth.
func New(redisClient *redis.Client, pg *pgxpool.Pool, log zerolog.Logger) *Store {
	return &Store{
		inProcess: make(map[string]bool),
		redis:     redisClient,
		pg:        pg,
		log:       log,
	}
}

// EnsureSchema creates the durable table if it doesn't exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s.pg == nil {
		return nil
	}
	const ddl = `CREATE TABLE IF NOT EXISTS model_capabilities (
		model_name TEXT PRIMARY KEY,
		supports_tools BOOLEAN NOT NULL DEFAULT false,
		last_error TEXT,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`
	if _, err := s.pg.Exec(ctx, ddl); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "create model_capabilities table", err)
	}
	return nil
}

// Warm loads every model marked unsupported in the durable table into the
// Redis set and the in-process set. Call once at startup.
func (s *Store) Warm(ctx context.Context) error {
	if s.pg == nil {
		return nil
	}
	rows, err := s.pg.Query(ctx, `SELECT model_name FROM model_capabilities WHERE supports_tools = false`)
	if err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "warm model capability cache", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return apperr.Wrap(apperr.StoreUnavailable, "scan model capability row", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "iterate model capability rows", err)
	}

	s.mu.Lock()
	for _, n := range names {
		s.inProcess[n] = true
	}
	s.mu.Unlock()

	if s.redis != nil && len(names) > 0 {
		members := make([]any, len(names))
		for i, n := range names {
			members[i] = n
		}
		if err := s.redis.SAdd(ctx, redisSetKey, members...).Err(); err != nil {
			s.log.Warn().Err(err).Msg("warm redis model capability set")
		}
	}
	s.log.Info().Int("count", len(names)).Msg("warmed model capability cache")
	return nil
}

// CheckSupportsTools reports whether model should be offered tool-calling.
// Unknown models return true (optimistic default per spec.md §4.11); a hit
// in any layer returns false, populating faster layers as it goes.
func (s *Store) CheckSupportsTools(ctx context.Context, model string) bool {
	s.mu.RLock()
	unsupported := s.inProcess[model]
	s.mu.RUnlock()
	if unsupported {
		return false
	}

	if s.redis != nil {
		hit, err := s.redis.SIsMember(ctx, redisSetKey, model).Result()
		if err == nil && hit {
			s.mu.Lock()
			s.inProcess[model] = true
			s.mu.Unlock()
			return false
		}
	}

	if s.pg != nil {
		var supports bool
		err := s.pg.QueryRow(ctx, `SELECT supports_tools FROM model_capabilities WHERE model_name = $1`, model).Scan(&supports)
		if err == nil && !supports {
			if s.redis != nil {
				if err := s.redis.SAdd(ctx, redisSetKey, model).Err(); err != nil {
					s.log.Warn().Err(err).Str("model", model).Msg("populate redis from model capability table")
				}
			}
			s.mu.Lock()
			s.inProcess[model] = true
			s.mu.Unlock()
			return false
		}
	}
	return true
}

// MarkUnsupported records that model does not support tool calls, across
// all three layers. errMsg is the distinctive no-tool-support error text,
// persisted for operator visibility.
func (s *Store) MarkUnsupported(ctx context.Context, model string, errMsg string) error {
	if s.pg != nil {
		const upsert = `INSERT INTO model_capabilities (model_name, supports_tools, last_error, updated_at)
			VALUES ($1, false, $2, $3)
			ON CONFLICT (model_name) DO UPDATE SET supports_tools = false, last_error = $2, updated_at = $3`
		if _, err := s.pg.Exec(ctx, upsert, model, errMsg, time.Now()); err != nil {
			return apperr.Wrap(apperr.StoreUnavailable, "persist unsupported model", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.SAdd(ctx, redisSetKey, model).Err(); err != nil {
			s.log.Warn().Err(err).Str("model", model).Msg("mark unsupported in redis")
		}
	}
	s.mu.Lock()
	s.inProcess[model] = true
	s.mu.Unlock()
	return nil
}

// MarkSupported is the manual antidote: it clears model from all three
// layers, undoing a (possibly stale) unsupported marking.
func (s *Store) MarkSupported(ctx context.Context, model string) error {
	if s.pg != nil {
		const del = `DELETE FROM model_capabilities WHERE model_name = $1`
		if _, err := s.pg.Exec(ctx, del, model); err != nil {
			return apperr.Wrap(apperr.StoreUnavailable, "clear unsupported model", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.SRem(ctx, redisSetKey, model).Err(); err != nil {
			s.log.Warn().Err(err).Str("model", model).Msg("mark supported in redis")
		}
	}
	s.mu.Lock()
	delete(s.inProcess, model)
	s.mu.Unlock()
	return nil
}

// Info is one model's durable capability record, the Go shape of the
// original's get_model_info.
type Info struct {
	Model         string
	SupportsTools bool
	LastError     string
	UpdatedAt     time.Time
}

// ListUnsupported returns every model name currently marked unsupported,
// read straight from the in-process set (already warmed from Postgres at
// startup and kept current by MarkUnsupported/MarkSupported), matching the
// original's get_all_unsupported_models.
func (s *Store) ListUnsupported() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.inProcess))
	for m, unsupported := range s.inProcess {
		if unsupported {
			out = append(out, m)
		}
	}
	return out
}

// ListSupported returns every model the durable table has an explicit
// supports_tools=true record for, matching the original's
// get_all_supported_models. Models that were simply never checked are not
// included — CheckSupportsTools's optimistic default covers those.
func (s *Store) ListSupported(ctx context.Context) ([]string, error) {
	if s.pg == nil {
		return nil, nil
	}
	rows, err := s.pg.Query(ctx, `SELECT model_name FROM model_capabilities WHERE supports_tools = true`)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "list supported models", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperr.Wrap(apperr.StoreUnavailable, "scan supported model row", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// GetModelInfo returns the durable record for model, or ok=false if none
// exists (an unknown model, per CheckSupportsTools's optimistic default),
// matching the original's get_model_info.
func (s *Store) GetModelInfo(ctx context.Context, model string) (Info, bool, error) {
	if s.pg == nil {
		return Info{}, false, nil
	}
	const q = `SELECT model_name, supports_tools, last_error, updated_at FROM model_capabilities WHERE model_name = $1`
	row := s.pg.QueryRow(ctx, q, model)
	var info Info
	var lastError *string
	if err := row.Scan(&info.Model, &info.SupportsTools, &lastError, &info.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return Info{}, false, nil
		}
		return Info{}, false, apperr.Wrap(apperr.StoreUnavailable, "get model info", err)
	}
	if lastError != nil {
		info.LastError = *lastError
	}
	return info, true, nil
}

// ReloadFromDB re-warms the in-process and Redis sets from the durable
// table, discarding anything they hold today. Useful after an operator
// edits model_capabilities directly, matching the original's
// reload_from_db.
func (s *Store) ReloadFromDB(ctx context.Context) error {
	s.mu.Lock()
	s.inProcess = make(map[string]bool)
	s.mu.Unlock()
	if s.redis != nil {
		if err := s.redis.Del(ctx, redisSetKey).Err(); err != nil {
			s.log.Warn().Err(err).Msg("clear redis model capability set before reload")
		}
	}
	return s.Warm(ctx)
}
