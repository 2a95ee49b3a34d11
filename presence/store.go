// Package presence keeps the durable last-seen timestamp of every user that has ever
// gone offline.
package presence

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Store is the narrow persistence surface the hub needs for last-seen state.
//
// Upsert keeps the most recent timestamp it has been given for a user, so a write that
// arrives late with an older time never moves last-seen backwards.
type Store interface {
	GetAll(ctx context.Context) (map[string]time.Time, error)
	GetOne(ctx context.Context, userID string) (time.Time, bool, error)
	Upsert(ctx context.Context, userID string, at time.Time) error
	Close() error
}

// Backend names accepted by Open
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Options selects and configures a store backend
type Options struct {
	Backend  string
	RedisURL string
	DSN      string
}

// Open creates the store named by opts.Backend and checks that it is reachable
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendRedis:
		return OpenRedisStore(ctx, opts.RedisURL)
	case BackendPostgres:
		return OpenSQLStore(ctx, opts.DSN)
	default:
		return nil, errors.Errorf("unknown presence backend '%s'", opts.Backend)
	}
}
