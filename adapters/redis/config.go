// Package redisstore provides a Redis-backed state.Store so several server
// instances can share one event log.
package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config configures the Redis-backed Store.
type Config struct {
	Addr         string
	DB           int
	Password     string
	Prefix       string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	Username     string
}

// Store is a Redis-backed implementation of state.Store. Run histories are
// Redis lists; the claim and finish compare-and-sets run as Lua scripts so
// they stay atomic across server instances.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	// cached SHAs for the CAS scripts
	appendSHA string
	claimSHA  string
	finishSHA string
	// ownsClient determines whether Close() should close the underlying client
	ownsClient bool
}

// New creates a new Redis Store with the provided configuration.
func New(cfg Config) (*Store, error) {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	s := &Store{rdb: rdb, prefix: defaultPrefix(cfg.Prefix), ownsClient: true}
	s.loadScripts(ctx)
	return s, nil
}

// NewFromClient constructs a Store from a user-managed redis.UniversalClient.
// The Store will not Close() the client.
func NewFromClient(ctx context.Context, rdb redis.UniversalClient, prefix string) (*Store, error) {
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	s := &Store{rdb: rdb, prefix: defaultPrefix(prefix), ownsClient: false}
	s.loadScripts(ctx)
	return s, nil
}

// Close closes the underlying Redis client.
func (s *Store) Close() error {
	if s.ownsClient {
		return s.rdb.Close()
	}
	return nil
}

func defaultPrefix(prefix string) string {
	if prefix == "" {
		return "pacer"
	}
	return prefix
}

// loadScripts caches the Lua script SHAs. Best-effort: on failure the store
// falls back to EVAL per call.
func (s *Store) loadScripts(ctx context.Context) {
	if sha, err := s.rdb.ScriptLoad(ctx, luaAppendEvent).Result(); err == nil {
		s.appendSHA = sha
	}
	if sha, err := s.rdb.ScriptLoad(ctx, luaClaimPending).Result(); err == nil {
		s.claimSHA = sha
	}
	if sha, err := s.rdb.ScriptLoad(ctx, luaFinishRun).Result(); err == nil {
		s.finishSHA = sha
	}
}
