// Package idempotency caches HTTP responses for mutating requests that
// carry an X-Fleet-Idempotency-Key header, so a retried spawn-enqueue or
// workflow-start request replays the original outcome instead of
// double-submitting it. A Backend interface abstracts the cache (Redis
// in production, a sync.Map fallback when no backend is configured).
package idempotency

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Response is the cached shape of an HTTP response.
type Response struct {
	StatusCode int                 `json:"statusCode"`
	Body       []byte              `json:"body"`
	Headers    map[string][]string `json:"headers"`
}

// Backend is a pluggable TTL-keyed string store. RedisBackend in this
// package is the production implementation; tests and single-process
// deployments can run with backend nil, which falls back to the
// in-memory cache below.
type Backend interface {
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// resultTTL is how long a cached response is replayed before a retried
// request with the same key is treated as a brand new one.
const resultTTL = 24 * time.Hour

// memoryTTL is shorter than resultTTL: the in-memory fallback only
// exists to cover retries within a single process lifetime, not to
// survive a restart the way the Redis backend does.
const memoryTTL = 1 * time.Hour

type entry struct {
	Resp      Response
	Timestamp time.Time
}

// Store caches a response the first time a key is seen and replays it
// on every subsequent Get for the same key within its TTL.
type Store struct {
	backend Backend
	cache   sync.Map // key -> entry, used when backend is nil
	logger  *slog.Logger
}

func NewStore(backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, logger: logger.With("component", "idempotency")}
}

// Get returns the cached response for key, if any. A backend error is
// logged and treated as a cache miss: an idempotency cache must never
// block the request it is trying to protect.
func (s *Store) Get(ctx context.Context, key string) (Response, bool) {
	if s.backend != nil {
		raw, err := s.backend.Get(ctx, key)
		if err != nil {
			s.logger.Warn("read idempotency entry", "key", key, "error", err)
			return Response{}, false
		}
		if raw == "" {
			return Response{}, false
		}
		var e entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			s.logger.Warn("corrupt idempotency entry", "key", key, "error", err)
			return Response{}, false
		}
		return e.Resp, true
	}

	v, ok := s.cache.Load(key)
	if !ok {
		return Response{}, false
	}
	e := v.(entry)
	if time.Since(e.Timestamp) > memoryTTL {
		s.cache.Delete(key)
		return Response{}, false
	}
	return e.Resp, true
}

// Set caches resp under key. Failures to persist to the backend are
// logged, not returned: the request that produced resp has already
// succeeded, and a caching failure must not turn that into an error
// response to the caller.
func (s *Store) Set(ctx context.Context, key string, resp Response) {
	e := entry{Resp: resp, Timestamp: time.Now()}

	if s.backend != nil {
		data, err := json.Marshal(e)
		if err != nil {
			s.logger.Warn("marshal idempotency entry", "key", key, "error", err)
			return
		}
		if err := s.backend.Set(ctx, key, string(data), resultTTL); err != nil {
			s.logger.Warn("store idempotency entry", "key", key, "error", err)
		}
		return
	}

	s.cache.Store(key, e)
}
