package idempotency

import (
	"context"
	"testing"
	"time"
)

type stubBackend struct {
	data map[string]string
	err  error
}

func newStubBackend() *stubBackend {
	return &stubBackend{data: make(map[string]string)}
}

func (b *stubBackend) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if b.err != nil {
		return b.err
	}
	b.data[key] = value
	return nil
}

func (b *stubBackend) Get(ctx context.Context, key string) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	return b.data[key], nil
}

func TestMemoryFallbackCachesAndReplaysResponse(t *testing.T) {
	s := NewStore(nil, nil)
	ctx := context.Background()

	if _, ok := s.Get(ctx, "req-1"); ok {
		t.Fatal("expected miss before Set")
	}

	resp := Response{StatusCode: 201, Body: []byte(`{"id":"abc"}`)}
	s.Set(ctx, "req-1", resp)

	got, ok := s.Get(ctx, "req-1")
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if got.StatusCode != 201 || string(got.Body) != `{"id":"abc"}` {
		t.Fatalf("unexpected cached response: %+v", got)
	}
}

func TestMemoryFallbackExpiresAfterTTL(t *testing.T) {
	s := NewStore(nil, nil)
	ctx := context.Background()

	s.cache.Store("req-1", entry{
		Resp:      Response{StatusCode: 200},
		Timestamp: time.Now().Add(-2 * time.Hour),
	})

	if _, ok := s.Get(ctx, "req-1"); ok {
		t.Fatal("expected expired entry to be a miss")
	}
}

func TestBackendPathMarshalsAndReplays(t *testing.T) {
	backend := newStubBackend()
	s := NewStore(backend, nil)
	ctx := context.Background()

	resp := Response{StatusCode: 200, Body: []byte("ok"), Headers: map[string][]string{"X-Id": {"1"}}}
	s.Set(ctx, "req-2", resp)

	got, ok := s.Get(ctx, "req-2")
	if !ok {
		t.Fatal("expected hit from backend")
	}
	if got.StatusCode != 200 || string(got.Body) != "ok" || got.Headers["X-Id"][0] != "1" {
		t.Fatalf("unexpected cached response: %+v", got)
	}
}

func TestBackendMissReturnsFalse(t *testing.T) {
	backend := newStubBackend()
	s := NewStore(backend, nil)

	if _, ok := s.Get(context.Background(), "missing"); ok {
		t.Fatal("expected miss for unknown key")
	}
}
