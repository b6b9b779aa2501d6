package tokens

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_ValidateAndRateLimit(t *testing.T) {
	c := NewCache()
	assert.False(t, c.Ready())
	assert.ErrorIs(t, c.Validate("a"), ErrTokenStoreNotReady)

	c.Replace(map[string]Entry{"a": {RateLimit: 5, Station: "caja-1"}, "b": {RateLimit: 10}})

	assert.True(t, c.Ready())
	assert.NoError(t, c.Validate("a"))
	assert.Equal(t, 5, c.RateLimit("a"))
	assert.Equal(t, "caja-1", c.Station("a"))
	assert.ErrorIs(t, c.Validate("c"), ErrInvalidAPIKey)
	assert.Equal(t, 0, c.RateLimit("c"))
}

func TestCache_ReplaceUpdatesAndCopies(t *testing.T) {
	c := NewCache()
	src := map[string]Entry{"a": {RateLimit: 5}}
	c.Replace(src)
	src["a"] = Entry{RateLimit: 99}
	assert.Equal(t, 5, c.RateLimit("a"))

	c.Replace(map[string]Entry{"c": {RateLimit: 12}})
	assert.ErrorIs(t, c.Validate("a"), ErrInvalidAPIKey)
	assert.Equal(t, 12, c.RateLimit("c"))
}

type fakeRepo struct {
	m   map[string]Entry
	err error
}

func (r fakeRepo) LoadTokens(ctx context.Context) (map[string]Entry, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.m, nil
}

func TestReloader_LoadOnce_Success(t *testing.T) {
	c := NewCache()
	r := NewReloader(fakeRepo{m: map[string]Entry{"k": {RateLimit: 3}}}, c, time.Hour)

	if err := r.LoadOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.Ready() {
		t.Fatalf("expected cache ready after successful LoadOnce")
	}
	if got := c.RateLimit("k"); got != 3 {
		t.Fatalf("expected rate limit 3, got %d", got)
	}
}

func TestReloader_LoadOnce_Error_DoesNotReplace(t *testing.T) {
	c := NewCache()
	c.Replace(map[string]Entry{"keep": {RateLimit: 7}})

	r := NewReloader(fakeRepo{err: errors.New("boom")}, c, time.Hour)
	if err := r.LoadOnce(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if got := c.RateLimit("keep"); got != 7 {
		t.Fatalf("expected cache unchanged, got %d", got)
	}
}

type sequenceRepo struct {
	mu      sync.Mutex
	results []map[string]Entry
	idx     int
	calls   atomic.Int32
}

func (r *sequenceRepo) LoadTokens(ctx context.Context) (map[string]Entry, error) {
	r.calls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.idx >= len(r.results) {
		return r.results[len(r.results)-1], nil
	}
	cur := r.results[r.idx]
	r.idx++
	return cur, nil
}

func TestReloader_Start_RefreshesTokens(t *testing.T) {
	c := NewCache()
	repo := &sequenceRepo{results: []map[string]Entry{
		{"k": {RateLimit: 1}},
		{"k": {RateLimit: 5}},
	}}

	r := NewReloader(repo, c, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	deadline := time.Now().Add(400 * time.Millisecond)
	for time.Now().Before(deadline) {
		if got := c.RateLimit("k"); got == 5 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected reloader to refresh token rate limit to 5, got %d", c.RateLimit("k"))
}
