package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenthub/internal/domain"
)

// fakeRedis models redis lists in memory.
type fakeRedis struct {
	mu    sync.Mutex
	lists map[string][]string
	err   error
}

func newFakeRedis() *fakeRedis { return &fakeRedis{lists: map[string][]string{}} }

func (f *fakeRedis) LPush(_ context.Context, key string, values ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, v := range values {
		f.lists[key] = append([]string{v}, f.lists[key]...)
	}
	return nil
}

func (f *fakeRedis) LTrim(_ context.Context, key string, start, stop int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.lists[key]
	if stop+1 < int64(len(l)) {
		l = l[:stop+1]
	}
	f.lists[key] = l[start:]
	return nil
}

func (f *fakeRedis) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	l := f.lists[key]
	if stop < 0 || stop >= int64(len(l)) {
		stop = int64(len(l)) - 1
	}
	if start > stop {
		return nil, nil
	}
	return append([]string(nil), l[start:stop+1]...), nil
}

func TestRedisSinkCapsList(t *testing.T) {
	client := newFakeRedis()
	sink := NewRedisSink(client, "test:mem", 2)
	ctx := context.Background()

	for _, s := range []string{"one", "two", "three"} {
		require.NoError(t, sink.AddMemory(ctx, "a1", s, nil))
	}
	assert.Len(t, client.lists["test:mem:a1"], 2)

	recent, err := sink.Recent(ctx, "a1", 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "three", recent[0].Text)
	assert.Equal(t, "a1", recent[0].AgentID)
}

func TestRedisSinkQuerySkipsGarbage(t *testing.T) {
	client := newFakeRedis()
	sink := NewRedisSink(client, "", 0)
	ctx := context.Background()
	require.NoError(t, sink.AddMemory(ctx, "a1", "index the wiki pages", nil))
	client.lists[defaultRedisPrefix+":a1"] = append(client.lists[defaultRedisPrefix+":a1"], "{not json")

	got, err := sink.Query(ctx, "a1", "wiki", 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "index the wiki pages", got[0].Text)
}

func TestRedisSinkErrors(t *testing.T) {
	client := newFakeRedis()
	client.err = errors.New("connection refused")
	sink := NewRedisSink(client, "", 0)

	assert.ErrorIs(t, sink.AddMemory(context.Background(), "a1", "x", nil), domain.ErrMemoryPersist)
	_, err := sink.Query(context.Background(), "a1", "x", 1)
	assert.Error(t, err)
}
