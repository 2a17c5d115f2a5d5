package multiagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenthub/internal/domain"
)

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

type stubAgent struct{ id string }

func (s *stubAgent) ID() string { return s.id }

func (s *stubAgent) ReceiveMessage(context.Context, domain.Envelope) {}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry(testLogger())
	if err := r.Register(&stubAgent{id: "support"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, err := r.Get("support")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID() != "support" {
		t.Errorf("ID = %q, want %q", got.ID(), "support")
	}
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry(testLogger())
	require.NoError(t, r.Register(&stubAgent{id: "support"}))

	err := r.Register(&stubAgent{id: "support"})
	if !errors.Is(err, domain.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
	assert.Equal(t, domain.CodeAgentDuplicate, domain.ErrorCodeOf(err))
}

func TestRegistryRejectsReservedID(t *testing.T) {
	r := NewRegistry(testLogger())
	assert.ErrorIs(t, r.Register(&stubAgent{id: "*"}), domain.ErrInvalidInput)
	assert.ErrorIs(t, r.Register(&stubAgent{id: ""}), domain.ErrInvalidInput)
}

func TestRegistryLookupNotFound(t *testing.T) {
	r := NewRegistry(testLogger())
	_, err := r.Lookup("ghost")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	assert.Equal(t, domain.CodeAgentNotFound, domain.ErrorCodeOf(err))
}

func TestRegistryAliasAndCompactAlias(t *testing.T) {
	r := NewRegistry(testLogger())
	require.NoError(t, r.Register(&stubAgent{id: "research-1"}, "Research Agent"))

	for _, name := range []string{"research-1", "Research Agent", "ResearchAgent", " Research  Agent "} {
		got, err := r.Lookup(name)
		if err != nil {
			t.Errorf("Lookup(%q): %v", name, err)
			continue
		}
		assert.Equal(t, "research-1", got.ID(), name)
	}
	assert.Equal(t, []string{"Research Agent", "ResearchAgent"}, r.Aliases("research-1"))
}

func TestRegistryAliasConflicts(t *testing.T) {
	r := NewRegistry(testLogger())
	require.NoError(t, r.Register(&stubAgent{id: "a"}, "writer"))
	require.NoError(t, r.Register(&stubAgent{id: "b"}))

	err := r.AddAlias("b", "writer")
	assert.ErrorIs(t, err, domain.ErrDuplicate)
	assert.Equal(t, domain.CodeAliasDuplicate, domain.ErrorCodeOf(err))

	assert.ErrorIs(t, r.AddAlias("b", "a"), domain.ErrDuplicate, "alias may not shadow an agent id")
	assert.ErrorIs(t, r.AddAlias("ghost", "x"), domain.ErrNotFound)

	// Re-adding the same alias for the same agent is a no-op.
	assert.NoError(t, r.AddAlias("a", "writer"))
}

func TestRegistryRemoveAlias(t *testing.T) {
	r := NewRegistry(testLogger())
	require.NoError(t, r.Register(&stubAgent{id: "r"}, "Research Agent"))

	r.RemoveAlias("Research Agent")
	_, err := r.Lookup("Research Agent")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = r.Lookup("ResearchAgent")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, r.Aliases("r"))

	r.RemoveAlias("never-added")
}

func TestRegistryUnregisterRemovesAliases(t *testing.T) {
	r := NewRegistry(testLogger())
	require.NoError(t, r.Register(&stubAgent{id: "w"}, "Worker Bee"))

	got, err := r.Unregister("w")
	require.NoError(t, err)
	assert.Equal(t, "w", got.ID())
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Aliases("w"))

	_, err = r.Unregister("w")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// A new agent may reuse the freed alias.
	require.NoError(t, r.Register(&stubAgent{id: "w2"}, "Worker Bee"))
	id, ok := r.Resolve("WorkerBee")
	assert.True(t, ok)
	assert.Equal(t, "w2", id)
}

func TestRegistryListSorted(t *testing.T) {
	r := NewRegistry(testLogger())
	for _, id := range []string{"charlie", "alpha", "bravo"} {
		require.NoError(t, r.Register(&stubAgent{id: id}))
	}

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].ID())
	assert.Equal(t, "charlie", list[2].ID())
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, r.IDs())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry(testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("agent-%d", n)
			_ = r.Register(&stubAgent{id: id}, fmt.Sprintf("Agent %d", n))
			_, _ = r.Lookup(fmt.Sprintf("Agent%d", n))
			_ = r.List()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, r.Len())
}
