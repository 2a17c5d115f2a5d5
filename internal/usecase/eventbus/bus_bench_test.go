package eventbus

import (
	"context"
	"log/slog"
	"testing"

	"agenthub/internal/domain"
)

func BenchmarkEventBusPublish(b *testing.B) {
	bus := New(slog.New(slog.DiscardHandler))
	defer bus.Close()
	ctx := context.Background()
	event := domain.Event{
		Type:  domain.EventStateChanged,
		State: domain.StateChange{AgentID: "bench", IsTalking: domain.Talking(true)},
	}

	bus.Subscribe(domain.EventStateChanged, func(_ context.Context, _ domain.Event) {})

	b.ReportAllocs()
	for b.Loop() {
		bus.Publish(ctx, event)
	}
}
