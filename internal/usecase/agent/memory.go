package agent

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"agenthub/internal/domain"
)

// remember appends env to the memory ring, evicting the oldest entries past
// the limit, and forwards a summary to the durable sink. Sink failures are
// logged and dropped.
func (u *Unit) remember(ctx context.Context, dir domain.Direction, env domain.Envelope) {
	entry := domain.AgentMemoryEntry{Direction: dir, Message: env.Clone(), RecordedAt: u.now()}

	u.mu.Lock()
	u.memory = append(u.memory, entry)
	if over := len(u.memory) - u.cfg.MemoryLimit; over > 0 {
		u.memory = slices.Delete(u.memory, 0, over)
	}
	u.mu.Unlock()

	if u.sink == nil {
		return
	}
	if err := u.sink.AddMemory(ctx, u.ID(), summarize(dir, env), memoryMetadata(dir, env)); err != nil {
		u.logger.Warn("memory sink failed", "message_id", env.ID, "error", err)
	}
}

func summarize(dir domain.Direction, env domain.Envelope) string {
	content := []rune(env.Content)
	if len(content) > summaryMaxRunes {
		content = append(content[:summaryMaxRunes], '…')
	}
	return fmt.Sprintf("[%s] %s %s -> %s: %s", dir, env.Type, env.From, env.To, string(content))
}

func memoryMetadata(dir domain.Direction, env domain.Envelope) map[string]string {
	md := map[string]string{
		"direction":  string(dir),
		"type":       string(env.Type),
		"message_id": env.ID,
		"from":       env.From,
		"to":         env.To,
		"intent":     env.EffectiveIntent(),
	}
	if env.ConversationID != "" {
		md[domain.MetaConversationID] = env.ConversationID
	}
	if env.MetaBool(domain.MetaLongTerm) {
		md[domain.MetaLongTerm] = strconv.FormatBool(true)
	}
	return md
}

// Recall ranks the unit's stored memories against text. It returns nil when
// nothing queryable is attached.
func (u *Unit) Recall(ctx context.Context, text string, limit int) ([]domain.MemoryRecord, error) {
	q := u.querier
	if q == nil {
		q, _ = u.sink.(domain.MemoryQuerier)
	}
	if q == nil {
		return nil, nil
	}
	recs, err := q.Query(ctx, u.ID(), text, limit)
	if err != nil {
		return nil, domain.WrapOp("Unit.Recall", err)
	}
	return recs, nil
}
