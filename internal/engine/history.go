package engine

import (
	"sync"

	"relaybot/internal/domain"
)

// History keeps a rolling window of exchange turns per chat for generation
// context. In-memory only; a restart starts fresh.
type History struct {
	mu    sync.Mutex
	turns map[string][]domain.GenMessage
	limit int
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &History{
		turns: make(map[string][]domain.GenMessage),
		limit: limit,
	}
}

// Append records one exchange turn for a chat, trimming to the newest
// limit entries.
func (h *History) Append(key, role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	turns := append(h.turns[key], domain.GenMessage{Role: role, Content: content})
	if len(turns) > h.limit {
		turns = turns[len(turns)-h.limit:]
	}
	h.turns[key] = turns
}

// Snapshot returns a copy of a chat's history, oldest first.
func (h *History) Snapshot(key string) []domain.GenMessage {
	h.mu.Lock()
	defer h.mu.Unlock()

	turns := h.turns[key]
	out := make([]domain.GenMessage, len(turns))
	copy(out, turns)
	return out
}

// Clear drops a chat's history.
func (h *History) Clear(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.turns, key)
}
