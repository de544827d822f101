package engine

import "testing"

func TestHistory_AppendAndSnapshot(t *testing.T) {
	h := NewHistory(10)

	h.Append("cli:local", "user", "first")
	h.Append("cli:local", "assistant", "second")

	turns := h.Snapshot("cli:local")
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Role != "user" || turns[0].Content != "first" {
		t.Fatalf("unexpected first turn: %+v", turns[0])
	}
	if turns[1].Role != "assistant" || turns[1].Content != "second" {
		t.Fatalf("unexpected second turn: %+v", turns[1])
	}
}

func TestHistory_TrimsToLimit(t *testing.T) {
	h := NewHistory(4)

	for i := 0; i < 6; i++ {
		h.Append("cli:local", "user", string(rune('a'+i)))
	}

	turns := h.Snapshot("cli:local")
	if len(turns) != 4 {
		t.Fatalf("expected 4 turns after trim, got %d", len(turns))
	}
	if turns[0].Content != "c" || turns[3].Content != "f" {
		t.Fatalf("expected newest 4 turns c..f, got %+v", turns)
	}
}

func TestHistory_SnapshotIsCopy(t *testing.T) {
	h := NewHistory(10)
	h.Append("cli:local", "user", "original")

	snap := h.Snapshot("cli:local")
	snap[0].Content = "mutated"

	again := h.Snapshot("cli:local")
	if again[0].Content != "original" {
		t.Fatalf("expected history to be unaffected, got %q", again[0].Content)
	}
}

func TestHistory_ChatsAreIndependent(t *testing.T) {
	h := NewHistory(10)
	h.Append("cli:local", "user", "cli turn")
	h.Append("telegram:100", "user", "telegram turn")

	if got := len(h.Snapshot("cli:local")); got != 1 {
		t.Fatalf("expected 1 cli turn, got %d", got)
	}
	if got := len(h.Snapshot("telegram:100")); got != 1 {
		t.Fatalf("expected 1 telegram turn, got %d", got)
	}
}

func TestHistory_Clear(t *testing.T) {
	h := NewHistory(10)
	h.Append("cli:local", "user", "turn")
	h.Clear("cli:local")

	if got := len(h.Snapshot("cli:local")); got != 0 {
		t.Fatalf("expected empty history after clear, got %d", got)
	}
}

func TestHistory_ZeroLimitUsesDefault(t *testing.T) {
	h := NewHistory(0)
	if h.limit != defaultHistoryLimit {
		t.Fatalf("expected default limit %d, got %d", defaultHistoryLimit, h.limit)
	}
}
