package memory

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"voxchat/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// failingBackend always errors, to exercise persistence-failure paths.
type failingBackend struct{}

func (failingBackend) Write(ctx context.Context, turns []domain.Turn) error {
	return errors.New("disk full")
}

func (failingBackend) Read(ctx context.Context) ([]domain.Turn, error) {
	return nil, errors.New("unreadable")
}

func TestHistory_AppendPreservesOrder(t *testing.T) {
	h := NewHistory(nil, testLogger())
	h.Append(domain.NewTurn(domain.RoleUser, "one"))
	h.Append(domain.NewTurn(domain.RoleAssistant, "two"))
	h.Append(domain.NewTurn(domain.RoleUser, "three"))

	snap := h.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(snap))
	}
	for i, want := range []string{"one", "two", "three"} {
		if snap[i].Text != want {
			t.Errorf("turn %d: expected %q, got %q", i, want, snap[i].Text)
		}
	}
}

func TestHistory_SnapshotIsACopy(t *testing.T) {
	h := NewHistory(nil, testLogger())
	h.Append(domain.NewTurn(domain.RoleUser, "original"))

	snap := h.Snapshot()
	snap[0].Text = "mutated"
	h.Append(domain.NewTurn(domain.RoleAssistant, "later"))

	again := h.Snapshot()
	if again[0].Text != "original" {
		t.Errorf("snapshot mutation leaked into history: %q", again[0].Text)
	}
	if len(snap) != 1 {
		t.Errorf("earlier snapshot should not grow, got %d", len(snap))
	}
}

func TestHistory_ConcurrentSnapshots(t *testing.T) {
	h := NewHistory(nil, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = h.Snapshot()
			}
		}()
	}
	for i := 0; i < 100; i++ {
		h.Append(domain.NewTurn(domain.RoleUser, "x"))
	}
	wg.Wait()

	if h.Len() != 100 {
		t.Errorf("expected 100 turns, got %d", h.Len())
	}
}

func TestHistory_ClearBumpsEpoch(t *testing.T) {
	h := NewHistory(nil, testLogger())
	h.Append(domain.NewTurn(domain.RoleUser, "a"))
	before := h.Epoch()

	h.Clear()

	if h.Len() != 0 {
		t.Errorf("expected empty history, got %d", h.Len())
	}
	if h.Epoch() == before {
		t.Error("expected epoch to change on clear")
	}
}

func TestHistory_PersistAndRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	backend := NewJSONFile(path, testLogger())
	ctx := context.Background()

	h := NewHistory(backend, testLogger())
	h.Append(domain.NewTurn(domain.RoleUser, "Hello"))
	h.Append(domain.NewTurn(domain.RoleAssistant, "Hi there!"))
	if err := h.Persist(ctx); err != nil {
		t.Fatalf("persist: %v", err)
	}

	restored := NewHistory(backend, testLogger())
	restored.Restore(ctx)
	snap := restored.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(snap))
	}
	if snap[0].Role != domain.RoleUser || snap[0].Text != "Hello" {
		t.Errorf("unexpected first turn: %+v", snap[0])
	}
	if snap[1].Role != domain.RoleAssistant || snap[1].Text != "Hi there!" {
		t.Errorf("unexpected second turn: %+v", snap[1])
	}
}

func TestHistory_RestoreToleratesBrokenBackend(t *testing.T) {
	h := NewHistory(failingBackend{}, testLogger())
	h.Append(domain.NewTurn(domain.RoleUser, "stale"))

	h.Restore(context.Background())

	if h.Len() != 0 {
		t.Errorf("expected empty history after failed restore, got %d", h.Len())
	}
}

func TestHistory_PersistReportsBackendError(t *testing.T) {
	h := NewHistory(failingBackend{}, testLogger())
	h.Append(domain.NewTurn(domain.RoleUser, "x"))

	if err := h.Persist(context.Background()); err == nil {
		t.Fatal("expected persist error")
	}
	if h.Len() != 1 {
		t.Error("in-memory history must survive a persist failure")
	}
}

func TestHistory_NilBackend(t *testing.T) {
	h := NewHistory(nil, testLogger())
	h.Append(domain.NewTurn(domain.RoleUser, "x"))
	if err := h.Persist(context.Background()); err != nil {
		t.Fatalf("nil backend persist should be a no-op, got %v", err)
	}
	h.Restore(context.Background())
	if h.Len() != 0 {
		t.Errorf("nil backend restore should yield empty history, got %d", h.Len())
	}
}
