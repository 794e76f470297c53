package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"voxchat/internal/domain"
)

// History is the in-memory conversation: an ordered, append-only turn
// sequence backed by a Persistence. Mutations are expected from a single
// goroutine; Snapshot may be called from any goroutine.
type History struct {
	mu      sync.RWMutex
	turns   []domain.Turn
	epoch   uint64 // bumped on Clear
	backend domain.Persistence
	logger  *slog.Logger
}

// NewHistory creates an empty history persisted to backend (may be nil for
// a purely in-memory conversation).
func NewHistory(backend domain.Persistence, logger *slog.Logger) *History {
	if logger == nil {
		logger = slog.Default()
	}
	return &History{backend: backend, logger: logger}
}

// Append adds a turn at the end of the sequence.
func (h *History) Append(turn domain.Turn) {
	h.mu.Lock()
	h.turns = append(h.turns, turn)
	h.mu.Unlock()
}

// Snapshot returns a copy of the current turns, safe to use without locks.
func (h *History) Snapshot() []domain.Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Clear empties the history and starts a new epoch.
func (h *History) Clear() {
	h.mu.Lock()
	h.turns = nil
	h.epoch++
	h.mu.Unlock()
}

// Epoch identifies the conversation generation; it changes on every Clear.
func (h *History) Epoch() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.epoch
}

// Persist writes a snapshot of the history to the backend.
func (h *History) Persist(ctx context.Context) error {
	if h.backend == nil {
		return nil
	}
	snap := h.Snapshot()
	if err := h.backend.Write(ctx, snap); err != nil {
		return fmt.Errorf("persist history: %w", err)
	}
	h.logger.Debug("history persisted", "turns", len(snap))
	return nil
}

// Restore replaces the history with the backend's contents. A missing or
// unreadable store yields an empty history, never an error.
func (h *History) Restore(ctx context.Context) {
	var turns []domain.Turn
	if h.backend != nil {
		loaded, err := h.backend.Read(ctx)
		if err != nil {
			h.logger.Warn("cannot restore history, starting empty", "err", err)
		} else {
			turns = loaded
		}
	}

	h.mu.Lock()
	h.turns = turns
	h.mu.Unlock()

	h.logger.Info("history restored", "turns", len(turns))
}
