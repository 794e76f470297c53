package memory

import (
	"context"
	"path/filepath"
	"testing"

	"voxchat/internal/domain"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "history.db"), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_EmptyRead(t *testing.T) {
	s := newTestSQLite(t)
	turns, err := s.Read(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 0 {
		t.Errorf("expected no turns, got %d", len(turns))
	}
}

func TestSQLiteStore_RoundTripKeepsOrder(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	in := []domain.Turn{
		domain.NewTurn(domain.RoleUser, "first"),
		domain.NewTurn(domain.RoleAssistant, "second"),
		domain.NewTurn(domain.RoleUser, "third"),
	}
	in[0].Attachment = "/img/x.png"
	in[1].Failed = true

	if err := s.Write(ctx, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := s.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("expected %d turns, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i].ID != in[i].ID || out[i].Text != in[i].Text || out[i].Role != in[i].Role {
			t.Errorf("turn %d mismatch: got %+v want %+v", i, out[i], in[i])
		}
	}
	if out[0].Attachment != "/img/x.png" {
		t.Errorf("attachment lost: %q", out[0].Attachment)
	}
	if !out[1].Failed {
		t.Error("failed flag lost")
	}
}

func TestSQLiteStore_WriteReplacesSequence(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	if err := s.Write(ctx, []domain.Turn{
		domain.NewTurn(domain.RoleUser, "a"),
		domain.NewTurn(domain.RoleAssistant, "b"),
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(ctx, nil); err != nil {
		t.Fatal(err)
	}

	out, err := s.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty store after writing nil, got %d", len(out))
	}
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s1, err := NewSQLiteStore(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.Write(ctx, []domain.Turn{domain.NewTurn(domain.RoleUser, "persisted")}); err != nil {
		t.Fatal(err)
	}
	s1.Close()

	s2, err := NewSQLiteStore(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	out, err := s2.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Text != "persisted" {
		t.Fatalf("unexpected contents after reopen: %+v", out)
	}
}
