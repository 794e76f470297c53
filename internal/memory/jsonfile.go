package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"voxchat/internal/domain"

	"github.com/google/uuid"
)

// JSONFile implements domain.Persistence as a single JSON array on disk.
// The layout is a superset of the plain [{"role","content","images"}] list,
// so older history files load unchanged.
type JSONFile struct {
	path   string
	logger *slog.Logger
}

type jsonTurn struct {
	ID        string     `json:"id,omitempty"`
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Images    []string   `json:"images,omitempty"`
	Failed    bool       `json:"failed,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

func NewJSONFile(path string, logger *slog.Logger) *JSONFile {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONFile{path: path, logger: logger}
}

func (f *JSONFile) Path() string { return f.path }

// Read loads the turn sequence. A missing file is an empty history.
func (f *JSONFile) Read(ctx context.Context) ([]domain.Turn, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var raw []jsonTurn
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.path, err)
	}

	turns := make([]domain.Turn, 0, len(raw))
	for i, r := range raw {
		role := domain.Role(r.Role)
		if !role.Valid() || role == domain.RoleSystem {
			f.logger.Warn("skipping stored turn with unexpected role", "index", i, "role", r.Role)
			continue
		}
		t := domain.Turn{
			ID:     r.ID,
			Role:   role,
			Text:   r.Content,
			Failed: r.Failed,
		}
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if len(r.Images) > 0 {
			t.Attachment = r.Images[0]
		}
		if r.CreatedAt != nil {
			t.CreatedAt = *r.CreatedAt
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Write replaces the file atomically: data goes to a sibling temp file
// which is then renamed over the target.
func (f *JSONFile) Write(ctx context.Context, turns []domain.Turn) error {
	raw := make([]jsonTurn, 0, len(turns))
	for _, t := range turns {
		jt := jsonTurn{
			ID:      t.ID,
			Role:    string(t.Role),
			Content: t.Text,
			Failed:  t.Failed,
		}
		if t.HasAttachment() {
			jt.Images = []string{t.Attachment}
		}
		if !t.CreatedAt.IsZero() {
			created := t.CreatedAt
			jt.CreatedAt = &created
		}
		raw = append(raw, jt)
	}

	data, err := json.MarshalIndent(raw, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create history directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace %s: %w", f.path, err)
	}
	return nil
}
