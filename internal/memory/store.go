package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"voxchat/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.Persistence using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turns (
		seq         INTEGER PRIMARY KEY,
		id          TEXT NOT NULL,
		role        TEXT NOT NULL,
		content     TEXT,
		attachment  TEXT,
		failed      INTEGER DEFAULT 0,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Write replaces the stored sequence with turns in one transaction.
func (s *SQLiteStore) Write(ctx context.Context, turns []domain.Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns`); err != nil {
		return fmt.Errorf("clear turns: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO turns (seq, id, role, content, attachment, failed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, t := range turns {
		created := t.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, i, t.ID, string(t.Role), t.Text, t.Attachment, t.Failed, created); err != nil {
			return fmt.Errorf("insert turn %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Read returns stored turns in their original order.
func (s *SQLiteStore) Read(ctx context.Context) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, attachment, failed, created_at FROM turns ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var role string
		var content, attachment sql.NullString
		if err := rows.Scan(&t.ID, &role, &content, &attachment, &t.Failed, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Role = domain.Role(role)
		if !t.Role.Valid() {
			s.logger.Warn("skipping stored turn with unexpected role", "id", t.ID, "role", role)
			continue
		}
		t.Text = content.String
		t.Attachment = attachment.String
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
