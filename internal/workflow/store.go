package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"relaybot/internal/domain"
)

// Store persists workflow definitions and the activity log in SQLite so
// saved automations survive restarts.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("db directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open workflow db: %w", err)
	}

	// SQLite wants a single writer, so cap the pool at one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// The driver does not read pragmas from the DSN; set them per connection.
	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			logger.Warn("sqlite pragma failed", "pragma", pragma, "error", err)
		}
	}

	store := &Store{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workflows (
		id                   TEXT PRIMARY KEY,
		name                 TEXT NOT NULL,
		source_service       TEXT NOT NULL,
		destination_service  TEXT NOT NULL,
		filter               TEXT,
		active               INTEGER NOT NULL DEFAULT 0,
		transform_with_model INTEGER NOT NULL DEFAULT 0,
		target_recipient     TEXT,
		target_chat_id       TEXT,
		created_at           DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at           DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS activity_log (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		message     TEXT NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_activity_time ON activity_log(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) SaveWorkflow(ctx context.Context, def domain.WorkflowDefinition) error {
	now := time.Now()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	if def.UpdatedAt.IsZero() {
		def.UpdatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO workflows
		 (id, name, source_service, destination_service, filter, active, transform_with_model, target_recipient, target_chat_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		def.ID, def.Name, def.SourceService, def.DestinationService, def.Filter,
		def.Active, def.TransformWithModel, def.TargetRecipient, def.TargetChatID,
		def.CreatedAt, def.UpdatedAt,
	)
	return err
}

func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	return err
}

func (s *Store) ListWorkflows(ctx context.Context) ([]domain.WorkflowDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, source_service, destination_service, filter, active, transform_with_model, target_recipient, target_chat_id, created_at, updated_at
		 FROM workflows ORDER BY created_at`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []domain.WorkflowDefinition
	for rows.Next() {
		var def domain.WorkflowDefinition
		if err := rows.Scan(&def.ID, &def.Name, &def.SourceService, &def.DestinationService,
			&def.Filter, &def.Active, &def.TransformWithModel,
			&def.TargetRecipient, &def.TargetChatID,
			&def.CreatedAt, &def.UpdatedAt); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// AppendActivity inserts one entry and prunes the table to the newest
// activityLimit rows.
func (s *Store) AppendActivity(ctx context.Context, entry domain.ActivityEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity_log (message, created_at) VALUES (?, ?)`,
		entry.Message, entry.Timestamp,
	)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM activity_log WHERE id NOT IN
		 (SELECT id FROM activity_log ORDER BY id DESC LIMIT ?)`, activityLimit,
	)
	return err
}

// RecentActivity returns the last limit entries in chronological order.
func (s *Store) RecentActivity(ctx context.Context, limit int) ([]domain.ActivityEntry, error) {
	if limit <= 0 {
		limit = activityLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT message, created_at FROM activity_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.ActivityEntry
	for rows.Next() {
		var e domain.ActivityEntry
		if err := rows.Scan(&e.Message, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
