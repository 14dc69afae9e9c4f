package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"photoflow/internal/models"
)

// Store persists the upload queue in a local sqlite database. Any process
// that can open the file may drive the queue, which is what lets a
// background agent finish sends the foreground started.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	// sqlite serializes writers; one connection avoids lock churn
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS upload_sessions (
		id TEXT PRIMARY KEY,
		context TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS upload_items (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES upload_sessions(id) ON DELETE CASCADE,
		path TEXT NOT NULL,
		filename TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		mime_type TEXT NOT NULL,
		status TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		position INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_upload_items_session ON upload_items(session_id, position);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate queue db: %w", err)
	}
	return nil
}

// SaveBatch writes the session and all of its items in one transaction.
func (s *Store) SaveBatch(ctx context.Context, batch *Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO upload_sessions (id, context, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		batch.SessionID, string(batch.Context), batch.CreatedAt,
	); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	for _, item := range batch.Items {
		if err := upsertItem(ctx, tx, item); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SaveItem writes through a single item's state change.
func (s *Store) SaveItem(ctx context.Context, item Item) error {
	return upsertItem(ctx, s.db, item)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertItem(ctx context.Context, db execer, item Item) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO upload_items (id, session_id, path, filename, size_bytes, mime_type, status, progress, retry_count, last_error, position)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			retry_count = excluded.retry_count,
			last_error = excluded.last_error`,
		item.ID, item.SessionID, item.Path, item.Filename, item.SizeBytes,
		item.MimeType, string(item.Status), item.Progress, item.RetryCount,
		item.LastError, item.Position,
	)
	if err != nil {
		return fmt.Errorf("upsert item %s: %w", item.ID, err)
	}
	return nil
}

// LoadLatest returns the most recently created session with its items, or
// nil when no session is persisted.
func (s *Store) LoadLatest(ctx context.Context) (*Batch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, context, created_at FROM upload_sessions ORDER BY created_at DESC, id DESC LIMIT 1`)

	batch := &Batch{}
	var dest string
	if err := row.Scan(&batch.SessionID, &dest, &batch.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	batch.Context = models.DestinationContext(dest)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, path, filename, size_bytes, mime_type, status, progress, retry_count, last_error, position
		 FROM upload_items WHERE session_id = ? ORDER BY position`,
		batch.SessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item Item
		var status string
		if err := rows.Scan(
			&item.ID, &item.SessionID, &item.Path, &item.Filename, &item.SizeBytes,
			&item.MimeType, &status, &item.Progress, &item.RetryCount,
			&item.LastError, &item.Position,
		); err != nil {
			return nil, err
		}
		item.Status = Status(status)
		batch.Items = append(batch.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return batch, nil
}

// DeleteSession clears a finished or discarded session.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM upload_items WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete items: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM upload_sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
