package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure Go driver, no CGO
)

// SQLiteStore is an alternative Store backed by modernc.org/sqlite,
// offered for operators who already run sqlite for other components
// and would rather not have a second file format on disk. It runs in
// WAL mode over a single writer connection, with schema created on
// open if missing.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) a cursor database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("state: sqlite path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("state: create state directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("state: open sqlite database: %w", err)
	}

	// Single writer: sqlite's file locking serializes writers anyway,
	// and this avoids "database is locked" churn under modernc.org/sqlite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("state: set pragma %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cursor_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_uid INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS archive_ids (
		uid TEXT PRIMARY KEY,
		archive_id TEXT NOT NULL UNIQUE
	);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("state: initialize schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) (*Cursor, error) {
	cursor := NewCursor()

	var lastUID int64
	err := s.db.QueryRowContext(ctx, `SELECT last_uid FROM cursor_state WHERE id = 1`).Scan(&lastUID)
	switch {
	case err == sql.ErrNoRows:
		// no row yet: last_uid stays 0
	case err != nil:
		return nil, fmt.Errorf("state: query last_uid: %w", err)
	default:
		cursor.LastUID = lastUID
	}

	rows, err := s.db.QueryContext(ctx, `SELECT uid, archive_id FROM archive_ids`)
	if err != nil {
		return nil, fmt.Errorf("state: query archive_ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var uid, archiveID string
		if err := rows.Scan(&uid, &archiveID); err != nil {
			return nil, fmt.Errorf("state: scan archive_id row: %w", err)
		}
		cursor.ArchiveIDs[uid] = archiveID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: iterate archive_ids: %w", err)
	}

	return cursor, nil
}

func (s *SQLiteStore) Save(ctx context.Context, cursor *Cursor) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.saveCursorTx(ctx, tx, cursor); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: commit transaction: %w", err)
	}
	return nil
}

// saveCursorTx writes last_uid and replaces the archive_ids table with
// cursor's current contents, all within tx.
func (s *SQLiteStore) saveCursorTx(ctx context.Context, tx *sql.Tx, cursor *Cursor) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cursor_state (id, last_uid) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET last_uid = excluded.last_uid
	`, cursor.LastUID)
	if err != nil {
		return fmt.Errorf("state: upsert last_uid: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM archive_ids`); err != nil {
		return fmt.Errorf("state: clear archive_ids: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO archive_ids (uid, archive_id) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("state: prepare archive_id insert: %w", err)
	}
	defer stmt.Close()

	for uid, archiveID := range cursor.ArchiveIDs {
		if _, err := stmt.ExecContext(ctx, uid, archiveID); err != nil {
			return fmt.Errorf("state: insert archive_id for uid %s: %w", uid, err)
		}
	}

	return nil
}

// GetOrCreateArchiveID matches JSONFileStore's behavior: reuse an
// existing mapping, or mint and persist a fresh opaque id, all under a
// single transaction so concurrent callers can't mint two ids for the
// same uid.
func (s *SQLiteStore) GetOrCreateArchiveID(ctx context.Context, cursor *Cursor, uid int64) (string, error) {
	uidKey := fmt.Sprintf("%d", uid)
	if cursor.ArchiveIDs == nil {
		cursor.ArchiveIDs = make(map[string]string)
	}
	if id, ok := cursor.ArchiveIDs[uidKey]; ok {
		return id, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("state: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT archive_id FROM archive_ids WHERE uid = ?`, uidKey).Scan(&existing)
	if err == nil {
		cursor.ArchiveIDs[uidKey] = existing
		return existing, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("state: query archive_id for uid %s: %w", uidKey, err)
	}

	id, err := generateUniqueArchiveID(cursor.ArchiveIDs)
	if err != nil {
		return "", err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO archive_ids (uid, archive_id) VALUES (?, ?)`, uidKey, id); err != nil {
		return "", fmt.Errorf("state: insert archive_id for uid %s: %w", uidKey, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("state: commit transaction: %w", err)
	}

	cursor.ArchiveIDs[uidKey] = id
	return id, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
