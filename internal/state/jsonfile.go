package state

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// JSONFileStore is the default Store: a single state.json file guarded
// by a cross-process flock plus an in-process mutex, written atomically
// via write-temp-then-rename.
type JSONFileStore struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

// NewJSONFileStore opens (without yet locking) the state file at path.
func NewJSONFileStore(path string) (*JSONFileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("state: create state directory: %w", err)
	}
	return &JSONFileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

var _ Store = (*JSONFileStore)(nil)

func (s *JSONFileStore) Load(ctx context.Context) (*Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadUnlocked()
}

func (s *JSONFileStore) loadUnlocked() (*Cursor, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewCursor(), nil
		}
		return nil, fmt.Errorf("state: read %s: %w", s.path, err)
	}

	var cursor Cursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, fmt.Errorf("state: parse %s: %w", s.path, err)
	}
	if cursor.ArchiveIDs == nil {
		cursor.ArchiveIDs = make(map[string]string)
	}
	return &cursor, nil
}

func (s *JSONFileStore) Save(ctx context.Context, cursor *Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveUnlocked(cursor)
}

func (s *JSONFileStore) saveUnlocked(cursor *Cursor) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("state: acquire lock: %w", err)
	}
	defer s.lock.Unlock()

	data, err := json.MarshalIndent(cursor, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal cursor: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("state: write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("state: rename temp file: %w", err)
	}
	return nil
}

// GetOrCreateArchiveID reuses an existing mapping under lock, or mints
// a fresh opaque id and persists it.
func (s *JSONFileStore) GetOrCreateArchiveID(ctx context.Context, cursor *Cursor, uid int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	uidKey := fmt.Sprintf("%d", uid)
	if cursor.ArchiveIDs == nil {
		cursor.ArchiveIDs = make(map[string]string)
	}
	if id, ok := cursor.ArchiveIDs[uidKey]; ok {
		return id, nil
	}

	id, err := generateUniqueArchiveID(cursor.ArchiveIDs)
	if err != nil {
		return "", err
	}

	cursor.ArchiveIDs[uidKey] = id
	if err := s.saveUnlocked(cursor); err != nil {
		return "", err
	}
	return id, nil
}

func (s *JSONFileStore) Close() error {
	return nil
}

// generateUniqueArchiveID retries up to 100 times against the existing
// set, then falls back to a longer id.
func generateUniqueArchiveID(existing map[string]string) (string, error) {
	taken := make(map[string]bool, len(existing))
	for _, v := range existing {
		taken[v] = true
	}

	for i := 0; i < 100; i++ {
		id, err := randomURLSafeID(8)
		if err != nil {
			return "", err
		}
		if !taken[id] {
			return id, nil
		}
	}

	return randomURLSafeID(16)
}

func randomURLSafeID(numBytes int) (string, error) {
	buf := make([]byte, numBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("state: generate random id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
