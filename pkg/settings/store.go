package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Store хранилище записи настроек.
// Load возвращает пустую запись, если ничего не сохранено.
type Store interface {
	Load(ctx context.Context) (ConnectionSettings, error)
	Save(ctx context.Context, s ConnectionSettings) error
	Close() error
}

// keyValue примитив хранения строк по ключу, аналог localStorage.
type keyValue interface {
	get(ctx context.Context, key string) (string, bool, error)
	put(ctx context.Context, key, value string) error
	close() error
}

type recordStore struct {
	kv keyValue
}

func (r *recordStore) Load(ctx context.Context) (ConnectionSettings, error) {
	raw, ok, err := r.kv.get(ctx, StorageKey)
	if err != nil {
		return ConnectionSettings{}, err
	}
	if !ok || raw == "" {
		return ConnectionSettings{}, nil
	}
	return Decode([]byte(raw))
}

func (r *recordStore) Save(ctx context.Context, s ConnectionSettings) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}
	return r.kv.put(ctx, StorageKey, string(data))
}

func (r *recordStore) Close() error {
	return r.kv.close()
}

// NewFileStore хранилище в JSON файле: объект ключ -> строковое значение.
func NewFileStore(path string) (Store, error) {
	if path == "" {
		return nil, errors.New("settings: file path is empty")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create settings dir: %w", err)
		}
	}
	return &recordStore{kv: &fileKV{path: path}}, nil
}

type fileKV struct {
	mu   sync.Mutex
	path string
}

func (f *fileKV) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	items := map[string]string{}
	if len(data) == 0 {
		return items, nil
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.path, err)
	}
	return items, nil
}

func (f *fileKV) get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	items, err := f.read()
	if err != nil {
		return "", false, err
	}
	v, ok := items[key]
	return v, ok, nil
}

func (f *fileKV) put(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	items, err := f.read()
	if err != nil {
		return err
	}
	items[key] = value
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}

	// запись через временный файл, чтобы не оставить обрезанный JSON
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func (f *fileKV) close() error { return nil }

// NewSQLiteStore хранилище в sqlite базе (таблица local_storage).
func NewSQLiteStore(ctx context.Context, path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	const schema = `CREATE TABLE IF NOT EXISTS local_storage (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create local_storage table: %w", err)
	}
	return &recordStore{kv: &sqliteKV{db: db}}, nil
}

type sqliteKV struct {
	db *sql.DB
}

func (s *sqliteKV) get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM local_storage WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select %s: %w", key, err)
	}
	return value, true, nil
}

func (s *sqliteKV) put(ctx context.Context, key, value string) error {
	const query = `INSERT INTO local_storage (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

func (s *sqliteKV) close() error {
	return s.db.Close()
}
