package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/iamvkosarev/persona-chat/internal/model"
	_ "modernc.org/sqlite"
)

type ChatStorage struct {
	db *sql.DB
}

// Open opens (and creates if needed) the database at path.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create db dir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping db %s: %w", path, err)
	}
	// A single connection serialises writers; sqlite would return SQLITE_BUSY
	// otherwise.
	db.SetMaxOpenConns(1)

	schema := `CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return db, nil
}

func NewChatStorage(db *sql.DB) *ChatStorage {
	return &ChatStorage{
		db: db,
	}
}

func (c *ChatStorage) GetChats(ctx context.Context, key string) ([]byte, error) {
	var raw []byte
	err := c.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrChatsNotFound
		}
		return nil, fmt.Errorf("failed to get chats %s: %w", key, err)
	}
	return raw, nil
}

func (c *ChatStorage) SetChats(ctx context.Context, key string, value []byte) error {
	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO kv(key, value, updated_at) VALUES(?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key,
		value,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save chats %s: %w", key, err)
	}
	return nil
}
