// Package storage is the local SQLite message cache. It lets a restarted
// client show a chat's timeline immediately, before (or without) the
// history fetch.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/saharix/chatline/internal/chat"
)

// DB wraps the SQLite cache file.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens or creates the cache database in the given directory.
func Open(dataDir string) (*DB, error) {
	dbPath := filepath.Join(dataDir, "messages.db")

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL keeps reads cheap while the new_message path writes through.
	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			chat_id         TEXT NOT NULL,
			sender_id       TEXT NOT NULL,
			content         TEXT NOT NULL DEFAULT '',
			media_url       TEXT NOT NULL DEFAULT '',
			attachment_name TEXT NOT NULL DEFAULT '',
			attachment_mime TEXT NOT NULL DEFAULT '',
			attachment_size INTEGER NOT NULL DEFAULT 0,
			created_at      INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_chat
			ON messages (chat_id, created_at);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create messages table: %w", err)
	}

	return &DB{db: db, path: dbPath}, nil
}

// SaveMessage caches one confirmed message. Messages are immutable, so a
// duplicate ID is ignored rather than updated.
func (d *DB) SaveMessage(msg chat.Message) error {
	if msg.ID == "" {
		return fmt.Errorf("storage: message without id")
	}

	var name, mime string
	var size int64
	if msg.Attachment != nil {
		name, mime, size = msg.Attachment.Name, msg.Attachment.MimeType, msg.Attachment.Size
	}

	_, err := d.db.Exec(`
		INSERT OR IGNORE INTO messages
			(id, chat_id, sender_id, content, media_url, attachment_name, attachment_mime, attachment_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.SenderID, msg.Content, msg.MediaURL,
		name, mime, size, msg.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("storage: save message %s: %w", msg.ID, err)
	}
	return nil
}

// MessagesByChat returns the cached messages for one chat, oldest first.
func (d *DB) MessagesByChat(chatID string) ([]chat.Message, error) {
	rows, err := d.db.Query(`
		SELECT id, chat_id, sender_id, content, media_url, attachment_name, attachment_mime, attachment_size, created_at
		FROM messages WHERE chat_id = ? ORDER BY created_at`, chatID)
	if err != nil {
		return nil, fmt.Errorf("storage: query chat %s: %w", chatID, err)
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		var m chat.Message
		var name, mime string
		var size, createdAt int64
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.MediaURL, &name, &mime, &size, &createdAt); err != nil {
			return nil, fmt.Errorf("storage: scan message: %w", err)
		}
		m.CreatedAt = time.UnixMilli(createdAt)
		if name != "" || mime != "" {
			m.Attachment = &chat.Attachment{Name: name, MimeType: mime, Size: size}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (d *DB) Close() error { return d.db.Close() }
