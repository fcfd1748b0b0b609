package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/loftchat/loftchat-server/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	scope       TEXT NOT NULL,
	scope_id    TEXT NOT NULL,
	sender_id   TEXT NOT NULL,
	sender_name TEXT NOT NULL,
	body        TEXT NOT NULL DEFAULT '',
	image_url   TEXT NOT NULL DEFAULT '',
	reply_to    TEXT,
	recalled    INTEGER NOT NULL DEFAULT 0,
	is_read     INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_scope ON messages(scope, scope_id, id);

CREATE TABLE IF NOT EXISTS conversations (
	id              TEXT PRIMARY KEY,
	user_a          TEXT NOT NULL,
	user_b          TEXT NOT NULL,
	created_at      DATETIME NOT NULL,
	last_message_at DATETIME NOT NULL,
	UNIQUE(user_a, user_b)
);

CREATE TABLE IF NOT EXISTS snapshots (
	key        TEXT PRIMARY KEY,
	blob       BLOB NOT NULL,
	updated_at DATETIME NOT NULL
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== MessageStore implementation ====

// SaveMessage persists a message and assigns its durable id.
func (s *SQLiteStore) SaveMessage(ctx context.Context, scope store.Scope, msg *store.Message) error {
	var replyTo sql.NullString
	if msg.ReplyTo != nil {
		data, err := json.Marshal(msg.ReplyTo)
		if err != nil {
			return fmt.Errorf("marshal reply ref: %w", err)
		}
		replyTo = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO messages (scope, scope_id, sender_id, sender_name, body, image_url, reply_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		string(scope), msg.ScopeID, msg.SenderID, msg.SenderName,
		msg.Text, msg.ImageURL, replyTo, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	msg.ID = id

	if scope == store.ScopeDM {
		touch := `UPDATE conversations SET last_message_at = ? WHERE id = ?`
		if _, err := s.db.ExecContext(ctx, touch, msg.CreatedAt, msg.ScopeID); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
	}

	return nil
}

// GetMessage retrieves a single message by id.
func (s *SQLiteStore) GetMessage(ctx context.Context, scope store.Scope, id int64) (*store.Message, error) {
	query := `
		SELECT id, scope_id, sender_id, sender_name, body, image_url, reply_to, recalled, is_read, created_at
		FROM messages
		WHERE scope = ? AND id = ?
	`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, string(scope), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	return msg, nil
}

// ListMessages retrieves messages for a scope with pagination.
func (s *SQLiteStore) ListMessages(ctx context.Context, scope store.Scope, scopeID string, limit int, beforeID *int64) ([]*store.Message, error) {
	var query string
	var args []any

	if beforeID != nil {
		query = `
			SELECT id, scope_id, sender_id, sender_name, body, image_url, reply_to, recalled, is_read, created_at
			FROM messages
			WHERE scope = ? AND scope_id = ? AND id < ?
			ORDER BY id DESC
			LIMIT ?
		`
		args = []any{string(scope), scopeID, *beforeID, limit}
	} else {
		query = `
			SELECT id, scope_id, sender_id, sender_name, body, image_url, reply_to, recalled, is_read, created_at
			FROM messages
			WHERE scope = ? AND scope_id = ?
			ORDER BY id DESC
			LIMIT ?
		`
		args = []any{string(scope), scopeID, limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	// Reverse to get chronological order.
	for i := 0; i < len(messages)/2; i++ {
		messages[i], messages[len(messages)-1-i] = messages[len(messages)-1-i], messages[i]
	}

	return messages, rows.Err()
}

// RecallMessage marks a message recalled.
func (s *SQLiteStore) RecallMessage(ctx context.Context, scope store.Scope, id int64) (bool, error) {
	query := `UPDATE messages SET recalled = 1 WHERE scope = ? AND id = ?`
	result, err := s.db.ExecContext(ctx, query, string(scope), id)
	if err != nil {
		return false, fmt.Errorf("recall message: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// DeleteMessage removes a message from the log.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, scope store.Scope, id int64) (bool, error) {
	query := `DELETE FROM messages WHERE scope = ? AND id = ?`
	result, err := s.db.ExecContext(ctx, query, string(scope), id)
	if err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// DeleteScope removes every message belonging to a scope id.
func (s *SQLiteStore) DeleteScope(ctx context.Context, scope store.Scope, scopeID string) error {
	query := `DELETE FROM messages WHERE scope = ? AND scope_id = ?`
	if _, err := s.db.ExecContext(ctx, query, string(scope), scopeID); err != nil {
		return fmt.Errorf("delete scope messages: %w", err)
	}
	return nil
}

// ==== ConversationStore implementation ====

// GetOrCreateConversation resolves the conversation between two accounts,
// creating it on first contact. Canonicalizes the pair so argument order does
// not matter.
func (s *SQLiteStore) GetOrCreateConversation(ctx context.Context, idA, idB string) (*store.Conversation, error) {
	userA, userB := idA, idB
	if userB < userA {
		userA, userB = userB, userA
	}

	conv, err := s.getConversationByPair(ctx, userA, userB)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO conversations (id, user_a, user_b, created_at, last_message_at)
		VALUES (?, ?, ?, ?, ?)
	`
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx, query, id, userA, userB, now, now); err != nil {
		// Lost a race with a concurrent create; re-read.
		if conv, readErr := s.getConversationByPair(ctx, userA, userB); readErr == nil {
			return conv, nil
		}
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	return s.GetConversation(ctx, id)
}

// GetConversation retrieves a conversation by id.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	query := `
		SELECT id, user_a, user_b, created_at, last_message_at
		FROM conversations
		WHERE id = ?
	`
	var conv store.Conversation
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID, &conv.UserA, &conv.UserB, &conv.CreatedAt, &conv.LastMessageAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return &conv, nil
}

func (s *SQLiteStore) getConversationByPair(ctx context.Context, userA, userB string) (*store.Conversation, error) {
	query := `
		SELECT id, user_a, user_b, created_at, last_message_at
		FROM conversations
		WHERE user_a = ? AND user_b = ?
	`
	var conv store.Conversation
	err := s.db.QueryRowContext(ctx, query, userA, userB).Scan(
		&conv.ID, &conv.UserA, &conv.UserB, &conv.CreatedAt, &conv.LastMessageAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return &conv, nil
}

// ListConversationsFor lists conversations involving the account with unread
// counts computed for that account.
func (s *SQLiteStore) ListConversationsFor(ctx context.Context, persistentID string) ([]*store.ConversationSummary, error) {
	query := `
		SELECT c.id, c.user_a, c.user_b, c.created_at, c.last_message_at,
			(SELECT COUNT(*) FROM messages m
				WHERE m.scope = 'dm' AND m.scope_id = c.id
				  AND m.sender_id != ? AND m.is_read = 0) AS unread,
			COALESCE((SELECT m.body FROM messages m
				WHERE m.scope = 'dm' AND m.scope_id = c.id
				ORDER BY m.id DESC LIMIT 1), '') AS last_body,
			COALESCE((SELECT m.image_url != '' FROM messages m
				WHERE m.scope = 'dm' AND m.scope_id = c.id
				ORDER BY m.id DESC LIMIT 1), 0) AS last_image
		FROM conversations c
		WHERE c.user_a = ? OR c.user_b = ?
		ORDER BY c.last_message_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, persistentID, persistentID, persistentID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var summaries []*store.ConversationSummary
	for rows.Next() {
		var sum store.ConversationSummary
		if err := rows.Scan(
			&sum.ID, &sum.UserA, &sum.UserB, &sum.CreatedAt, &sum.LastMessageAt,
			&sum.UnreadCount, &sum.LastMessageText, &sum.LastMessageImage,
		); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		summaries = append(summaries, &sum)
	}

	return summaries, rows.Err()
}

// MarkRead marks every message in the conversation not sent by readerID as read.
func (s *SQLiteStore) MarkRead(ctx context.Context, conversationID, readerID string) error {
	query := `
		UPDATE messages SET is_read = 1
		WHERE scope = 'dm' AND scope_id = ? AND sender_id != ? AND is_read = 0
	`
	if _, err := s.db.ExecContext(ctx, query, conversationID, readerID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// ==== SnapshotStore implementation ====

// SaveSnapshot upserts an opaque snapshot blob under key.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, key string, blob []byte) error {
	query := `
		INSERT INTO snapshots (key, blob, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, blob, time.Now().UTC()); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot retrieves a snapshot blob by key.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT blob FROM snapshots WHERE key = ?`
	var blob []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	return blob, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*store.Message, error) {
	var msg store.Message
	var replyTo sql.NullString
	if err := row.Scan(
		&msg.ID, &msg.ScopeID, &msg.SenderID, &msg.SenderName,
		&msg.Text, &msg.ImageURL, &replyTo, &msg.Recalled, &msg.IsRead, &msg.CreatedAt,
	); err != nil {
		return nil, err
	}
	if replyTo.Valid && replyTo.String != "" {
		var ref store.ReplyRef
		if err := json.Unmarshal([]byte(replyTo.String), &ref); err == nil {
			msg.ReplyTo = &ref
		}
	}
	return &msg, nil
}

// Ensure SQLiteStore implements store.Store
var _ store.Store = (*SQLiteStore)(nil)
