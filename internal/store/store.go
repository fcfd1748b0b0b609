package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Scope distinguishes the two message logs.
type Scope string

const (
	ScopeRoom Scope = "room"
	ScopeDM   Scope = "dm"
)

// ReplyRef is a shallow copy of the replied-to message, embedded in the reply
// at send time. It is not a live reference: recalling or deleting the original
// does not alter it.
type ReplyRef struct {
	ID         int64  `json:"id"`
	SenderName string `json:"sender_name"`
	Text       string `json:"text,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`
}

// Message is a persisted chat message, room or DM scoped.
type Message struct {
	ID         int64
	ScopeID    string // room id or conversation id
	SenderID   string // persistent account id
	SenderName string
	Text       string
	ImageURL   string
	ReplyTo    *ReplyRef
	Recalled   bool
	IsRead     bool // DM only: read by the non-sender participant
	CreatedAt  time.Time
}

// Conversation is a DM conversation identity between two accounts.
// UserA/UserB are stored in canonical (sorted) order so that requesting the
// pair in either order resolves to the same record.
type Conversation struct {
	ID            string
	UserA         string
	UserB         string
	CreatedAt     time.Time
	LastMessageAt time.Time
}

// Peer returns the other participant relative to persistentID.
func (c *Conversation) Peer(persistentID string) string {
	if c.UserA == persistentID {
		return c.UserB
	}
	return c.UserA
}

// ConversationSummary is a conversation with per-caller computed fields.
type ConversationSummary struct {
	Conversation
	UnreadCount      int
	LastMessageText  string
	LastMessageImage bool
}

// MessageStore is the append-only + queryable message log.
type MessageStore interface {
	// SaveMessage persists a message and assigns msg.ID.
	SaveMessage(ctx context.Context, scope Scope, msg *Message) error

	// GetMessage retrieves a single message by id.
	GetMessage(ctx context.Context, scope Scope, id int64) (*Message, error)

	// ListMessages retrieves messages for a scope in chronological order.
	// If beforeID is set, only messages older than that id are returned.
	ListMessages(ctx context.Context, scope Scope, scopeID string, limit int, beforeID *int64) ([]*Message, error)

	// RecallMessage marks a message recalled. Returns false if it does not exist.
	RecallMessage(ctx context.Context, scope Scope, id int64) (bool, error)

	// DeleteMessage removes a message outright. Returns false if it does not exist.
	DeleteMessage(ctx context.Context, scope Scope, id int64) (bool, error)

	// DeleteScope removes every message belonging to a scope id.
	DeleteScope(ctx context.Context, scope Scope, scopeID string) error
}

// ConversationStore is the DM conversation registry.
type ConversationStore interface {
	// GetOrCreateConversation resolves the conversation between two accounts,
	// creating it on first contact. Order of arguments does not matter.
	GetOrCreateConversation(ctx context.Context, idA, idB string) (*Conversation, error)

	// GetConversation retrieves a conversation by id.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// ListConversationsFor lists conversations involving the account, most
	// recent first, with unread counts computed for that account.
	ListConversationsFor(ctx context.Context, persistentID string) ([]*ConversationSummary, error)

	// MarkRead marks every message in the conversation not sent by readerID as
	// read. Idempotent.
	MarkRead(ctx context.Context, conversationID, readerID string) error
}

// SnapshotStore persists opaque snapshots of volatile coordinator state.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, key string, blob []byte) error

	// LoadSnapshot returns ErrNotFound when no snapshot was ever written.
	LoadSnapshot(ctx context.Context, key string) ([]byte, error)
}

// Store aggregates the durable-log interfaces.
type Store interface {
	MessageStore
	ConversationStore
	SnapshotStore

	// Close closes the underlying database connection.
	Close() error
}
