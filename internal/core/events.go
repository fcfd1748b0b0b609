package core

import "github.com/loftchat/loftchat-server/internal/store"

// Event names pushed to clients outside request/response pairs.
const (
	EventReceiveMessage   = "receive_message"
	EventRoomNotification = "room_notification"
	EventSystemMessage    = "system_message"
	EventOccupancy        = "occupancy"
	EventRoomCreated      = "room_created"
	EventRoomDismissed    = "room_dismissed"
	EventRoomList         = "room_list"
	EventKicked           = "kicked"
	EventBanner           = "banner"
	EventMessageRecalled  = "message_recalled"
	EventMessageDeleted   = "message_deleted"
	EventDMMessage        = "dm_message"
	EventDMUnread         = "dm_unread"
	EventPresenceChanged  = "presence_changed"
	EventForceLogout      = "force_logout"
)

// System message kinds carried in SystemMessagePayload.
const (
	SystemJoin          = "join"
	SystemLeave         = "leave"
	SystemKick          = "kick"
	SystemOwnerTransfer = "owner_transfer"
)

// MessageView is a message as delivered to clients.
type MessageView struct {
	ID         int64           `json:"id"`
	Scope      string          `json:"scope"`
	ScopeID    string          `json:"scope_id"`
	SenderID   string          `json:"sender_id"`
	SenderName string          `json:"sender_name"`
	Text       string          `json:"text,omitempty"`
	ImageURL   string          `json:"image_url,omitempty"`
	ReplyTo    *store.ReplyRef `json:"reply_to,omitempty"`
	Recalled   bool            `json:"recalled,omitempty"`
	TS         int64           `json:"ts"`
}

// SystemMessagePayload announces membership changes inside a room.
type SystemMessagePayload struct {
	RoomID string `json:"room_id"`
	Kind   string `json:"kind"`
	Text   string `json:"text"`
	User   string `json:"user,omitempty"`
	TS     int64  `json:"ts"`
}

// OccupancyPayload carries the visible occupant count of a room.
type OccupancyPayload struct {
	RoomID    string `json:"room_id"`
	Occupants int    `json:"occupants"`
}

// RoomNotificationPayload is the unread signal for members of a room who are
// not physically present in it.
type RoomNotificationPayload struct {
	RoomID      string `json:"room_id"`
	RoomName    string `json:"room_name"`
	Sender      string `json:"sender"`
	LastMessage string `json:"last_message"`
	TS          int64  `json:"ts"`
}

// RoomDismissedPayload notifies occupants and the owner of a dismissal.
type RoomDismissedPayload struct {
	RoomID   string `json:"room_id"`
	RoomName string `json:"room_name"`
	Reason   string `json:"reason,omitempty"`
}

// KickedPayload is sent to the kicked session only.
type KickedPayload struct {
	RoomID           string `json:"room_id"`
	RemainingSeconds int    `json:"remaining_seconds"`
	LostOwnership    bool   `json:"lost_ownership"`
	Reason           string `json:"reason"`
}

// BannerView is the active announcement of a room. An empty message means the
// banner was cleared.
type BannerView struct {
	RoomID    string `json:"room_id"`
	Message   string `json:"message"`
	CreatedBy string `json:"created_by,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
}

// RecallPayload tells clients to replace a message with a placeholder without
// disturbing ordering.
type RecallPayload struct {
	Scope   string `json:"scope"`
	ScopeID string `json:"scope_id"`
	ID      int64  `json:"id"`
}

// DMUnreadPayload is the unread-count signal for a conversation.
type DMUnreadPayload struct {
	ConversationID string `json:"conversation_id"`
	Sender         string `json:"sender"`
	LastMessage    string `json:"last_message"`
	TS             int64  `json:"ts"`
}

// PresencePayload announces an online/offline transition of a DM contact.
type PresencePayload struct {
	PersistentID string `json:"persistent_id"`
	Username     string `json:"username"`
	Online       bool   `json:"online"`
}
