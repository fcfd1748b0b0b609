package proto

import "encoding/json"

// Inbound is the envelope for requests coming from the client. ID is an
// optional client-chosen correlation id echoed back in the reply.
type Inbound struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	ProtocolVersion = 1

	InboundTypeLogin            = "login"
	InboundTypeCreateRoom       = "create_room"
	InboundTypeJoinRoom         = "join_room"
	InboundTypeLeaveRoom        = "leave_room"
	InboundTypeDismissRoom      = "dismiss_room"
	InboundTypeGetRoomList      = "get_room_list"
	InboundTypeSendMessage      = "send_message"
	InboundTypeGetHistory       = "get_history"
	InboundTypeRecallMessage    = "recall_message"
	InboundTypeDeleteMessage    = "delete_message"
	InboundTypeKickUser         = "kick_user"
	InboundTypeDeleteAccount    = "delete_account"
	InboundTypeUpdateAvatar     = "update_avatar"
	InboundTypeSearchUsers      = "search_users"
	InboundTypeStartDM          = "start_dm"
	InboundTypeEnterDM          = "enter_dm"
	InboundTypeGetDMList        = "get_dm_list"
	InboundTypeSendDM           = "send_dm"
	InboundTypeMarkDMRead       = "mark_dm_read"
	InboundTypeSetBanner        = "set_banner"
	InboundTypeClearBanner      = "clear_banner"
	InboundTypeGetRoomOccupants = "get_room_occupants"

	OutboundTypeReply = "reply"
	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
)

// LoginData authenticates the connection. Either a resume token or a
// username/password pair.
type LoginData struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
	Protocol int    `json:"protocol,omitempty"`
}

// CreateRoomData names the room to create.
type CreateRoomData struct {
	Name string `json:"name"`
}

// RoomRefData addresses an existing room.
type RoomRefData struct {
	RoomID string `json:"room_id"`
}

// SendMessageData is a room-scoped chat message.
type SendMessageData struct {
	RoomID   string `json:"room_id"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	ReplyTo  *int64 `json:"reply_to,omitempty"`
}

// GetHistoryData pages a message log backwards.
type GetHistoryData struct {
	Scope    string `json:"scope"` // "room" or "dm"
	ScopeID  string `json:"scope_id"`
	BeforeID *int64 `json:"before_id,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// MessageRefData addresses a single message.
type MessageRefData struct {
	Scope string `json:"scope"`
	ID    int64  `json:"id"`
}

// KickUserData removes a user from a room.
type KickUserData struct {
	RoomID   string `json:"room_id"`
	Username string `json:"username"`
}

// DeleteAccountData erases an account.
type DeleteAccountData struct {
	Username string `json:"username"`
}

// UpdateAvatarData changes the caller's avatar.
type UpdateAvatarData struct {
	AvatarID string `json:"avatar_id"`
}

// SearchUsersData is a substring account search.
type SearchUsersData struct {
	Query string `json:"query"`
}

// StartDMData opens (or resolves) a conversation with a user.
type StartDMData struct {
	Username string `json:"username"`
}

// ConversationRefData addresses an existing conversation.
type ConversationRefData struct {
	ConversationID string `json:"conversation_id"`
}

// SendDMData is a conversation-scoped message.
type SendDMData struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text,omitempty"`
	ImageURL       string `json:"image_url,omitempty"`
	ReplyTo        *int64 `json:"reply_to,omitempty"`
}

// SetBannerData installs a room announcement.
type SetBannerData struct {
	RoomID  string `json:"room_id"`
	Message string `json:"message"`
}

// Outbound is the envelope for frames sent to the client: a reply to an
// inbound request, a pushed event, or an error.
type Outbound struct {
	Type    string `json:"type"`
	ReplyTo string `json:"reply_to,omitempty"` // correlation id of the request
	Event   string `json:"event,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code             string `json:"code"`
	Msg              string `json:"msg"`
	RemainingSeconds int    `json:"remaining_seconds,omitempty"`
}
