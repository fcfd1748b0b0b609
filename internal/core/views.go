package core

// AccountView is returned to a connection after a successful login.
type AccountView struct {
	PersistentID string        `json:"persistent_id"`
	Username     string        `json:"username"`
	DisplayName  string        `json:"display_name"`
	IsAdmin      bool          `json:"is_admin"`
	AvatarID     string        `json:"avatar_id,omitempty"`
	Token        string        `json:"token,omitempty"`
	Rooms        []RoomSummary `json:"rooms"`
}

// RoomSummary is a room as listed to a client.
type RoomSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	OwnerID   string `json:"owner_id"`
	Occupants int    `json:"occupants"`
	Joined    bool   `json:"joined"`
	CreatedAt int64  `json:"created_at"`
}

// RoomJoinView is returned on a successful join.
type RoomJoinView struct {
	Room      RoomSummary   `json:"room"`
	Occupants int           `json:"occupants"`
	History   []MessageView `json:"history"`
	Banner    *BannerView   `json:"banner,omitempty"`
}

// ConversationView is a DM conversation as listed to a client.
type ConversationView struct {
	ID            string `json:"id"`
	PeerID        string `json:"peer_id"`
	PeerName      string `json:"peer_name"`
	PeerAvatarID  string `json:"peer_avatar_id,omitempty"`
	PeerOnline    bool   `json:"peer_online"`
	Unread        int    `json:"unread"`
	LastMessage   string `json:"last_message,omitempty"`
	LastMessageAt int64  `json:"last_message_at,omitempty"`
}

// DMEnterView is returned when a client enters a conversation.
type DMEnterView struct {
	Conversation ConversationView `json:"conversation"`
	History      []MessageView    `json:"history"`
}

// UserView is a user as returned by search.
type UserView struct {
	PersistentID string `json:"persistent_id"`
	Username     string `json:"username"`
	DisplayName  string `json:"display_name"`
	AvatarID     string `json:"avatar_id,omitempty"`
	Online       bool   `json:"online"`
	IsAdmin      bool   `json:"is_admin"`
}

// OccupantView is the true occupant list exposed to the admin panel,
// including stealth flags.
type OccupantView struct {
	ConnID      string `json:"conn_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	IsAdmin     bool   `json:"is_admin"`
	Stealth     bool   `json:"stealth"`
}
