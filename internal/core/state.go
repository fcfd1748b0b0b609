package core

import "time"

// AdminDisplayName is the fixed honorific shown instead of an admin's
// username. Lookups, cooldowns and permissions always use the username;
// the display name is presentation only and computed once at session bind.
const AdminDisplayName = "Administrator"

// Account is the persistent registry record for a username. Accounts live in
// the coordinator's volatile map and are snapshotted to the durable log.
type Account struct {
	Username     string
	SecretHash   string
	PersistentID string
	IsAdmin      bool
	AvatarID     string
	JoinedRooms  map[string]struct{} // room ids the account has ever joined
	CreatedAt    time.Time
}

// Session is a live connection bound to an account. Created as an anonymous
// placeholder on connect, populated on login, destroyed on disconnect.
// Multiple sessions may share one persistent id (multi-device).
type Session struct {
	ConnID       string
	PersistentID string
	Username     string
	DisplayName  string
	IsAdmin      bool
	AvatarID     string

	CurrentRoomID string

	// Stealth is true while an admin occupies a room they do not own:
	// excluded from occupancy counts and join/leave notices.
	Stealth bool

	Authed bool
}

// Room is a chat room identity. Membership is derived from account
// JoinedRooms plus the live session registry.
type Room struct {
	ID        string
	Name      string
	OwnerID   string // persistent id; reassigned if the owner is kicked
	CreatedAt time.Time
}

// Banner is the single persistent announcement of a room, admin-managed,
// delivered to current and future joiners until cleared.
type Banner struct {
	Message   string
	CreatedAt time.Time
	CreatedBy string
}

type cooldownKey struct {
	RoomID   string
	Username string
}
