package core

// Transport is the coordinator's only contract with the realtime socket
// layer: deliver to one connection, fan out to a broadcast group, and manage
// group membership. Implementations must be safe for concurrent use.
type Transport interface {
	// SendTo delivers an event to a single connection. Unknown connection ids
	// are ignored.
	SendTo(connID, event string, payload any)

	// Broadcast delivers an event to every connection in a group.
	Broadcast(groupID, event string, payload any)

	JoinGroup(connID, groupID string)
	LeaveGroup(connID, groupID string)

	// GroupMembers returns the connection ids currently in a group.
	GroupMembers(groupID string) []string

	// Disconnect force-closes the underlying connection.
	Disconnect(connID string)
}

// Group id conventions shared by coordinator and transport.
const (
	groupLobbyID = "lobby"
)

func roomGroup(roomID string) string          { return "room:" + roomID }
func convGroup(convID string) string          { return "dm:" + convID }
func accountGroup(persistentID string) string { return "acct:" + persistentID }
