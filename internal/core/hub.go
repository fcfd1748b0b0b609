package core

import "sync"

// Hub implements Transport over registered clients' event channels. It is the
// in-process broadcast fabric: groups are cheap named sets of connection ids.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*Client
	groups  map[string]map[string]struct{} // groupID -> connIDs
	joined  map[string]map[string]struct{} // connID -> groupIDs
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		groups:  make(map[string]map[string]struct{}),
		joined:  make(map[string]map[string]struct{}),
	}
}

// Register makes a client addressable by the coordinator.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
}

// Unregister removes a client and its group memberships.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for groupID := range h.joined[connID] {
		h.leaveLocked(connID, groupID)
	}
	delete(h.joined, connID)
	delete(h.clients, connID)
}

// SendTo delivers an event to a single connection.
func (h *Hub) SendTo(connID, event string, payload any) {
	h.mu.Lock()
	c := h.clients[connID]
	h.mu.Unlock()
	if c != nil {
		deliver(c, event, payload)
	}
}

// Broadcast delivers an event to every connection in a group.
func (h *Hub) Broadcast(groupID, event string, payload any) {
	h.mu.Lock()
	members := make([]*Client, 0, len(h.groups[groupID]))
	for connID := range h.groups[groupID] {
		if c := h.clients[connID]; c != nil {
			members = append(members, c)
		}
	}
	h.mu.Unlock()

	for _, c := range members {
		deliver(c, event, payload)
	}
}

// JoinGroup adds a connection to a group, creating the group if needed.
func (h *Hub) JoinGroup(connID, groupID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[connID]; !ok {
		return
	}
	if h.groups[groupID] == nil {
		h.groups[groupID] = make(map[string]struct{})
	}
	h.groups[groupID][connID] = struct{}{}
	if h.joined[connID] == nil {
		h.joined[connID] = make(map[string]struct{})
	}
	h.joined[connID][groupID] = struct{}{}
}

// LeaveGroup removes a connection from a group.
func (h *Hub) LeaveGroup(connID, groupID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(connID, groupID)
	if set := h.joined[connID]; set != nil {
		delete(set, groupID)
	}
}

// GroupMembers returns the connection ids currently in a group.
func (h *Hub) GroupMembers(groupID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := make([]string, 0, len(h.groups[groupID]))
	for connID := range h.groups[groupID] {
		members = append(members, connID)
	}
	return members
}

// Disconnect force-closes the underlying connection. The transport layer
// watches Client.Done and tears the socket down.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	c := h.clients[connID]
	h.mu.Unlock()
	if c != nil {
		c.close()
	}
}

func (h *Hub) leaveLocked(connID, groupID string) {
	if set := h.groups[groupID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(h.groups, groupID)
		}
	}
}

func deliver(c *Client, event string, payload any) {
	select {
	case c.Events <- &Event{Name: event, Payload: payload}:
	default:
		// Drop if slow consumer.
	}
}

var _ Transport = (*Hub)(nil)
