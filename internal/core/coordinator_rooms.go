package core

import (
	"context"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/loftchat/loftchat-server/internal/store"
)

// CreateRoom registers a new room owned by the caller's account.
func (c *Coordinator) CreateRoom(connID, name string) (*RoomSummary, error) {
	var view *RoomSummary
	var cerr *CoordError
	c.do(func() {
		sess, err := c.requireAuthed(connID)
		if err != nil {
			cerr = err
			return
		}
		name = strings.TrimSpace(name)
		if name == "" || len(name) > 64 {
			cerr = coordError(ErrCodeValidation, "room name must be 1-64 characters")
			return
		}
		for _, room := range c.rooms {
			if room.Name == name {
				cerr = coordError(ErrCodeConflict, "room with this name already exists")
				return
			}
		}

		room := &Room{
			ID:        uuid.NewString(),
			Name:      name,
			OwnerID:   sess.PersistentID,
			CreatedAt: c.now(),
		}
		c.rooms[room.ID] = room

		summary := RoomSummary{
			ID:        room.ID,
			Name:      room.Name,
			OwnerID:   room.OwnerID,
			CreatedAt: room.CreatedAt.Unix(),
		}
		c.tr.Broadcast(groupLobbyID, EventRoomCreated, summary)
		c.log.Info().Str("room", room.Name).Str("owner", sess.Username).Msg("room created")
		view = &summary
	})
	if cerr != nil {
		return nil, cerr
	}
	return view, nil
}

// ListRooms returns every live room with the caller's joined flag.
func (c *Coordinator) ListRooms(connID string) ([]RoomSummary, error) {
	var out []RoomSummary
	var cerr *CoordError
	c.do(func() {
		sess, err := c.requireAuthed(connID)
		if err != nil {
			cerr = err
			return
		}
		out = c.roomSummaries(c.accountByID[sess.PersistentID])
	})
	if cerr != nil {
		return nil, cerr
	}
	return out, nil
}

// JoinRoom moves the session into a room, enforcing the kick cooldown and
// stealth rules, and returns occupancy, recent history and the active banner.
func (c *Coordinator) JoinRoom(connID, roomID string) (*RoomJoinView, error) {
	var view *RoomJoinView
	var cerr *CoordError
	c.do(func() {
		view, cerr = c.joinRoomLocked(connID, roomID)
	})
	if cerr != nil {
		return nil, cerr
	}
	return view, nil
}

func (c *Coordinator) joinRoomLocked(connID, roomID string) (*RoomJoinView, *CoordError) {
	sess, err := c.requireAuthed(connID)
	if err != nil {
		return nil, err
	}
	room, ok := c.rooms[roomID]
	if !ok {
		return nil, coordError(ErrCodeNotFound, "room not found")
	}

	if !sess.IsAdmin {
		if remaining := c.cooldownRemaining(roomID, sess.Username); remaining > 0 {
			return nil, cooldownError(remaining)
		}
	}

	stealth := sess.IsAdmin && room.OwnerID != sess.PersistentID
	rejoin := sess.CurrentRoomID == roomID

	if sess.CurrentRoomID != "" && !rejoin {
		c.leaveRoomLocked(sess)
	}

	sess.CurrentRoomID = roomID
	sess.Stealth = stealth
	c.tr.JoinGroup(connID, roomGroup(roomID))

	acct := c.accountByID[sess.PersistentID]
	if _, joined := acct.JoinedRooms[roomID]; !joined {
		acct.JoinedRooms[roomID] = struct{}{}
	}

	// A rejoin of the occupied room refreshes the view only; the room already
	// heard about this session.
	if !stealth && !rejoin {
		c.broadcastSystem(room.ID, SystemJoin, sess.DisplayName+" joined the room", sess.DisplayName)
		c.broadcastOccupancy(room.ID)
		c.pushRoomLists(room.ID)
	}

	history := c.roomHistory(room.ID)
	views := make([]MessageView, 0, len(history))
	for _, msg := range history {
		views = append(views, c.messageView(store.ScopeRoom, msg))
	}

	var banner *BannerView
	if b := c.banners[room.ID]; b != nil {
		banner = &BannerView{
			RoomID:    room.ID,
			Message:   b.Message,
			CreatedBy: b.CreatedBy,
			CreatedAt: b.CreatedAt.Unix(),
		}
	}

	return &RoomJoinView{
		Room: RoomSummary{
			ID:        room.ID,
			Name:      room.Name,
			OwnerID:   room.OwnerID,
			Occupants: c.visibleOccupants(room.ID),
			Joined:    true,
			CreatedAt: room.CreatedAt.Unix(),
		},
		Occupants: c.visibleOccupants(room.ID),
		History:   views,
		Banner:    banner,
	}, nil
}

// LeaveRoom removes the session from its current room.
func (c *Coordinator) LeaveRoom(connID string) error {
	var cerr *CoordError
	c.do(func() {
		sess, err := c.requireAuthed(connID)
		if err != nil {
			cerr = err
			return
		}
		if sess.CurrentRoomID == "" {
			cerr = coordError(ErrCodeNotInRoom, "not in a room")
			return
		}
		c.leaveRoomLocked(sess)
	})
	if cerr != nil {
		return cerr
	}
	return nil
}

// leaveRoomLocked detaches the session from its room, emitting leave notices
// unless the occupancy was stealth.
func (c *Coordinator) leaveRoomLocked(sess *Session) {
	roomID := sess.CurrentRoomID
	stealth := sess.Stealth
	sess.CurrentRoomID = ""
	sess.Stealth = false
	c.tr.LeaveGroup(sess.ConnID, roomGroup(roomID))

	if _, ok := c.rooms[roomID]; !ok {
		return
	}
	if !stealth {
		c.broadcastSystem(roomID, SystemLeave, sess.DisplayName+" left the room", sess.DisplayName)
		c.broadcastOccupancy(roomID)
	}
}

// DismissRoom destroys a room. Permitted for the room owner or an admin.
func (c *Coordinator) DismissRoom(connID, roomID string) error {
	var cerr *CoordError
	c.do(func() {
		sess, err := c.requireAuthed(connID)
		if err != nil {
			cerr = err
			return
		}
		room, ok := c.rooms[roomID]
		if !ok {
			cerr = coordError(ErrCodeNotFound, "room not found")
			return
		}
		if room.OwnerID != sess.PersistentID && !sess.IsAdmin {
			cerr = coordError(ErrCodePermission, "only the owner or an admin can dismiss a room")
			return
		}
		c.dismissRoomLocked(room, "room dismissed")
	})
	if cerr != nil {
		return cerr
	}
	return nil
}

// dismissRoomLocked broadcasts the dismissal, detaches every occupant, wipes
// the room's volatile state and purges its durable log.
func (c *Coordinator) dismissRoomLocked(room *Room, reason string) {
	payload := RoomDismissedPayload{RoomID: room.ID, RoomName: room.Name, Reason: reason}

	c.tr.Broadcast(roomGroup(room.ID), EventRoomDismissed, payload)
	for _, sess := range c.sessionsInRoom(room.ID) {
		sess.CurrentRoomID = ""
		sess.Stealth = false
		c.tr.LeaveGroup(sess.ConnID, roomGroup(room.ID))
	}

	// The owner is told even when not occupying the room.
	c.tr.Broadcast(accountGroup(room.OwnerID), EventRoomDismissed, payload)
	c.tr.Broadcast(groupLobbyID, EventRoomDismissed, payload)

	for _, acct := range c.accounts {
		delete(acct.JoinedRooms, room.ID)
	}
	delete(c.rooms, room.ID)
	delete(c.banners, room.ID)
	delete(c.history, room.ID)
	for key := range c.cooldowns {
		if key.RoomID == room.ID {
			delete(c.cooldowns, key)
		}
	}

	roomID := room.ID
	c.persistAsync("delete room messages", func(ctx context.Context) error {
		return c.store.DeleteScope(ctx, store.ScopeRoom, roomID)
	})
	c.log.Info().Str("room", room.Name).Str("reason", reason).Msg("room dismissed")
}

// KickUser forces a user out of a room and starts their rejoin cooldown.
// Admin-only. Kicking the sole occupant dismisses the room instead.
func (c *Coordinator) KickUser(connID, roomID, targetUsername string) error {
	var cerr *CoordError
	c.do(func() {
		cerr = c.kickUserLocked(connID, roomID, targetUsername)
	})
	if cerr != nil {
		return cerr
	}
	return nil
}

func (c *Coordinator) kickUserLocked(connID, roomID, targetUsername string) *CoordError {
	actor, err := c.requireAuthed(connID)
	if err != nil {
		return err
	}
	if !actor.IsAdmin {
		return coordError(ErrCodePermission, "admin only")
	}
	room, ok := c.rooms[roomID]
	if !ok {
		return coordError(ErrCodeNotFound, "room not found")
	}
	target := c.accounts[targetUsername]
	if target == nil {
		return coordError(ErrCodeNotFound, "no such account")
	}

	var targetSessions []*Session
	occupants := c.sessionsInRoom(roomID)
	for _, sess := range occupants {
		if sess.PersistentID == target.PersistentID {
			targetSessions = append(targetSessions, sess)
		}
	}
	if len(targetSessions) == 0 {
		// Covers the concurrent double-kick: the second kick is a no-op.
		return coordError(ErrCodeNotInRoom, "user is not in this room")
	}

	// A single-occupant room cannot meaningfully continue: degrade to a
	// dismissal and record no cooldown.
	if len(occupants) == len(targetSessions) {
		c.dismissRoomLocked(room, "room dismissed")
		return nil
	}

	remaining := 0
	if !target.IsAdmin {
		c.cooldowns[cooldownKey{RoomID: roomID, Username: target.Username}] = c.now()
		remaining = int(c.opts.KickCooldown.Seconds())
	}

	lostOwnership := room.OwnerID == target.PersistentID

	for _, sess := range targetSessions {
		sess.CurrentRoomID = ""
		sess.Stealth = false
		c.tr.LeaveGroup(sess.ConnID, roomGroup(roomID))
	}

	if lostOwnership {
		c.transferOwnership(room, target.PersistentID)
	}

	reason := "you were removed from the room"
	if lostOwnership {
		reason = "you were removed from the room and lost its ownership"
	}
	for _, sess := range targetSessions {
		c.tr.SendTo(sess.ConnID, EventKicked, KickedPayload{
			RoomID:           roomID,
			RemainingSeconds: remaining,
			LostOwnership:    lostOwnership,
			Reason:           reason,
		})
	}

	c.broadcastSystem(roomID, SystemKick, target.Username+" was removed from the room", target.Username)
	c.broadcastOccupancy(roomID)
	c.log.Info().Str("room", room.Name).Str("target", target.Username).Msg("user kicked")
	return nil
}

// transferOwnership hands the room to another occupant: any non-admin
// occupant first, then any occupant at all (a visiting admin included).
// Returns false when nobody is left to take it.
func (c *Coordinator) transferOwnership(room *Room, exclude string) bool {
	var pick, fallback *Session
	for _, sess := range c.sessionsInRoom(room.ID) {
		if sess.PersistentID == exclude || sess.PersistentID == room.OwnerID {
			continue
		}
		if !sess.IsAdmin {
			pick = sess
			break
		}
		if fallback == nil {
			fallback = sess
		}
	}
	if pick == nil {
		pick = fallback
	}
	if pick == nil {
		return false
	}

	room.OwnerID = pick.PersistentID
	// Owners are never stealth in their own room.
	for _, sess := range c.sessionsInRoom(room.ID) {
		if sess.PersistentID == pick.PersistentID {
			sess.Stealth = false
		}
	}
	c.broadcastSystem(room.ID, SystemOwnerTransfer, pick.DisplayName+" is now the room owner", pick.DisplayName)
	c.broadcastOccupancy(room.ID)
	return true
}

// SetBanner installs the room's announcement. Admin-only.
func (c *Coordinator) SetBanner(connID, roomID, message string) error {
	return c.bannerOp(connID, roomID, message)
}

// ClearBanner removes the room's announcement. Admin-only.
func (c *Coordinator) ClearBanner(connID, roomID string) error {
	return c.bannerOp(connID, roomID, "")
}

func (c *Coordinator) bannerOp(connID, roomID, message string) error {
	var cerr *CoordError
	c.do(func() {
		sess, err := c.requireAuthed(connID)
		if err != nil {
			cerr = err
			return
		}
		if !sess.IsAdmin {
			cerr = coordError(ErrCodePermission, "admin only")
			return
		}
		if _, ok := c.rooms[roomID]; !ok {
			cerr = coordError(ErrCodeNotFound, "room not found")
			return
		}

		view := BannerView{RoomID: roomID, Message: message}
		if message == "" {
			delete(c.banners, roomID)
		} else {
			banner := &Banner{Message: message, CreatedAt: c.now(), CreatedBy: sess.Username}
			c.banners[roomID] = banner
			view.CreatedBy = banner.CreatedBy
			view.CreatedAt = banner.CreatedAt.Unix()
		}
		c.tr.Broadcast(roomGroup(roomID), EventBanner, view)
	})
	if cerr != nil {
		return cerr
	}
	return nil
}

// RoomOccupants exposes the true occupant list, stealth flags included.
// Admin-only: everyone else only ever sees visible occupancy counts.
func (c *Coordinator) RoomOccupants(connID, roomID string) ([]OccupantView, error) {
	var out []OccupantView
	var cerr *CoordError
	c.do(func() {
		sess, err := c.requireAuthed(connID)
		if err != nil {
			cerr = err
			return
		}
		if !sess.IsAdmin {
			cerr = coordError(ErrCodePermission, "admin only")
			return
		}
		if _, ok := c.rooms[roomID]; !ok {
			cerr = coordError(ErrCodeNotFound, "room not found")
			return
		}
		for _, occ := range c.sessionsInRoom(roomID) {
			out = append(out, OccupantView{
				ConnID:      occ.ConnID,
				Username:    occ.Username,
				DisplayName: occ.DisplayName,
				IsAdmin:     occ.IsAdmin,
				Stealth:     occ.Stealth,
			})
		}
	})
	if cerr != nil {
		return nil, cerr
	}
	return out, nil
}

// cooldownRemaining returns the remaining cooldown in whole seconds, lazily
// deleting expired records.
func (c *Coordinator) cooldownRemaining(roomID, username string) int {
	key := cooldownKey{RoomID: roomID, Username: username}
	kickedAt, ok := c.cooldowns[key]
	if !ok {
		return 0
	}
	remaining := c.opts.KickCooldown - c.now().Sub(kickedAt)
	if remaining <= 0 {
		delete(c.cooldowns, key)
		return 0
	}
	return int(math.Ceil(remaining.Seconds()))
}

func (c *Coordinator) broadcastSystem(roomID, kind, text, user string) {
	c.tr.Broadcast(roomGroup(roomID), EventSystemMessage, SystemMessagePayload{
		RoomID: roomID,
		Kind:   kind,
		Text:   text,
		User:   user,
		TS:     c.now().Unix(),
	})
}

func (c *Coordinator) broadcastOccupancy(roomID string) {
	c.tr.Broadcast(roomGroup(roomID), EventOccupancy, OccupancyPayload{
		RoomID:    roomID,
		Occupants: c.visibleOccupants(roomID),
	})
}
