package core

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/loftchat/loftchat-server/internal/store"
	"github.com/loftchat/loftchat-server/internal/utils"
)

const previewLimit = 80

// imagePreview is the placeholder shown for image-only messages in
// notifications and conversation lists.
const imagePreview = "[image]"

// SendRoomMessage persists a message and fans it out: a receive_message to
// every live connection in the room, and a room_notification to joined
// members who are elsewhere. A session claiming a room it does not occupy is
// dropped silently (anti-spoofing).
func (c *Coordinator) SendRoomMessage(connID, roomID, text, imageURL string, replyTo *int64) (*MessageView, error) {
	var view *MessageView
	var cerr *CoordError
	c.do(func() {
		sess, err := c.requireAuthed(connID)
		if err != nil {
			cerr = err
			return
		}
		if sess.CurrentRoomID != roomID {
			c.log.Debug().Str("conn", connID).Str("claimed_room", roomID).Msg("dropping spoofed room message")
			return
		}
		if text == "" && imageURL == "" {
			cerr = coordError(ErrCodeValidation, "message must carry text or an image")
			return
		}
		room := c.rooms[roomID]

		msg := &store.Message{
			ScopeID:    roomID,
			SenderID:   sess.PersistentID,
			SenderName: sess.DisplayName,
			Text:       text,
			ImageURL:   imageURL,
			ReplyTo:    c.replyRef(store.ScopeRoom, replyTo),
			CreatedAt:  c.now(),
		}
		c.saveMessage(store.ScopeRoom, msg)
		c.appendHistory(roomID, msg)

		v := c.messageView(store.ScopeRoom, msg)
		c.tr.Broadcast(roomGroup(roomID), EventReceiveMessage, v)
		c.notifyAbsentMembers(room, sess.PersistentID, v)
		view = &v
	})
	if cerr != nil {
		return nil, cerr
	}
	return view, nil
}

// saveMessage writes the message synchronously: the durable id is on the
// critical path of fan-out. On failure a locally-unique id is substituted so
// the message still round-trips to other connections.
func (c *Coordinator) saveMessage(scope store.Scope, msg *store.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.SaveMessage(ctx, scope, msg); err != nil {
		msg.ID = utils.FallbackID()
		c.log.Warn().Err(err).Str("scope", string(scope)).Msg("message save failed, using fallback id")
		if scope == store.ScopeDM {
			c.rememberDMFallback(msg)
		}
	}
}

// rememberDMFallback keeps a fallback-id DM message addressable. Room
// fallbacks live in the room ring; DMs have no ring, so without this the
// message could never be recalled or deleted.
func (c *Coordinator) rememberDMFallback(msg *store.Message) {
	if len(c.dmFallback) >= c.opts.HistoryLimit {
		var oldest *store.Message
		for _, m := range c.dmFallback {
			if oldest == nil || m.CreatedAt.Before(oldest.CreatedAt) {
				oldest = m
			}
		}
		if oldest != nil {
			delete(c.dmFallback, oldest.ID)
		}
	}
	c.dmFallback[msg.ID] = msg
}

// notifyAbsentMembers emits the unread signal for accounts that joined the
// room but are not physically in it right now.
func (c *Coordinator) notifyAbsentMembers(room *Room, senderID string, v MessageView) {
	if room == nil {
		return
	}
	for _, acct := range c.accounts {
		if acct.PersistentID == senderID {
			continue
		}
		if _, joined := acct.JoinedRooms[room.ID]; !joined {
			continue
		}
		if len(c.conns[acct.PersistentID]) == 0 {
			continue
		}
		present := false
		for connID := range c.conns[acct.PersistentID] {
			if sess := c.sessions[connID]; sess != nil && sess.CurrentRoomID == room.ID {
				present = true
				break
			}
		}
		if present {
			continue
		}
		c.tr.Broadcast(accountGroup(acct.PersistentID), EventRoomNotification, RoomNotificationPayload{
			RoomID:      room.ID,
			RoomName:    room.Name,
			Sender:      v.SenderName,
			LastMessage: preview(v.Text, v.ImageURL),
			TS:          v.TS,
		})
	}
}

// RecallMessage marks a message withdrawn. Allowed for the sender within the
// recall window, or an admin at any age.
func (c *Coordinator) RecallMessage(connID string, scope store.Scope, id int64) error {
	var cerr *CoordError
	c.do(func() {
		sess, err := c.requireAuthed(connID)
		if err != nil {
			cerr = err
			return
		}
		msg, err2 := c.lookupMessage(scope, id)
		if err2 != nil {
			cerr = err2
			return
		}
		age := c.now().Sub(msg.CreatedAt)
		if !sess.IsAdmin && (msg.SenderID != sess.PersistentID || age >= c.opts.RecallWindow) {
			cerr = coordError(ErrCodePermission, "message can no longer be recalled")
			return
		}

		msg.Recalled = true
		if ring := c.history[msg.ScopeID]; ring != nil {
			for _, cached := range ring {
				if cached.ID == id {
					cached.Recalled = true
				}
			}
		}
		if id > 0 {
			scope := scope
			c.persistAsync("recall message", func(ctx context.Context) error {
				_, err := c.store.RecallMessage(ctx, scope, id)
				return err
			})
		}
		c.tr.Broadcast(c.scopeGroup(scope, msg.ScopeID), EventMessageRecalled, RecallPayload{
			Scope:   string(scope),
			ScopeID: msg.ScopeID,
			ID:      id,
		})
	})
	if cerr != nil {
		return cerr
	}
	return nil
}

// DeleteMessage removes a message outright. Allowed for an admin, or for the
// sender once the message is already recalled.
func (c *Coordinator) DeleteMessage(connID string, scope store.Scope, id int64) error {
	var cerr *CoordError
	c.do(func() {
		sess, err := c.requireAuthed(connID)
		if err != nil {
			cerr = err
			return
		}
		msg, err2 := c.lookupMessage(scope, id)
		if err2 != nil {
			cerr = err2
			return
		}
		if !sess.IsAdmin && !(msg.SenderID == sess.PersistentID && msg.Recalled) {
			cerr = coordError(ErrCodePermission, "message cannot be deleted")
			return
		}

		if ring := c.history[msg.ScopeID]; ring != nil {
			kept := ring[:0]
			for _, cached := range ring {
				if cached.ID != id {
					kept = append(kept, cached)
				}
			}
			c.history[msg.ScopeID] = kept
		}
		delete(c.dmFallback, id)
		if id > 0 {
			scope := scope
			c.persistAsync("delete message", func(ctx context.Context) error {
				_, err := c.store.DeleteMessage(ctx, scope, id)
				return err
			})
		}
		c.tr.Broadcast(c.scopeGroup(scope, msg.ScopeID), EventMessageDeleted, RecallPayload{
			Scope:   string(scope),
			ScopeID: msg.ScopeID,
			ID:      id,
		})
	})
	if cerr != nil {
		return cerr
	}
	return nil
}

// GetHistory pages the durable log backwards from beforeID.
func (c *Coordinator) GetHistory(connID string, scope store.Scope, scopeID string, beforeID *int64, limit int) ([]MessageView, error) {
	var out []MessageView
	var cerr *CoordError
	c.do(func() {
		sess, err := c.requireAuthed(connID)
		if err != nil {
			cerr = err
			return
		}
		if limit <= 0 || limit > 200 {
			limit = c.opts.HistoryLimit
		}

		switch scope {
		case store.ScopeRoom:
			acct := c.accountByID[sess.PersistentID]
			if _, joined := acct.JoinedRooms[scopeID]; !joined && !sess.IsAdmin {
				cerr = coordError(ErrCodePermission, "not a member of this room")
				return
			}
		case store.ScopeDM:
			if cerr = c.requireParticipant(sess, scopeID); cerr != nil {
				return
			}
		default:
			cerr = coordError(ErrCodeValidation, "unknown scope")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		msgs, err2 := c.store.ListMessages(ctx, scope, scopeID, limit, beforeID)
		if err2 != nil {
			c.log.Warn().Err(err2).Msg("history read failed")
			return
		}
		for _, msg := range msgs {
			out = append(out, c.messageView(scope, msg))
		}
	})
	if cerr != nil {
		return nil, cerr
	}
	return out, nil
}

// ==== internals ====

// roomHistory returns the bounded recent ring for a room, warming it from the
// durable log after a restart.
func (c *Coordinator) roomHistory(roomID string) []*store.Message {
	if ring, ok := c.history[roomID]; ok {
		return ring
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgs, err := c.store.ListMessages(ctx, store.ScopeRoom, roomID, c.opts.HistoryLimit, nil)
	if err != nil {
		c.log.Warn().Err(err).Str("room_id", roomID).Msg("history warm failed")
		msgs = nil
	}
	if msgs == nil {
		msgs = make([]*store.Message, 0, c.opts.HistoryLimit)
	}
	c.history[roomID] = msgs
	return msgs
}

// appendHistory keeps the quick-access ring bounded independently of the
// durable log, which retains full history.
func (c *Coordinator) appendHistory(roomID string, msg *store.Message) {
	ring := append(c.roomHistory(roomID), msg)
	if len(ring) > c.opts.HistoryLimit {
		ring = ring[len(ring)-c.opts.HistoryLimit:]
	}
	c.history[roomID] = ring
}

// lookupMessage resolves a message from the volatile side (room rings, the
// DM fallback set) or the durable log. Fallback ids never reach the store.
func (c *Coordinator) lookupMessage(scope store.Scope, id int64) (*store.Message, *CoordError) {
	if scope == store.ScopeRoom {
		for _, ring := range c.history {
			for _, msg := range ring {
				if msg.ID == id {
					return msg, nil
				}
			}
		}
	}
	if scope == store.ScopeDM {
		if msg, ok := c.dmFallback[id]; ok {
			return msg, nil
		}
	}
	if id <= 0 {
		return nil, coordError(ErrCodeNotFound, "message not found")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := c.store.GetMessage(ctx, scope, id)
	if err != nil {
		return nil, coordError(ErrCodeNotFound, "message not found")
	}
	return msg, nil
}

// replyRef builds the shallow copy embedded in a reply. A missing original is
// not an error; the reply simply carries no reference.
func (c *Coordinator) replyRef(scope store.Scope, replyTo *int64) *store.ReplyRef {
	if replyTo == nil {
		return nil
	}
	msg, cerr := c.lookupMessage(scope, *replyTo)
	if cerr != nil {
		return nil
	}
	return &store.ReplyRef{
		ID:         msg.ID,
		SenderName: msg.SenderName,
		Text:       msg.Text,
		ImageURL:   msg.ImageURL,
	}
}

func (c *Coordinator) scopeGroup(scope store.Scope, scopeID string) string {
	if scope == store.ScopeDM {
		return convGroup(scopeID)
	}
	return roomGroup(scopeID)
}

// messageView hides the content of recalled messages: the record and its
// position survive, the text and image do not.
func (c *Coordinator) messageView(scope store.Scope, msg *store.Message) MessageView {
	v := MessageView{
		ID:         msg.ID,
		Scope:      string(scope),
		ScopeID:    msg.ScopeID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Text:       msg.Text,
		ImageURL:   msg.ImageURL,
		ReplyTo:    msg.ReplyTo,
		Recalled:   msg.Recalled,
		TS:         msg.CreatedAt.Unix(),
	}
	if msg.Recalled {
		v.Text = ""
		v.ImageURL = ""
	}
	return v
}

func preview(text, imageURL string) string {
	if text == "" && imageURL != "" {
		return imagePreview
	}
	if utf8.RuneCountInString(text) <= previewLimit {
		return text
	}
	runes := []rune(text)
	return string(runes[:previewLimit]) + "…"
}
