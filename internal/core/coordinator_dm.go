package core

import (
	"context"
	"errors"
	"time"

	"github.com/loftchat/loftchat-server/internal/store"
)

// StartDM resolves (creating on first contact) the conversation between the
// caller and the target account, and joins both participants' live sessions
// to its broadcast group.
func (c *Coordinator) StartDM(connID, targetUsername string) (*ConversationView, error) {
	var view *ConversationView
	var cerr *CoordError
	c.do(func() {
		sess, err := c.requireAuthed(connID)
		if err != nil {
			cerr = err
			return
		}
		target := c.accounts[targetUsername]
		if target == nil {
			cerr = coordError(ErrCodeNotFound, "no such account")
			return
		}
		if target.PersistentID == sess.PersistentID {
			cerr = coordError(ErrCodeValidation, "cannot start a conversation with yourself")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		conv, err2 := c.store.GetOrCreateConversation(ctx, sess.PersistentID, target.PersistentID)
		if err2 != nil {
			c.log.Error().Err(err2).Msg("get or create conversation failed")
			cerr = coordError(ErrCodeNotFound, "conversation unavailable")
			return
		}

		c.joinConversationGroup(conv.ID, sess.PersistentID)
		c.joinConversationGroup(conv.ID, target.PersistentID)

		v := c.conversationView(sess.PersistentID, conv, 0)
		view = &v
	})
	if cerr != nil {
		return nil, cerr
	}
	return view, nil
}

// EnterDM joins the caller to the conversation group, marks it read and
// returns recent history.
func (c *Coordinator) EnterDM(connID, conversationID string) (*DMEnterView, error) {
	var view *DMEnterView
	var cerr *CoordError
	c.do(func() {
		sess, err := c.requireAuthed(connID)
		if err != nil {
			cerr = err
			return
		}
		conv, err2 := c.participantConversation(sess, conversationID)
		if err2 != nil {
			cerr = err2
			return
		}

		c.tr.JoinGroup(connID, convGroup(conv.ID))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.store.MarkRead(ctx, conv.ID, sess.PersistentID); err != nil {
			c.log.Warn().Err(err).Msg("mark read failed")
		}

		msgs, err3 := c.store.ListMessages(ctx, store.ScopeDM, conv.ID, c.opts.HistoryLimit, nil)
		if err3 != nil {
			c.log.Warn().Err(err3).Msg("dm history read failed")
		}
		history := make([]MessageView, 0, len(msgs))
		for _, msg := range msgs {
			history = append(history, c.messageView(store.ScopeDM, msg))
		}

		view = &DMEnterView{
			Conversation: c.conversationView(sess.PersistentID, conv, 0),
			History:      history,
		}
	})
	if cerr != nil {
		return nil, cerr
	}
	return view, nil
}

// GetDMList lists the caller's conversations with unread counts and joins
// the caller's session to each conversation group.
func (c *Coordinator) GetDMList(connID string) ([]ConversationView, error) {
	var out []ConversationView
	var cerr *CoordError
	c.do(func() {
		sess, err := c.requireAuthed(connID)
		if err != nil {
			cerr = err
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		summaries, err2 := c.store.ListConversationsFor(ctx, sess.PersistentID)
		if err2 != nil {
			c.log.Warn().Err(err2).Msg("list conversations failed")
			return
		}

		out = make([]ConversationView, 0, len(summaries))
		for _, sum := range summaries {
			c.tr.JoinGroup(connID, convGroup(sum.ID))
			view := c.conversationView(sess.PersistentID, &sum.Conversation, sum.UnreadCount)
			view.LastMessage = preview(sum.LastMessageText, "")
			if sum.LastMessageImage && sum.LastMessageText == "" {
				view.LastMessage = imagePreview
			}
			view.LastMessageAt = sum.LastMessageAt.Unix()
			out = append(out, view)
		}
	})
	if cerr != nil {
		return nil, cerr
	}
	return out, nil
}

// SendDM persists a direct message and broadcasts it to the conversation
// group, plus an unread signal for the peer's sessions.
func (c *Coordinator) SendDM(connID, conversationID, text, imageURL string, replyTo *int64) (*MessageView, error) {
	var view *MessageView
	var cerr *CoordError
	c.do(func() {
		sess, err := c.requireAuthed(connID)
		if err != nil {
			cerr = err
			return
		}
		conv, err2 := c.participantConversation(sess, conversationID)
		if err2 != nil {
			cerr = err2
			return
		}
		if text == "" && imageURL == "" {
			cerr = coordError(ErrCodeValidation, "message must carry text or an image")
			return
		}

		msg := &store.Message{
			ScopeID:    conv.ID,
			SenderID:   sess.PersistentID,
			SenderName: sess.DisplayName,
			Text:       text,
			ImageURL:   imageURL,
			ReplyTo:    c.replyRef(store.ScopeDM, replyTo),
			CreatedAt:  c.now(),
		}
		c.saveMessage(store.ScopeDM, msg)

		v := c.messageView(store.ScopeDM, msg)
		c.tr.Broadcast(convGroup(conv.ID), EventDMMessage, v)

		// Read acknowledgement is the viewer's job, never the sender's
		// fan-out: this is only the unread ding for the peer.
		c.tr.Broadcast(accountGroup(conv.Peer(sess.PersistentID)), EventDMUnread, DMUnreadPayload{
			ConversationID: conv.ID,
			Sender:         sess.DisplayName,
			LastMessage:    preview(text, imageURL),
			TS:             msg.CreatedAt.Unix(),
		})
		view = &v
	})
	if cerr != nil {
		return nil, cerr
	}
	return view, nil
}

// MarkDMRead zeroes the caller's unread count for one conversation.
// Idempotent; other conversations are untouched.
func (c *Coordinator) MarkDMRead(connID, conversationID string) error {
	var cerr *CoordError
	c.do(func() {
		sess, err := c.requireAuthed(connID)
		if err != nil {
			cerr = err
			return
		}
		conv, err2 := c.participantConversation(sess, conversationID)
		if err2 != nil {
			cerr = err2
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.store.MarkRead(ctx, conv.ID, sess.PersistentID); err != nil {
			c.log.Warn().Err(err).Msg("mark read failed")
		}
	})
	if cerr != nil {
		return cerr
	}
	return nil
}

// ==== internals ====

// participantConversation loads the conversation and checks the session is
// one of its two participants.
func (c *Coordinator) participantConversation(sess *Session, conversationID string) (*store.Conversation, *CoordError) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, coordError(ErrCodeNotFound, "conversation not found")
		}
		c.log.Warn().Err(err).Msg("load conversation failed")
		return nil, coordError(ErrCodeNotFound, "conversation unavailable")
	}
	if conv.UserA != sess.PersistentID && conv.UserB != sess.PersistentID {
		return nil, coordError(ErrCodePermission, "not a participant")
	}
	return conv, nil
}

// requireParticipant is the check-only variant used by history paging.
func (c *Coordinator) requireParticipant(sess *Session, conversationID string) *CoordError {
	_, cerr := c.participantConversation(sess, conversationID)
	return cerr
}

// joinConversationGroup joins every live session of an account to the
// conversation's broadcast group.
func (c *Coordinator) joinConversationGroup(conversationID, persistentID string) {
	for connID := range c.conns[persistentID] {
		c.tr.JoinGroup(connID, convGroup(conversationID))
	}
}

func (c *Coordinator) conversationView(selfID string, conv *store.Conversation, unread int) ConversationView {
	peerID := conv.Peer(selfID)
	view := ConversationView{
		ID:         conv.ID,
		PeerID:     peerID,
		PeerOnline: len(c.conns[peerID]) > 0,
		Unread:     unread,
	}
	if peer := c.accountByID[peerID]; peer != nil {
		view.PeerName = peer.Username
		view.PeerAvatarID = peer.AvatarID
		if peer.IsAdmin {
			view.PeerName = AdminDisplayName
		}
	}
	return view
}
