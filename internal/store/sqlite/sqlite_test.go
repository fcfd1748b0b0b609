package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loftchat/loftchat-server/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func saveMsg(t *testing.T, st *SQLiteStore, scope store.Scope, scopeID, sender, text string) *store.Message {
	t.Helper()
	msg := &store.Message{
		ScopeID:    scopeID,
		SenderID:   sender,
		SenderName: sender,
		Text:       text,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, st.SaveMessage(context.Background(), scope, msg))
	require.Greater(t, msg.ID, int64(0))
	return msg
}

func TestSaveAndGetMessage(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	saved := saveMsg(t, st, store.ScopeRoom, "room-1", "alice", "hello")

	got, err := st.GetMessage(ctx, store.ScopeRoom, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, "alice", got.SenderID)
	assert.False(t, got.Recalled)

	// Wrong scope does not find it.
	_, err = st.GetMessage(ctx, store.ScopeDM, saved.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSaveMessagePersistsReplyRef(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	orig := saveMsg(t, st, store.ScopeRoom, "room-1", "alice", "original")
	reply := &store.Message{
		ScopeID:    "room-1",
		SenderID:   "bob",
		SenderName: "bob",
		Text:       "reply",
		ReplyTo: &store.ReplyRef{
			ID:         orig.ID,
			SenderName: "alice",
			Text:       "original",
		},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.SaveMessage(ctx, store.ScopeRoom, reply))

	got, err := st.GetMessage(ctx, store.ScopeRoom, reply.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ReplyTo)
	assert.Equal(t, "original", got.ReplyTo.Text)
	assert.Equal(t, orig.ID, got.ReplyTo.ID)
}

func TestListMessagesPagination(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	var ids []int64
	for _, text := range []string{"one", "two", "three", "four", "five"} {
		ids = append(ids, saveMsg(t, st, store.ScopeRoom, "room-1", "alice", text).ID)
	}
	saveMsg(t, st, store.ScopeRoom, "room-2", "alice", "elsewhere")

	// Latest page, chronological order.
	msgs, err := st.ListMessages(ctx, store.ScopeRoom, "room-1", 3, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "three", msgs[0].Text)
	assert.Equal(t, "five", msgs[2].Text)

	// Page backwards from the oldest of the previous page.
	msgs, err = st.ListMessages(ctx, store.ScopeRoom, "room-1", 3, &ids[2])
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Text)
	assert.Equal(t, "two", msgs[1].Text)
}

func TestRecallAndDeleteMessage(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	msg := saveMsg(t, st, store.ScopeRoom, "room-1", "alice", "oops")

	ok, err := st.RecallMessage(ctx, store.ScopeRoom, msg.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := st.GetMessage(ctx, store.ScopeRoom, msg.ID)
	require.NoError(t, err)
	assert.True(t, got.Recalled)

	ok, err = st.DeleteMessage(ctx, store.ScopeRoom, msg.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = st.GetMessage(ctx, store.ScopeRoom, msg.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Gone ids report false, not an error.
	ok, err = st.RecallMessage(ctx, store.ScopeRoom, msg.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteScope(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	saveMsg(t, st, store.ScopeRoom, "room-1", "alice", "a")
	saveMsg(t, st, store.ScopeRoom, "room-1", "bob", "b")
	keep := saveMsg(t, st, store.ScopeRoom, "room-2", "alice", "c")

	require.NoError(t, st.DeleteScope(ctx, store.ScopeRoom, "room-1"))

	msgs, err := st.ListMessages(ctx, store.ScopeRoom, "room-1", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = st.GetMessage(ctx, store.ScopeRoom, keep.ID)
	assert.NoError(t, err)
}

func TestGetOrCreateConversationCanonicalizesPair(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first, err := st.GetOrCreateConversation(ctx, "uid-bob", "uid-alice")
	require.NoError(t, err)
	assert.Equal(t, "uid-alice", first.UserA)
	assert.Equal(t, "uid-bob", first.UserB)

	// Reversed order resolves to the same conversation.
	second, err := st.GetOrCreateConversation(ctx, "uid-alice", "uid-bob")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// A different pair gets its own conversation.
	third, err := st.GetOrCreateConversation(ctx, "uid-alice", "uid-carol")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestConversationPeer(t *testing.T) {
	conv := &store.Conversation{UserA: "a", UserB: "b"}
	assert.Equal(t, "b", conv.Peer("a"))
	assert.Equal(t, "a", conv.Peer("b"))
}

func TestUnreadCountsAndMarkRead(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	convBob, err := st.GetOrCreateConversation(ctx, "uid-alice", "uid-bob")
	require.NoError(t, err)
	convCarol, err := st.GetOrCreateConversation(ctx, "uid-alice", "uid-carol")
	require.NoError(t, err)

	saveMsg(t, st, store.ScopeDM, convBob.ID, "uid-bob", "one")
	saveMsg(t, st, store.ScopeDM, convBob.ID, "uid-bob", "two")
	saveMsg(t, st, store.ScopeDM, convBob.ID, "uid-alice", "own message")
	saveMsg(t, st, store.ScopeDM, convCarol.ID, "uid-carol", "three")

	unread := func() map[string]int {
		summaries, err := st.ListConversationsFor(ctx, "uid-alice")
		require.NoError(t, err)
		out := make(map[string]int)
		for _, sum := range summaries {
			out[sum.ID] = sum.UnreadCount
		}
		return out
	}

	// Own messages never count as unread.
	before := unread()
	assert.Equal(t, 2, before[convBob.ID])
	assert.Equal(t, 1, before[convCarol.ID])

	require.NoError(t, st.MarkRead(ctx, convBob.ID, "uid-alice"))

	after := unread()
	assert.Equal(t, 0, after[convBob.ID])
	assert.Equal(t, 1, after[convCarol.ID], "other conversations must be untouched")

	// Idempotent.
	require.NoError(t, st.MarkRead(ctx, convBob.ID, "uid-alice"))
	assert.Equal(t, 0, unread()[convBob.ID])

	// The sender's own unread view is unaffected by the reader's mark.
	summaries, err := st.ListConversationsFor(ctx, "uid-bob")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 0, summaries[0].UnreadCount)
}

func TestListConversationsOrderAndPreview(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	convBob, err := st.GetOrCreateConversation(ctx, "uid-alice", "uid-bob")
	require.NoError(t, err)
	convCarol, err := st.GetOrCreateConversation(ctx, "uid-alice", "uid-carol")
	require.NoError(t, err)

	saveMsg(t, st, store.ScopeDM, convBob.ID, "uid-bob", "older")
	// Carol's message arrives later; her conversation sorts first.
	carolMsg := &store.Message{
		ScopeID:    convCarol.ID,
		SenderID:   "uid-carol",
		SenderName: "carol",
		ImageURL:   "/media/1_abc.png",
		CreatedAt:  time.Now().UTC().Add(time.Minute),
	}
	require.NoError(t, st.SaveMessage(ctx, store.ScopeDM, carolMsg))

	summaries, err := st.ListConversationsFor(ctx, "uid-alice")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, convCarol.ID, summaries[0].ID)
	assert.True(t, summaries[0].LastMessageImage)
	assert.Equal(t, "", summaries[0].LastMessageText)
	assert.Equal(t, "older", summaries[1].LastMessageText)
}

func TestSnapshotUpsert(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.LoadSnapshot(ctx, "coordinator")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, st.SaveSnapshot(ctx, "coordinator", []byte("v1")))
	blob, err := st.LoadSnapshot(ctx, "coordinator")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), blob)

	require.NoError(t, st.SaveSnapshot(ctx, "coordinator", []byte("v2")))
	blob, err = st.LoadSnapshot(ctx, "coordinator")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), blob)
}
