package core

import (
	"testing"

	"github.com/loftchat/loftchat-server/internal/store"
)

func TestStartDMResolvesSameConversationBothWays(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "conn-alice", "alice")
	env.login(t, "conn-bob", "bob")

	first, err := env.coord.StartDM("conn-alice", "bob")
	if err != nil {
		t.Fatalf("alice starts dm: %v", err)
	}
	second, err := env.coord.StartDM("conn-bob", "alice")
	if err != nil {
		t.Fatalf("bob starts dm: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("pair must resolve to one conversation: %s vs %s", first.ID, second.ID)
	}
}

func TestStartDMWithSelfFails(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "conn-alice", "alice")

	_, err := env.coord.StartDM("conn-alice", "alice")
	if err == nil {
		t.Fatal("self dm must fail")
	}
	if code := coordErrCode(t, err); code != ErrCodeValidation {
		t.Fatalf("expected validation, got %s", code)
	}
}

func TestSendDMDeliversAndSignalsUnread(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "conn-alice", "alice")
	bob := env.login(t, "conn-bob", "bob")

	conv, err := env.coord.StartDM("conn-alice", "bob")
	if err != nil {
		t.Fatalf("start dm: %v", err)
	}
	env.tr.reset()

	view, err := env.coord.SendDM("conn-alice", conv.ID, "hi bob", "", nil)
	if err != nil {
		t.Fatalf("send dm: %v", err)
	}
	if view.ID <= 0 {
		t.Fatalf("expected durable id, got %d", view.ID)
	}

	if evs := env.tr.eventsFor(convGroup(conv.ID), EventDMMessage); len(evs) != 1 {
		t.Fatalf("expected 1 dm_message broadcast, got %d", len(evs))
	}
	evs := env.tr.eventsFor(accountGroup(bob.PersistentID), EventDMUnread)
	if len(evs) != 1 {
		t.Fatalf("expected 1 dm_unread for bob, got %d", len(evs))
	}
	payload := evs[0].Payload.(DMUnreadPayload)
	if payload.ConversationID != conv.ID || payload.LastMessage != "hi bob" {
		t.Fatalf("bad unread payload: %+v", payload)
	}
}

func TestDMParticipantCheck(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "conn-alice", "alice")
	env.login(t, "conn-bob", "bob")
	env.login(t, "conn-eve", "eve")

	conv, err := env.coord.StartDM("conn-alice", "bob")
	if err != nil {
		t.Fatalf("start dm: %v", err)
	}

	if _, err := env.coord.SendDM("conn-eve", conv.ID, "intrusion", "", nil); err == nil {
		t.Fatal("outsider send must fail")
	}
	if _, err := env.coord.EnterDM("conn-eve", conv.ID); err == nil {
		t.Fatal("outsider enter must fail")
	}
	if _, err := env.coord.GetHistory("conn-eve", store.ScopeDM, conv.ID, nil, 10); err == nil {
		t.Fatal("outsider history must fail")
	}
}

func TestMarkReadZeroesOnlyThatConversation(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "conn-alice", "alice")
	env.login(t, "conn-bob", "bob")
	env.login(t, "conn-carol", "carol")

	convBob, err := env.coord.StartDM("conn-alice", "bob")
	if err != nil {
		t.Fatalf("start dm bob: %v", err)
	}
	convCarol, err := env.coord.StartDM("conn-carol", "alice")
	if err != nil {
		t.Fatalf("start dm carol: %v", err)
	}

	if _, err := env.coord.SendDM("conn-bob", convBob.ID, "one", "", nil); err != nil {
		t.Fatalf("bob send: %v", err)
	}
	if _, err := env.coord.SendDM("conn-bob", convBob.ID, "two", "", nil); err != nil {
		t.Fatalf("bob send: %v", err)
	}
	if _, err := env.coord.SendDM("conn-carol", convCarol.ID, "three", "", nil); err != nil {
		t.Fatalf("carol send: %v", err)
	}

	unread := func() map[string]int {
		list, err := env.coord.GetDMList("conn-alice")
		if err != nil {
			t.Fatalf("dm list: %v", err)
		}
		out := make(map[string]int)
		for _, conv := range list {
			out[conv.ID] = conv.Unread
		}
		return out
	}

	before := unread()
	if before[convBob.ID] != 2 || before[convCarol.ID] != 1 {
		t.Fatalf("bad unread counts before mark: %v", before)
	}

	if err := env.coord.MarkDMRead("conn-alice", convBob.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	after := unread()
	if after[convBob.ID] != 0 {
		t.Fatalf("bob conversation must be read, got %d", after[convBob.ID])
	}
	if after[convCarol.ID] != 1 {
		t.Fatalf("carol conversation must be untouched, got %d", after[convCarol.ID])
	}

	// Idempotent.
	if err := env.coord.MarkDMRead("conn-alice", convBob.ID); err != nil {
		t.Fatalf("second mark read: %v", err)
	}
}

func TestEnterDMMarksReadAndReturnsHistory(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "conn-alice", "alice")
	env.login(t, "conn-bob", "bob")

	conv, err := env.coord.StartDM("conn-alice", "bob")
	if err != nil {
		t.Fatalf("start dm: %v", err)
	}
	if _, err := env.coord.SendDM("conn-bob", conv.ID, "hello", "", nil); err != nil {
		t.Fatalf("send: %v", err)
	}

	view, err := env.coord.EnterDM("conn-alice", conv.ID)
	if err != nil {
		t.Fatalf("enter dm: %v", err)
	}
	if len(view.History) != 1 || view.History[0].Text != "hello" {
		t.Fatalf("bad history: %+v", view.History)
	}

	list, err := env.coord.GetDMList("conn-alice")
	if err != nil {
		t.Fatalf("dm list: %v", err)
	}
	if len(list) != 1 || list[0].Unread != 0 {
		t.Fatalf("entering must zero unread, got %+v", list)
	}
}

func TestOfflineRecipientSeesImagePlaceholder(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "conn-alice", "alice")
	env.login(t, "conn-bob", "bob")

	conv, err := env.coord.StartDM("conn-alice", "bob")
	if err != nil {
		t.Fatalf("start dm: %v", err)
	}

	// Bob goes offline before the image arrives.
	env.coord.Disconnect("conn-bob")
	if _, err := env.coord.SendDM("conn-alice", conv.ID, "", "/media/1_abc.png", nil); err != nil {
		t.Fatalf("send image dm: %v", err)
	}

	env.login(t, "conn-bob-2", "bob")
	list, err := env.coord.GetDMList("conn-bob-2")
	if err != nil {
		t.Fatalf("dm list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(list))
	}
	if list[0].Unread != 1 {
		t.Fatalf("expected 1 unread, got %d", list[0].Unread)
	}
	if list[0].LastMessage != imagePreview {
		t.Fatalf("image-only message must preview as %q, got %q", imagePreview, list[0].LastMessage)
	}
}

func TestDMListShowsAdminDisplayName(t *testing.T) {
	env := newTestEnv(t)
	env.loginAdmin(t, "conn-admin")
	env.login(t, "conn-alice", "alice")

	conv, err := env.coord.StartDM("conn-alice", "admin")
	if err != nil {
		t.Fatalf("start dm: %v", err)
	}
	if conv.PeerName != AdminDisplayName {
		t.Fatalf("admin peer must display as %q, got %q", AdminDisplayName, conv.PeerName)
	}
}
