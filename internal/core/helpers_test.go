package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/loftchat/loftchat-server/internal/log"
	"github.com/loftchat/loftchat-server/internal/store"
)

// fakeClock lets tests advance coordinator time deterministically.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

// recordedEvent is one delivery captured by fakeTransport.
type recordedEvent struct {
	Target  string // connID for SendTo, groupID for Broadcast
	Direct  bool
	Event   string
	Payload any
}

// fakeTransport records every delivery and tracks group membership.
type fakeTransport struct {
	mu           sync.Mutex
	events       []recordedEvent
	groups       map[string]map[string]struct{}
	disconnected []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{groups: make(map[string]map[string]struct{})}
}

func (f *fakeTransport) SendTo(connID, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{Target: connID, Direct: true, Event: event, Payload: payload})
}

func (f *fakeTransport) Broadcast(groupID, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{Target: groupID, Event: event, Payload: payload})
}

func (f *fakeTransport) JoinGroup(connID, groupID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.groups[groupID] == nil {
		f.groups[groupID] = make(map[string]struct{})
	}
	f.groups[groupID][connID] = struct{}{}
}

func (f *fakeTransport) LeaveGroup(connID, groupID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if set := f.groups[groupID]; set != nil {
		delete(set, connID)
	}
}

func (f *fakeTransport) GroupMembers(groupID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for connID := range f.groups[groupID] {
		out = append(out, connID)
	}
	sort.Strings(out)
	return out
}

func (f *fakeTransport) Disconnect(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, connID)
}

// eventsNamed returns every recorded delivery of the given event.
func (f *fakeTransport) eventsNamed(name string) []recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedEvent
	for _, ev := range f.events {
		if ev.Event == name {
			out = append(out, ev)
		}
	}
	return out
}

// eventsFor returns deliveries of the event addressed to the target
// (a connID for direct sends, a group id for broadcasts).
func (f *fakeTransport) eventsFor(target, name string) []recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedEvent
	for _, ev := range f.events {
		if ev.Event == name && ev.Target == target {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}

// fakeStore is an in-memory store.Store with failure toggles.
type fakeStore struct {
	mu sync.Mutex

	failSave bool

	nextID        int64
	messages      map[store.Scope]map[int64]*store.Message
	conversations map[string]*store.Conversation
	snapshots     map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		messages: map[store.Scope]map[int64]*store.Message{
			store.ScopeRoom: {},
			store.ScopeDM:   {},
		},
		conversations: make(map[string]*store.Conversation),
		snapshots:     make(map[string][]byte),
	}
}

func (f *fakeStore) SaveMessage(_ context.Context, scope store.Scope, msg *store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave {
		return errors.New("save failed")
	}
	f.nextID++
	msg.ID = f.nextID
	cp := *msg
	f.messages[scope][msg.ID] = &cp
	return nil
}

func (f *fakeStore) GetMessage(_ context.Context, scope store.Scope, id int64) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[scope][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (f *fakeStore) ListMessages(_ context.Context, scope store.Scope, scopeID string, limit int, beforeID *int64) ([]*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Message
	for _, msg := range f.messages[scope] {
		if msg.ScopeID != scopeID {
			continue
		}
		if beforeID != nil && msg.ID >= *beforeID {
			continue
		}
		cp := *msg
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeStore) RecallMessage(_ context.Context, scope store.Scope, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[scope][id]
	if !ok {
		return false, nil
	}
	msg.Recalled = true
	return true, nil
}

func (f *fakeStore) DeleteMessage(_ context.Context, scope store.Scope, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.messages[scope][id]; !ok {
		return false, nil
	}
	delete(f.messages[scope], id)
	return true, nil
}

func (f *fakeStore) DeleteScope(_ context.Context, scope store.Scope, scopeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, msg := range f.messages[scope] {
		if msg.ScopeID == scopeID {
			delete(f.messages[scope], id)
		}
	}
	return nil
}

func pairKey(idA, idB string) string {
	if idB < idA {
		idA, idB = idB, idA
	}
	return idA + "|" + idB
}

func (f *fakeStore) GetOrCreateConversation(_ context.Context, idA, idB string) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pairKey(idA, idB)
	if conv, ok := f.conversations[key]; ok {
		cp := *conv
		return &cp, nil
	}
	if idB < idA {
		idA, idB = idB, idA
	}
	conv := &store.Conversation{
		ID:        fmt.Sprintf("conv-%d", len(f.conversations)+1),
		UserA:     idA,
		UserB:     idB,
		CreatedAt: time.Now(),
	}
	f.conversations[key] = conv
	cp := *conv
	return &cp, nil
}

func (f *fakeStore) GetConversation(_ context.Context, id string) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conv := range f.conversations {
		if conv.ID == id {
			cp := *conv
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListConversationsFor(_ context.Context, persistentID string) ([]*store.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.ConversationSummary
	for _, conv := range f.conversations {
		if conv.UserA != persistentID && conv.UserB != persistentID {
			continue
		}
		sum := &store.ConversationSummary{Conversation: *conv}
		var last *store.Message
		for _, msg := range f.messages[store.ScopeDM] {
			if msg.ScopeID != conv.ID {
				continue
			}
			if msg.SenderID != persistentID && !msg.IsRead {
				sum.UnreadCount++
			}
			if last == nil || msg.ID > last.ID {
				last = msg
			}
		}
		if last != nil {
			sum.LastMessageText = last.Text
			sum.LastMessageImage = last.ImageURL != ""
			sum.LastMessageAt = last.CreatedAt
		}
		out = append(out, sum)
	}
	return out, nil
}

func (f *fakeStore) MarkRead(_ context.Context, conversationID, readerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, msg := range f.messages[store.ScopeDM] {
		if msg.ScopeID == conversationID && msg.SenderID != readerID {
			msg.IsRead = true
		}
	}
	return nil
}

func (f *fakeStore) SaveSnapshot(_ context.Context, key string, blob []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[key] = append([]byte(nil), blob...)
	return nil
}

func (f *fakeStore) LoadSnapshot(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	blob, ok := f.snapshots[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), blob...), nil
}

func (f *fakeStore) Close() error { return nil }

var _ store.Store = (*fakeStore)(nil)

// testEnv bundles a running coordinator with its fakes.
type testEnv struct {
	coord *Coordinator
	tr    *fakeTransport
	st    *fakeStore
	clock *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := newFakeStore()
	tr := newFakeTransport()
	clock := newFakeClock()
	logger := log.NewWithWriter("error", io.Discard)

	coord := NewCoordinator(st, tr, Options{}, logger)
	coord.now = clock.Now

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go coord.Run(ctx)

	return &testEnv{coord: coord, tr: tr, st: st, clock: clock}
}

// login connects and authenticates a fresh connection. The connID doubles as
// a readable handle in assertions.
func (e *testEnv) login(t *testing.T, connID, username string) *AccountView {
	t.Helper()
	e.coord.Connect(connID)
	view, err := e.coord.Authenticate(connID, username, "secret1", "")
	if err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	return view
}

// loginAdmin seeds and authenticates the admin account.
func (e *testEnv) loginAdmin(t *testing.T, connID string) *AccountView {
	t.Helper()
	if err := e.coord.SeedAdmin("admin", "secret1"); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	return e.login(t, connID, "admin")
}

// createRoom makes a room owned by the given connection.
func (e *testEnv) createRoom(t *testing.T, connID, name string) string {
	t.Helper()
	room, err := e.coord.CreateRoom(connID, name)
	if err != nil {
		t.Fatalf("create room %s: %v", name, err)
	}
	return room.ID
}

func coordErrCode(t *testing.T, err error) string {
	t.Helper()
	var cerr *CoordError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CoordError, got %v", err)
	}
	return cerr.Code
}
