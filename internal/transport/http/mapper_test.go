package http

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loftchat/loftchat-server/internal/core"
	"github.com/loftchat/loftchat-server/internal/log"
	"github.com/loftchat/loftchat-server/internal/proto"
	"github.com/loftchat/loftchat-server/internal/store/sqlite"
)

func newTestHandler(t *testing.T) (*WSHandler, string) {
	t.Helper()
	st, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := log.NewWithWriter("error", io.Discard)
	hub := core.NewHub()
	coord := core.NewCoordinator(st, hub, core.Options{}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go coord.Run(ctx)

	connID := "conn-test"
	client := core.NewClient(connID)
	hub.Register(client)
	coord.Connect(connID)

	return &WSHandler{coord: coord, hub: hub, log: logger}, connID
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestDispatchLoginAndCreateRoom(t *testing.T) {
	h, connID := newTestHandler(t)

	out := h.dispatch(connID, proto.Inbound{
		Type: proto.InboundTypeLogin,
		ID:   "req-1",
		Data: raw(t, proto.LoginData{Username: "alice", Password: "secret1"}),
	})
	require.Equal(t, proto.OutboundTypeReply, out.Type)
	assert.Equal(t, "req-1", out.ReplyTo)
	view := out.Data.(*core.AccountView)
	assert.Equal(t, "alice", view.Username)

	out = h.dispatch(connID, proto.Inbound{
		Type: proto.InboundTypeCreateRoom,
		ID:   "req-2",
		Data: raw(t, proto.CreateRoomData{Name: "general"}),
	})
	require.Equal(t, proto.OutboundTypeReply, out.Type)
	room := out.Data.(*core.RoomSummary)
	assert.Equal(t, "general", room.Name)
}

func TestDispatchDomainErrorBecomesErrorFrame(t *testing.T) {
	h, connID := newTestHandler(t)

	// Not logged in: create_room fails with a coded error.
	out := h.dispatch(connID, proto.Inbound{
		Type: proto.InboundTypeCreateRoom,
		ID:   "req-1",
		Data: raw(t, proto.CreateRoomData{Name: "general"}),
	})
	require.Equal(t, proto.OutboundTypeError, out.Type)
	assert.Equal(t, "req-1", out.ReplyTo)
	require.NotNil(t, out.Error)
	assert.Equal(t, core.ErrCodePermission, out.Error.Code)
}

func TestDispatchMalformedPayload(t *testing.T) {
	h, connID := newTestHandler(t)

	out := h.dispatch(connID, proto.Inbound{
		Type: proto.InboundTypeLogin,
		Data: json.RawMessage(`{"username": 42`),
	})
	require.Equal(t, proto.OutboundTypeError, out.Type)
	assert.Equal(t, core.ErrCodeValidation, out.Error.Code)

	out = h.dispatch(connID, proto.Inbound{Type: proto.InboundTypeLogin})
	require.Equal(t, proto.OutboundTypeError, out.Type)
}

func TestDispatchUnknownType(t *testing.T) {
	h, connID := newTestHandler(t)

	out := h.dispatch(connID, proto.Inbound{Type: "frobnicate"})
	require.Equal(t, proto.OutboundTypeError, out.Type)
	assert.Equal(t, core.ErrCodeValidation, out.Error.Code)
}

func TestDispatchBadHistoryScope(t *testing.T) {
	h, connID := newTestHandler(t)

	h.dispatch(connID, proto.Inbound{
		Type: proto.InboundTypeLogin,
		Data: raw(t, proto.LoginData{Username: "alice", Password: "secret1"}),
	})

	out := h.dispatch(connID, proto.Inbound{
		Type: proto.InboundTypeGetHistory,
		Data: raw(t, proto.GetHistoryData{Scope: "bogus", ScopeID: "x"}),
	})
	require.Equal(t, proto.OutboundTypeError, out.Type)
	assert.Equal(t, core.ErrCodeValidation, out.Error.Code)
}
