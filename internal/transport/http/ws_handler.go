package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/loftchat/loftchat-server/internal/core"
	"github.com/loftchat/loftchat-server/internal/proto"
)

// WSHandler upgrades HTTP connections and bridges them to the coordinator.
// Each connection gets a core.Client registered in the hub; requests are
// dispatched inline and replies share the socket with pushed events.
type WSHandler struct {
	coord *core.Coordinator
	hub   *core.Hub
	log   *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(coord *core.Coordinator, hub *core.Hub, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{coord: coord, hub: hub, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	client := core.NewClient(uuid.NewString())
	h.hub.Register(client)
	h.coord.Connect(client.ID)
	defer func() {
		h.coord.Disconnect(client.ID)
		h.hub.Unregister(client.ID)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Replies from the read loop and pushed events share one writer.
	replies := make(chan proto.Outbound, 8)

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client, replies)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client, replies)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, replies chan<- proto.Outbound) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		out := h.dispatch(client.ID, inbound)
		select {
		case replies <- out:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, replies <-chan proto.Outbound) error {
	for {
		select {
		case out := <-replies:
			if err := wsjson.Write(ctx, conn, out); err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("write ws reply")
				return err
			}
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			out := proto.Outbound{
				Type:  proto.OutboundTypeEvent,
				Event: event.Name,
				Data:  event.Payload,
			}
			if err := wsjson.Write(ctx, conn, out); err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("write ws event")
				return err
			}
		case <-client.Done():
			// Forced disconnect (account deleted or admin action).
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
