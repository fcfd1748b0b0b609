package http

import (
	"encoding/json"
	"errors"

	"github.com/loftchat/loftchat-server/internal/core"
	"github.com/loftchat/loftchat-server/internal/proto"
	"github.com/loftchat/loftchat-server/internal/store"
)

// dispatch maps one inbound request to a coordinator call and wraps the result
// into an outbound frame. It never panics on malformed payloads; those come
// back as error frames.
func (h *WSHandler) dispatch(connID string, in proto.Inbound) proto.Outbound {
	data, err := h.invoke(connID, in)
	if err != nil {
		return errorFrame(in.ID, err)
	}
	return proto.Outbound{
		Type:    proto.OutboundTypeReply,
		ReplyTo: in.ID,
		Event:   in.Type,
		Data:    data,
	}
}

func (h *WSHandler) invoke(connID string, in proto.Inbound) (any, error) {
	switch in.Type {
	case proto.InboundTypeLogin:
		var d proto.LoginData
		if err := unmarshal(in.Data, &d); err != nil {
			return nil, err
		}
		return h.coord.Authenticate(connID, d.Username, d.Password, d.Token)

	case proto.InboundTypeCreateRoom:
		var d proto.CreateRoomData
		if err := unmarshal(in.Data, &d); err != nil {
			return nil, err
		}
		return h.coord.CreateRoom(connID, d.Name)

	case proto.InboundTypeJoinRoom:
		var d proto.RoomRefData
		if err := unmarshal(in.Data, &d); err != nil {
			return nil, err
		}
		return h.coord.JoinRoom(connID, d.RoomID)

	case proto.InboundTypeLeaveRoom:
		return nil, h.coord.LeaveRoom(connID)

	case proto.InboundTypeDismissRoom:
		var d proto.RoomRefData
		if err := unmarshal(in.Data, &d); err != nil {
			return nil, err
		}
		return nil, h.coord.DismissRoom(connID, d.RoomID)

	case proto.InboundTypeGetRoomList:
		return h.coord.ListRooms(connID)

	case proto.InboundTypeSendMessage:
		var d proto.SendMessageData
		if err := unmarshal(in.Data, &d); err != nil {
			return nil, err
		}
		return h.coord.SendRoomMessage(connID, d.RoomID, d.Text, d.ImageURL, d.ReplyTo)

	case proto.InboundTypeGetHistory:
		var d proto.GetHistoryData
		if err := unmarshal(in.Data, &d); err != nil {
			return nil, err
		}
		scope, err := parseScope(d.Scope)
		if err != nil {
			return nil, err
		}
		return h.coord.GetHistory(connID, scope, d.ScopeID, d.BeforeID, d.Limit)

	case proto.InboundTypeRecallMessage:
		var d proto.MessageRefData
		if err := unmarshal(in.Data, &d); err != nil {
			return nil, err
		}
		scope, err := parseScope(d.Scope)
		if err != nil {
			return nil, err
		}
		return nil, h.coord.RecallMessage(connID, scope, d.ID)

	case proto.InboundTypeDeleteMessage:
		var d proto.MessageRefData
		if err := unmarshal(in.Data, &d); err != nil {
			return nil, err
		}
		scope, err := parseScope(d.Scope)
		if err != nil {
			return nil, err
		}
		return nil, h.coord.DeleteMessage(connID, scope, d.ID)

	case proto.InboundTypeKickUser:
		var d proto.KickUserData
		if err := unmarshal(in.Data, &d); err != nil {
			return nil, err
		}
		return nil, h.coord.KickUser(connID, d.RoomID, d.Username)

	case proto.InboundTypeDeleteAccount:
		var d proto.DeleteAccountData
		if err := unmarshal(in.Data, &d); err != nil {
			return nil, err
		}
		return nil, h.coord.DeleteAccount(connID, d.Username)

	case proto.InboundTypeUpdateAvatar:
		var d proto.UpdateAvatarData
		if err := unmarshal(in.Data, &d); err != nil {
			return nil, err
		}
		return nil, h.coord.UpdateAvatar(connID, d.AvatarID)

	case proto.InboundTypeSearchUsers:
		var d proto.SearchUsersData
		if err := unmarshal(in.Data, &d); err != nil {
			return nil, err
		}
		return h.coord.SearchUsers(connID, d.Query)

	case proto.InboundTypeStartDM:
		var d proto.StartDMData
		if err := unmarshal(in.Data, &d); err != nil {
			return nil, err
		}
		return h.coord.StartDM(connID, d.Username)

	case proto.InboundTypeEnterDM:
		var d proto.ConversationRefData
		if err := unmarshal(in.Data, &d); err != nil {
			return nil, err
		}
		return h.coord.EnterDM(connID, d.ConversationID)

	case proto.InboundTypeGetDMList:
		return h.coord.GetDMList(connID)

	case proto.InboundTypeSendDM:
		var d proto.SendDMData
		if err := unmarshal(in.Data, &d); err != nil {
			return nil, err
		}
		return h.coord.SendDM(connID, d.ConversationID, d.Text, d.ImageURL, d.ReplyTo)

	case proto.InboundTypeMarkDMRead:
		var d proto.ConversationRefData
		if err := unmarshal(in.Data, &d); err != nil {
			return nil, err
		}
		return nil, h.coord.MarkDMRead(connID, d.ConversationID)

	case proto.InboundTypeSetBanner:
		var d proto.SetBannerData
		if err := unmarshal(in.Data, &d); err != nil {
			return nil, err
		}
		return nil, h.coord.SetBanner(connID, d.RoomID, d.Message)

	case proto.InboundTypeClearBanner:
		var d proto.RoomRefData
		if err := unmarshal(in.Data, &d); err != nil {
			return nil, err
		}
		return nil, h.coord.ClearBanner(connID, d.RoomID)

	case proto.InboundTypeGetRoomOccupants:
		var d proto.RoomRefData
		if err := unmarshal(in.Data, &d); err != nil {
			return nil, err
		}
		return h.coord.RoomOccupants(connID, d.RoomID)

	default:
		return nil, &core.CoordError{Code: core.ErrCodeValidation, Message: "unknown request type: " + in.Type}
	}
}

func unmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return &core.CoordError{Code: core.ErrCodeValidation, Message: "missing request data"}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &core.CoordError{Code: core.ErrCodeValidation, Message: "malformed request data"}
	}
	return nil
}

func parseScope(s string) (store.Scope, error) {
	switch store.Scope(s) {
	case store.ScopeRoom:
		return store.ScopeRoom, nil
	case store.ScopeDM:
		return store.ScopeDM, nil
	default:
		return "", &core.CoordError{Code: core.ErrCodeValidation, Message: "scope must be room or dm"}
	}
}

func errorFrame(replyTo string, err error) proto.Outbound {
	protoErr := &proto.Error{Code: "internal", Msg: "internal error"}
	var cerr *core.CoordError
	if errors.As(err, &cerr) {
		protoErr = &proto.Error{
			Code:             cerr.Code,
			Msg:              cerr.Message,
			RemainingSeconds: cerr.RemainingSeconds,
		}
	}
	return proto.Outbound{
		Type:    proto.OutboundTypeError,
		ReplyTo: replyTo,
		Error:   protoErr,
	}
}
