package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// 客戶端 → 伺服器事件名稱
const (
	EventJoinRoom         = "join-room"
	EventFlipCard         = "flip-card"
	EventRequestRoomState = "request-room-state"
	EventRematch          = "rematch"
	EventLeaveRoom        = "leave-room"
	EventPing             = "ping"
)

// ClientMessage 解析後的客戶端請求
type ClientMessage interface {
	clientEvent() string
}

type JoinRoomRequest struct {
	RoomCode   string `json:"roomCode"`
	PlayerName string `json:"playerName"`
	PlayerID   string `json:"playerId"`
}

type FlipCardRequest struct {
	RoomCode  string `json:"roomCode"`
	CardIndex int    `json:"cardIndex"`
}

type RoomStateRequest struct {
	RoomCode string `json:"roomCode"`
}

type RematchRequest struct {
	RoomCode string `json:"roomCode"`
}

type LeaveRoomRequest struct {
	RoomCode string `json:"roomCode"`
}

type PingRequest struct {
	ID string `json:"id"`
	TS int64  `json:"ts"`
}

func (JoinRoomRequest) clientEvent() string  { return EventJoinRoom }
func (FlipCardRequest) clientEvent() string  { return EventFlipCard }
func (RoomStateRequest) clientEvent() string { return EventRequestRoomState }
func (RematchRequest) clientEvent() string   { return EventRematch }
func (LeaveRoomRequest) clientEvent() string { return EventLeaveRoom }
func (PingRequest) clientEvent() string      { return EventPing }

const (
	maxNameLength     = 32
	maxIdentityLength = 128
)

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// DecodeClientMessage 解析並驗證客戶端訊息
//
// 欄位缺漏、型別不符、未知事件一律回 ErrInvalidMessage，不信任任何形狀。
func DecodeClientMessage(raw []byte) (ClientMessage, error) {
	var env inbound
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	switch env.Event {
	case EventJoinRoom:
		var req JoinRoomRequest
		if err := decodeData(env.Data, &req); err != nil {
			return nil, err
		}
		if err := requireCode(req.RoomCode); err != nil {
			return nil, err
		}
		req.PlayerName = strings.TrimSpace(req.PlayerName)
		if len([]rune(req.PlayerName)) > maxNameLength {
			req.PlayerName = string([]rune(req.PlayerName)[:maxNameLength])
		}
		if len(req.PlayerID) > maxIdentityLength {
			return nil, fmt.Errorf("%w: playerId 過長", ErrInvalidMessage)
		}
		return req, nil

	case EventFlipCard:
		var req struct {
			RoomCode  string `json:"roomCode"`
			CardIndex *int   `json:"cardIndex"`
		}
		if err := decodeData(env.Data, &req); err != nil {
			return nil, err
		}
		if err := requireCode(req.RoomCode); err != nil {
			return nil, err
		}
		if req.CardIndex == nil {
			return nil, fmt.Errorf("%w: 缺少 cardIndex", ErrInvalidMessage)
		}
		return FlipCardRequest{RoomCode: req.RoomCode, CardIndex: *req.CardIndex}, nil

	case EventRequestRoomState:
		var req RoomStateRequest
		if err := decodeData(env.Data, &req); err != nil {
			return nil, err
		}
		return req, requireCode(req.RoomCode)

	case EventRematch:
		var req RematchRequest
		if err := decodeData(env.Data, &req); err != nil {
			return nil, err
		}
		return req, requireCode(req.RoomCode)

	case EventLeaveRoom:
		var req LeaveRoomRequest
		if err := decodeData(env.Data, &req); err != nil {
			return nil, err
		}
		return req, requireCode(req.RoomCode)

	case EventPing:
		var req PingRequest
		if len(env.Data) > 0 {
			if err := decodeData(env.Data, &req); err != nil {
				return nil, err
			}
		}
		return req, nil

	default:
		return nil, fmt.Errorf("%w: 未知事件 %q", ErrInvalidMessage, env.Event)
	}
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: 缺少 data", ErrInvalidMessage)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

func requireCode(code string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("%w: 缺少 roomCode", ErrInvalidMessage)
	}
	return nil
}

// Handle 將客戶端請求交給對應的房間操作，ping 直接回覆 pong
func (m *Manager) Handle(connID string, msg ClientMessage) error {
	switch req := msg.(type) {
	case JoinRoomRequest:
		_, err := m.JoinRoom(connID, req.RoomCode, req.PlayerName, req.PlayerID)
		return err
	case FlipCardRequest:
		return m.FlipCard(connID, req.RoomCode, req.CardIndex)
	case RoomStateRequest:
		return m.RequestRoomState(connID, req.RoomCode)
	case RematchRequest:
		return m.Rematch(connID, req.RoomCode)
	case LeaveRoomRequest:
		return m.LeaveRoom(connID, req.RoomCode)
	case PingRequest:
		m.sender.Send(connID, Pong{ID: req.ID, TS: req.TS})
		return nil
	default:
		return ErrInvalidMessage
	}
}

// ErrorEvent 將錯誤轉成回給客戶端的事件
func ErrorEvent(err error) Message {
	switch {
	case errors.Is(err, ErrRoomFull):
		return RoomFull{Message: ErrRoomFull.Error()}
	case errors.Is(err, ErrInvalidMessage):
		return ErrorMessage{Message: ErrInvalidMessage.Error()}
	case IsClientError(err):
		return ErrorMessage{Message: err.Error()}
	default:
		return ErrorMessage{Message: "內部伺服器錯誤"}
	}
}
