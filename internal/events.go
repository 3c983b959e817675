package internal

import (
	"encoding/json"
	"time"
)

// 伺服器 → 客戶端事件名稱
const (
	EventRoomState          = "room-state"
	EventCardRevealed       = "card-revealed"
	EventPairFound          = "pair-found"
	EventTurnChanged        = "turn-changed"
	EventTurnChangedTimeout = "turn-changed-timeout"
	EventHideCards          = "hide-cards"
	EventTimerStarted       = "timer-started"
	EventGameFinished       = "game-finished"
	EventPlayerDisconnected = "player-disconnected"
	EventError              = "error"
	EventRoomFull           = "room-full"
	EventRoomClosed         = "room-closed"
	EventPong               = "pong"
)

// Message 伺服器送出的事件，每種事件一個型別
type Message interface {
	EventName() string
}

// Envelope 線上傳輸格式
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Encode 將事件包成 envelope 並序列化
func Encode(msg Message) ([]byte, error) {
	return json.Marshal(Envelope{Event: msg.EventName(), Data: msg})
}

// Sender 把事件送到某個連接，由 WebSocket Hub 實作
//
// 實作必須是非阻塞的：Manager 會在持有房間鎖時呼叫。
type Sender interface {
	Send(connID string, msg Message)
}

// RoomState 房間完整快照
type RoomState struct {
	Code          string            `json:"code"`
	Players       []PlayerView      `json:"players"`
	GameState     GameState         `json:"gameState"`
	CurrentPlayer Role              `json:"currentPlayer"`
	Scores        Scores            `json:"scores"`
	FlippedCards  []int             `json:"flippedCards"`
	CardsState    map[int]CardState `json:"cardsState"`
	MatchedPairs  int               `json:"matchedPairs"`
	TotalPairs    int               `json:"totalPairs"`
	TurnStartedAt int64             `json:"turnStartedAt,omitempty"` // 重連後補上倒數起點
}

func (RoomState) EventName() string { return EventRoomState }

// PlayerView 快照中的玩家資訊，不包含穩定身分
type PlayerView struct {
	Name           string     `json:"name"`
	Role           Role       `json:"role"`
	Connected      bool       `json:"connected"`
	DisconnectedAt *time.Time `json:"disconnectedAt"`
}

type CardRevealed struct {
	CardIndex int    `json:"cardIndex"`
	Value     string `json:"value"`
	Player    Role   `json:"player"`
}

func (CardRevealed) EventName() string { return EventCardRevealed }

type PairFound struct {
	Card1Index int    `json:"card1Index"`
	Card2Index int    `json:"card2Index"`
	Player     Role   `json:"player"`
	Scores     Scores `json:"scores"`
}

func (PairFound) EventName() string { return EventPairFound }

// TurnChanged 配對失敗後的換手
type TurnChanged struct {
	NewPlayer Role `json:"newPlayer"`
}

func (TurnChanged) EventName() string { return EventTurnChanged }

// TurnChangedTimeout 倒數結束強制換手，客戶端顯示的訊息不同
type TurnChangedTimeout struct {
	NewPlayer Role `json:"newPlayer"`
}

func (TurnChangedTimeout) EventName() string { return EventTurnChangedTimeout }

// HideCards 蓋回卡牌；只有一張時兩個欄位相同
type HideCards struct {
	Card1Index int `json:"card1Index"`
	Card2Index int `json:"card2Index"`
}

func (HideCards) EventName() string { return EventHideCards }

// TimerStarted 客戶端依 StartedAt 自行倒數
type TimerStarted struct {
	Duration      int   `json:"duration"` // 秒
	CurrentPlayer Role  `json:"currentPlayer"`
	StartedAt     int64 `json:"startedAt"` // unix 毫秒
}

func (TimerStarted) EventName() string { return EventTimerStarted }

type GameFinished struct {
	Winner      string `json:"winner"` // player1、player2 或 tie
	Scores      Scores `json:"scores"`
	Player1Name string `json:"player1Name"`
	Player2Name string `json:"player2Name"`
}

func (GameFinished) EventName() string { return EventGameFinished }

type PlayerDisconnected struct {
	Player  Role   `json:"player"`
	Message string `json:"message"`
}

func (PlayerDisconnected) EventName() string { return EventPlayerDisconnected }

type ErrorMessage struct {
	Message string `json:"message"`
}

func (ErrorMessage) EventName() string { return EventError }

type RoomFull struct {
	Message string `json:"message"`
}

func (RoomFull) EventName() string { return EventRoomFull }

type RoomClosed struct {
	Reason string `json:"reason"`
}

func (RoomClosed) EventName() string { return EventRoomClosed }

type Pong struct {
	ID string `json:"id"`
	TS int64  `json:"ts"`
}

func (Pong) EventName() string { return EventPong }
