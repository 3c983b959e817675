package internal

import "encoding/json"

// Role 玩家在房間中的位置，只有兩種
type Role string

const (
	RoleNone Role = ""
	Player1  Role = "player1"
	Player2  Role = "player2"
)

// Other 返回對手的角色
func (r Role) Other() Role {
	switch r {
	case Player1:
		return Player2
	case Player2:
		return Player1
	default:
		return RoleNone
	}
}

// Valid 是否為 player1 或 player2
func (r Role) Valid() bool {
	return r == Player1 || r == Player2
}

// MarshalJSON 沒有角色時輸出 null
func (r Role) MarshalJSON() ([]byte, error) {
	if r == RoleNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(r))
}

// GameState 房間的遊戲狀態
//
//	waiting → playing → finished
//	   ↑________↓ （人數不足時暫停）
type GameState string

const (
	StateWaiting  GameState = "waiting"
	StatePlaying  GameState = "playing"
	StateFinished GameState = "finished"
)
