package internal

import (
	"sync"
	"time"
)

// 系統設計問題：
//   兩人即時翻牌配對遊戲，如何在斷線、重連、計時器觸發交錯發生時，維持房間狀態一致？
//
// 核心挑戰：
//   1. 狀態管理：waiting → playing → finished，人數不足時要暫停回 waiting
//   2. 身分綁定：網路連接會斷，玩家位置（player1/player2）不能丟
//   3. 延遲動作：判定配對、回合倒數、刪除房間都是「之後才執行」
//   4. 資源回收：沒人的房間要在寬限期後刪除，所有房間有絕對壽命
//
// 設計方案：
//   ✅ 每個房間一把鎖 - 不同房間互不干擾
//   ✅ 延遲動作只帶房間代碼和 token - 觸發時重新查詢、重新驗證
//   ✅ 位置與連接分離 - 斷線只清空連接 ID，位置保留到房間刪除

// Player 玩家位置
//
// ConnID 為空表示斷線但位置保留。
type Player struct {
	ConnID         string
	Name           string
	Role           Role
	Identity       string // 客戶端提供的穩定身分，用於重連
	DisconnectedAt *time.Time
}

// Connected 是否有連接綁定
func (p *Player) Connected() bool {
	return p.ConnID != ""
}

// CardState 已配對卡牌的狀態
type CardState struct {
	Matched bool `json:"matched"`
	Player  Role `json:"player"`
}

// Scores 雙方分數
type Scores struct {
	Player1 int `json:"player1"`
	Player2 int `json:"player2"`
}

func (s *Scores) add(r Role) {
	switch r {
	case Player1:
		s.Player1++
	case Player2:
		s.Player2++
	}
}

// Room 一局兩人翻牌遊戲
//
// 系統設計考量：
//
//  1. 並發控制（Mutex）：
//     同一房間的操作（加入、翻牌、斷線、計時器觸發）全部在 mu 之下執行到底，
//     等同單執行緒事件迴圈；不同房間各自加鎖，彼此不共享可變狀態。
//
//  2. 計時器（turnTimer / resolveTimer / graceTimer / lifetimeTimer）：
//     每個計時器搭配一個 token，重新設定或取消時 token 改變，
//     已經觸發但還在等鎖的舊回呼比對 token 後直接放棄。
//
//  3. 不變量：
//     - len(FlippedCards) <= 2
//     - MatchedPairs == 已配對卡牌數 / 2
//     - GameState == finished ⇔ MatchedPairs == TotalPairs
//     - CurrentPlayer 非空 ⇔ GameState == playing
type Room struct {
	Code          string
	Players       []*Player
	GameState     GameState
	CurrentPlayer Role
	Cards         []string
	FlippedCards  []int
	CardsState    map[int]CardState
	Scores        Scores
	MatchedPairs  int
	TotalPairs    int
	CreatedAt     time.Time
	LastActivity  time.Time

	mu     sync.Mutex
	closed bool // 已從 Manager 移除

	turnTimer     Timer
	turnToken     uint64
	turnStartedAt time.Time
	resolveTimer  Timer
	resolveToken  uint64
	graceTimer    Timer
	graceToken    uint64
	lifetimeTimer Timer
	lifetimeToken uint64
}

// NewRoom 創建新房間
func NewRoom(code string, cards []string, now time.Time) *Room {
	return &Room{
		Code:         code,
		Players:      make([]*Player, 0, 2),
		GameState:    StateWaiting,
		Cards:        cards,
		FlippedCards: make([]int, 0, 2),
		CardsState:   make(map[int]CardState),
		TotalPairs:   len(cards) / 2,
		CreatedAt:    now,
		LastActivity: now,
	}
}

// ConnectedCount 目前有連接的玩家數（需持有鎖）
func (r *Room) ConnectedCount() int {
	n := 0
	for _, p := range r.Players {
		if p.Connected() {
			n++
		}
	}
	return n
}

// playerByConn 依連接 ID 找玩家位置
func (r *Room) playerByConn(connID string) *Player {
	for _, p := range r.Players {
		if p.ConnID != "" && p.ConnID == connID {
			return p
		}
	}
	return nil
}

// playerByIdentity 依穩定身分找玩家位置
func (r *Room) playerByIdentity(identity string) *Player {
	if identity == "" {
		return nil
	}
	for _, p := range r.Players {
		if p.Identity == identity {
			return p
		}
	}
	return nil
}

// playerByRole 依角色找玩家位置
func (r *Room) playerByRole(role Role) *Player {
	for _, p := range r.Players {
		if p.Role == role {
			return p
		}
	}
	return nil
}

// abandonedSlot 第一個沒有連接的位置
func (r *Room) abandonedSlot() *Player {
	for _, p := range r.Players {
		if !p.Connected() {
			return p
		}
	}
	return nil
}

// connIDs 所有已連接玩家的連接 ID
func (r *Room) connIDs() []string {
	ids := make([]string, 0, len(r.Players))
	for _, p := range r.Players {
		if p.Connected() {
			ids = append(ids, p.ConnID)
		}
	}
	return ids
}

// playerName 角色的顯示名稱，沒有位置時用預設名稱
func (r *Room) playerName(role Role) string {
	if p := r.playerByRole(role); p != nil && p.Name != "" {
		return p.Name
	}
	return defaultName(role)
}

// isMatched 卡牌是否已配對
func (r *Room) isMatched(index int) bool {
	s, ok := r.CardsState[index]
	return ok && s.Matched
}

// isFlipped 卡牌是否已翻開等待判定
func (r *Room) isFlipped(index int) bool {
	for _, i := range r.FlippedCards {
		if i == index {
			return true
		}
	}
	return false
}

// Snapshot 房間狀態快照（需持有鎖），回傳的資料不與房間共用
func (r *Room) Snapshot() RoomState {
	players := make([]PlayerView, 0, len(r.Players))
	for _, p := range r.Players {
		view := PlayerView{
			Name:      p.Name,
			Role:      p.Role,
			Connected: p.Connected(),
		}
		if p.DisconnectedAt != nil {
			t := *p.DisconnectedAt
			view.DisconnectedAt = &t
		}
		players = append(players, view)
	}

	flipped := make([]int, len(r.FlippedCards))
	copy(flipped, r.FlippedCards)

	cardsState := make(map[int]CardState, len(r.CardsState))
	for i, s := range r.CardsState {
		cardsState[i] = s
	}

	state := RoomState{
		Code:          r.Code,
		Players:       players,
		GameState:     r.GameState,
		CurrentPlayer: r.CurrentPlayer,
		Scores:        r.Scores,
		FlippedCards:  flipped,
		CardsState:    cardsState,
		MatchedPairs:  r.MatchedPairs,
		TotalPairs:    r.TotalPairs,
	}
	if r.turnTimer != nil {
		state.TurnStartedAt = r.turnStartedAt.UnixMilli()
	}
	return state
}

// resetBoard 換一副新牌並清空分數（需持有鎖）
func (r *Room) resetBoard(cards []string) {
	r.Cards = cards
	r.TotalPairs = len(cards) / 2
	r.FlippedCards = r.FlippedCards[:0]
	r.CardsState = make(map[int]CardState)
	r.Scores = Scores{}
	r.MatchedPairs = 0
}

func defaultName(role Role) string {
	switch role {
	case Player1:
		return "玩家一"
	case Player2:
		return "玩家二"
	default:
		return "玩家"
	}
}
