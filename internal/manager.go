package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// 客戶端錯誤：只回報給發出請求的連接，不改變狀態，也不當成故障記錄
var (
	ErrRoomNotFound   = errors.New("房間不存在")
	ErrRoomFull       = errors.New("房間已滿，最多兩位玩家")
	ErrNotYourTurn    = errors.New("還沒輪到你")
	ErrGameNotStarted = errors.New("遊戲尚未開始")
	ErrAlreadyInRoom  = errors.New("你已經在其他房間中")
	ErrNotInRoom      = errors.New("你不在這個房間中")
	ErrInvalidMessage = errors.New("無效的訊息格式")
)

// IsClientError 是否為應該回報給客戶端的錯誤
func IsClientError(err error) bool {
	return errors.Is(err, ErrRoomNotFound) ||
		errors.Is(err, ErrRoomFull) ||
		errors.Is(err, ErrNotYourTurn) ||
		errors.Is(err, ErrGameNotStarted) ||
		errors.Is(err, ErrAlreadyInRoom) ||
		errors.Is(err, ErrNotInRoom) ||
		errors.Is(err, ErrInvalidMessage)
}

// Manager 房間管理器
//
// 房間表只能透過 Manager 的方法修改。鎖的順序固定為 room.mu → m.mu，
// 持有 m.mu 時絕不去拿房間鎖。
type Manager struct {
	cfg       Config
	logger    *slog.Logger
	clock     Clock
	sender    Sender
	publisher ResultPublisher
	newCards  func(pairs int) []string

	rooms    map[string]*Room  // code -> Room
	connRoom map[string]string // connID -> code
	mu       sync.RWMutex
	stopped  bool

	publishing sync.WaitGroup // 進行中的結果發布
	tokens     atomic.Uint64
}

// Option 調整 Manager 的相依元件
type Option func(*Manager)

// WithClock 替換時間來源（測試用手動時鐘）
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithSender 設定事件送出端
func WithSender(s Sender) Option {
	return func(m *Manager) { m.sender = s }
}

// WithPublisher 設定對局結果發布端
func WithPublisher(p ResultPublisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithCardGenerator 替換發牌邏輯
func WithCardGenerator(f func(pairs int) []string) Option {
	return func(m *Manager) { m.newCards = f }
}

// NewManager 創建房間管理器
func NewManager(cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg,
		logger:    logger,
		clock:     RealClock(),
		sender:    nopSender{},
		publisher: NopPublisher{},
		newCards:  func(pairs int) []string { return GenerateCards(pairs, nil) },
		rooms:     make(map[string]*Room),
		connRoom:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetSender 設定事件送出端，必須在開始處理連接前呼叫
func (m *Manager) SetSender(s Sender) {
	m.sender = s
}

// CreateRoom 創建房間並返回房間代碼
func (m *Manager) CreateRoom() (string, error) {
	now := m.clock.Now()

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return "", errors.New("房間管理器已停止")
	}

	code := ""
	for attempt := 0; attempt < 100; attempt++ {
		candidate := generateCode(m.cfg.Room.CodeLength)
		if _, exists := m.rooms[candidate]; !exists {
			code = candidate
			break
		}
	}
	if code == "" {
		m.mu.Unlock()
		return "", errors.New("無法產生唯一的房間代碼")
	}

	room := NewRoom(code, m.newCards(m.cfg.Game.TotalPairs), now)
	m.rooms[code] = room
	m.mu.Unlock()

	// 絕對壽命：不論活動與否，時間到就刪除
	room.mu.Lock()
	m.scheduleDeletionLocked(room, m.cfg.Room.Lifetime, true)
	room.mu.Unlock()

	m.logger.Info("房間已創建",
		"room_code", code,
		"total_pairs", room.TotalPairs,
		"lifetime", m.cfg.Room.Lifetime)

	return code, nil
}

// GetRoom 獲取房間快照，會更新最後活動時間
//
// 找不到是正常結果，不是錯誤。房間本身只透過 Manager 的方法修改，這裡只交出副本。
func (m *Manager) GetRoom(code string) (RoomState, bool) {
	room, ok := m.lockRoom(code)
	if !ok {
		return RoomState{}, false
	}
	defer room.mu.Unlock()

	room.LastActivity = m.clock.Now()
	return room.Snapshot(), true
}

// RoomState 取得房間快照
func (m *Manager) RoomState(code string) (RoomState, error) {
	room, ok := m.lockRoom(code)
	if !ok {
		return RoomState{}, ErrRoomNotFound
	}
	defer room.mu.Unlock()
	return room.Snapshot(), nil
}

// ConnRoom 連接目前綁定的房間代碼
func (m *Manager) ConnRoom(connID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	code, ok := m.connRoom[connID]
	return code, ok
}

// ScheduleRoomDeletion 排程刪除房間
//
// force=true：絕對壽命，觸發時無條件刪除，重複呼叫會覆蓋前一個。
// force=false：寬限期，觸發時仍無人連接才刪除；已有排程時不重設時鐘。
func (m *Manager) ScheduleRoomDeletion(code string, delay time.Duration, force bool) {
	room, ok := m.lockRoom(code)
	if !ok {
		return
	}
	defer room.mu.Unlock()
	m.scheduleDeletionLocked(room, delay, force)
}

// CancelRoomDeletion 取消寬限期刪除（不影響絕對壽命）
func (m *Manager) CancelRoomDeletion(code string) {
	room, ok := m.lockRoom(code)
	if !ok {
		return
	}
	defer room.mu.Unlock()
	m.cancelGraceLocked(room)
}

// JoinRoom 將連接加入房間，返回分配到的角色
//
// 位置分配優先順序：
//  1. 穩定身分相符 → 重新綁定原位置（權威重連，可跨過「已在房間中」的檢查）
//  2. 有斷線的空位 → 接手該位置
//  3. 不足兩個位置 → 新增位置，先 player1 後 player2
//  4. 否則房間已滿
func (m *Manager) JoinRoom(connID, code, name, identity string) (Role, error) {
	code = normalizeCode(code)
	name = strings.TrimSpace(name)

	if bound, isBound := m.ConnRoom(connID); isBound {
		if bound == code {
			return m.resendState(connID, code)
		}

		target, ok := m.lockRoom(code)
		if !ok {
			return RoleNone, ErrRoomNotFound
		}
		reconnecting := target.playerByIdentity(identity) != nil
		target.mu.Unlock()

		if !reconnecting {
			return RoleNone, ErrAlreadyInRoom
		}
		m.unbind(connID)
		m.releaseSlot(connID, bound, "離開了房間")
	}

	room, ok := m.lockRoom(code)
	if !ok {
		return RoleNone, ErrRoomNotFound
	}
	defer room.mu.Unlock()

	slot, err := m.assignSlotLocked(room, connID, name, identity)
	if err != nil {
		return RoleNone, err
	}

	m.cancelGraceLocked(room)

	m.mu.Lock()
	m.connRoom[connID] = code
	m.mu.Unlock()

	room.LastActivity = m.clock.Now()

	m.logger.Info("玩家加入房間",
		"room_code", code,
		"conn_id", connID,
		"role", slot.Role,
		"player_name", slot.Name)

	m.broadcastLocked(room, room.Snapshot())

	if room.GameState == StateWaiting && room.ConnectedCount() == 2 {
		// 先到的玩家先手
		m.startGameLocked(room, slot.Role.Other())
	}

	return slot.Role, nil
}

// CheckJoin 不修改狀態，預先判斷加入是否會成功
func (m *Manager) CheckJoin(code, identity string) error {
	room, ok := m.lockRoom(code)
	if !ok {
		return ErrRoomNotFound
	}
	defer room.mu.Unlock()

	if room.playerByIdentity(identity) != nil || room.abandonedSlot() != nil || len(room.Players) < 2 {
		return nil
	}
	return ErrRoomFull
}

// LeaveRoom 玩家主動離開，位置保留以便重連
func (m *Manager) LeaveRoom(connID, code string) error {
	code = normalizeCode(code)
	if bound, ok := m.ConnRoom(connID); !ok || bound != code {
		return ErrNotInRoom
	}

	m.unbind(connID)
	m.releaseSlot(connID, code, "離開了房間")
	return nil
}

// Disconnect 連接中斷
func (m *Manager) Disconnect(connID string) {
	m.mu.Lock()
	code, ok := m.connRoom[connID]
	if ok {
		delete(m.connRoom, connID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	m.releaseSlot(connID, code, "已斷線")
}

// RequestRoomState 將目前快照送給請求者
func (m *Manager) RequestRoomState(connID, code string) error {
	room, ok := m.lockRoom(code)
	if !ok {
		return ErrRoomNotFound
	}
	defer room.mu.Unlock()

	m.sender.Send(connID, room.Snapshot())
	return nil
}

// Stats 獲取統計資訊
func (m *Manager) Stats() map[string]any {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	connections := len(m.connRoom)
	m.mu.RUnlock()

	stateCount := make(map[GameState]int)
	for _, room := range rooms {
		room.mu.Lock()
		stateCount[room.GameState]++
		room.mu.Unlock()
	}

	return map[string]any{
		"total_rooms":       len(rooms),
		"connected_players": connections,
		"by_state":          stateCount,
	}
}

// Stop 停止管理器，取消所有計時器並關閉所有房間
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.Unlock()

	for _, room := range rooms {
		room.mu.Lock()
		if !room.closed {
			m.deleteRoomLocked(room, "server_shutdown")
		}
		room.mu.Unlock()
	}

	// 等發布完成，之後才能關閉發布端
	m.publishing.Wait()

	m.logger.Info("房間管理器已停止", "rooms_closed", len(rooms))
}

// lookup 只查表，不更新活動時間
func (m *Manager) lookup(code string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[normalizeCode(code)]
}

// lockRoom 查詢並鎖定房間；房間已被刪除時返回 false
func (m *Manager) lockRoom(code string) (*Room, bool) {
	room := m.lookup(code)
	if room == nil {
		return nil, false
	}
	room.mu.Lock()
	if room.closed {
		room.mu.Unlock()
		return nil, false
	}
	return room, true
}

// resendState 同一連接重複加入同一房間：只補送快照
func (m *Manager) resendState(connID, code string) (Role, error) {
	room, ok := m.lockRoom(code)
	if !ok {
		return RoleNone, ErrRoomNotFound
	}
	defer room.mu.Unlock()

	role := RoleNone
	if p := room.playerByConn(connID); p != nil {
		role = p.Role
	}
	m.sender.Send(connID, room.Snapshot())
	return role, nil
}

// assignSlotLocked 依優先順序分配位置（需持有房間鎖）
func (m *Manager) assignSlotLocked(room *Room, connID, name, identity string) (*Player, error) {
	if p := room.playerByIdentity(identity); p != nil {
		if p.Connected() && p.ConnID != connID {
			// 同一身分從新連接進來，舊連接失去位置
			m.unbindIfRoom(p.ConnID, room.Code)
			m.sender.Send(p.ConnID, ErrorMessage{Message: "已在其他連線重新加入房間"})
		}
		p.ConnID = connID
		if name != "" {
			p.Name = name
		}
		p.DisconnectedAt = nil

		m.logger.Debug("依身分重新連線", "room_code", room.Code, "role", p.Role)
		return p, nil
	}

	if p := room.abandonedSlot(); p != nil {
		p.ConnID = connID
		if name != "" {
			p.Name = name
		}
		if identity != "" {
			p.Identity = identity
		}
		p.DisconnectedAt = nil

		m.logger.Debug("接手斷線位置", "room_code", room.Code, "role", p.Role)
		return p, nil
	}

	if len(room.Players) < 2 {
		role := Player1
		if room.playerByRole(Player1) != nil {
			role = Player2
		}
		if name == "" {
			name = defaultName(role)
		}
		p := &Player{
			ConnID:   connID,
			Name:     name,
			Role:     role,
			Identity: identity,
		}
		room.Players = append(room.Players, p)
		return p, nil
	}

	return nil, ErrRoomFull
}

// releaseSlot 清空連接但保留位置
func (m *Manager) releaseSlot(connID, code, reason string) {
	room, ok := m.lockRoom(code)
	if !ok {
		return
	}
	defer room.mu.Unlock()

	p := room.playerByConn(connID)
	if p == nil {
		// 位置已被同身分的新連接接手
		return
	}

	now := m.clock.Now()
	p.ConnID = ""
	p.DisconnectedAt = &now
	room.LastActivity = now

	m.logger.Info("玩家離線",
		"room_code", code,
		"conn_id", connID,
		"role", p.Role,
		"reason", reason)

	m.broadcastLocked(room, PlayerDisconnected{
		Player:  p.Role,
		Message: fmt.Sprintf("%s %s", p.Name, reason),
	})

	if room.GameState == StatePlaying && room.ConnectedCount() < 2 {
		m.pauseGameLocked(room)
	}

	if room.ConnectedCount() == 0 {
		m.scheduleDeletionLocked(room, m.cfg.Room.GracePeriod, false)
	}

	m.broadcastLocked(room, room.Snapshot())
}

// scheduleDeletionLocked 見 ScheduleRoomDeletion（需持有房間鎖）
func (m *Manager) scheduleDeletionLocked(room *Room, delay time.Duration, force bool) {
	code := room.Code
	token := m.nextToken()

	if force {
		stopTimer(&room.lifetimeTimer)
		room.lifetimeToken = token
		room.lifetimeTimer = m.clock.AfterFunc(delay, func() {
			m.onDeletionTimer(code, token, true)
		})
		return
	}

	if room.graceTimer != nil {
		return
	}
	room.graceToken = token
	room.graceTimer = m.clock.AfterFunc(delay, func() {
		m.onDeletionTimer(code, token, false)
	})

	m.logger.Debug("排程刪除空房間", "room_code", code, "delay", delay)
}

// cancelGraceLocked 取消寬限期刪除（需持有房間鎖）
func (m *Manager) cancelGraceLocked(room *Room) {
	if room.graceTimer == nil {
		return
	}
	stopTimer(&room.graceTimer)
	room.graceToken = 0
	m.logger.Debug("取消刪除空房間", "room_code", room.Code)
}

// onDeletionTimer 刪除計時器觸發
func (m *Manager) onDeletionTimer(code string, token uint64, force bool) {
	room, ok := m.lockRoom(code)
	if !ok {
		return
	}
	defer room.mu.Unlock()

	if force {
		if room.lifetimeToken != token {
			return
		}
		room.lifetimeTimer = nil
		m.deleteRoomLocked(room, "expired")
		return
	}

	if room.graceToken != token {
		return
	}
	room.graceTimer = nil
	room.graceToken = 0

	if room.ConnectedCount() > 0 {
		m.logger.Debug("房間已有人重新連線，不刪除", "room_code", code)
		return
	}
	m.deleteRoomLocked(room, "inactive")
}

// deleteRoomLocked 從房間表移除並停止所有計時器（需持有房間鎖）
func (m *Manager) deleteRoomLocked(room *Room, reason string) {
	room.closed = true

	m.clearTurnTimerLocked(room)
	m.cancelResolveLocked(room)
	stopTimer(&room.graceTimer)
	stopTimer(&room.lifetimeTimer)
	room.graceToken = 0
	room.lifetimeToken = 0

	m.broadcastLocked(room, RoomClosed{Reason: reason})

	m.mu.Lock()
	if m.rooms[room.Code] == room {
		delete(m.rooms, room.Code)
	}
	for _, p := range room.Players {
		if p.Connected() && m.connRoom[p.ConnID] == room.Code {
			delete(m.connRoom, p.ConnID)
		}
	}
	m.mu.Unlock()

	m.logger.Info("房間已移除", "room_code", room.Code, "reason", reason)
}

// broadcastLocked 送事件給房間內所有已連接玩家（需持有房間鎖）
func (m *Manager) broadcastLocked(room *Room, msg Message) {
	for _, id := range room.connIDs() {
		m.sender.Send(id, msg)
	}
}

func (m *Manager) unbind(connID string) {
	m.mu.Lock()
	delete(m.connRoom, connID)
	m.mu.Unlock()
}

func (m *Manager) unbindIfRoom(connID, code string) {
	m.mu.Lock()
	if m.connRoom[connID] == code {
		delete(m.connRoom, connID)
	}
	m.mu.Unlock()
}

// nextToken 全域遞增，刪除後同代碼的新房間也不會撞到舊 token
func (m *Manager) nextToken() uint64 {
	return m.tokens.Add(1)
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type nopSender struct{}

func (nopSender) Send(string, Message) {}
