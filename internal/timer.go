package internal

// 回合計時器
//
// 每個房間最多一個回合計時器，重新設定一律先清再設。
// 客戶端收到 timer-started 後依 startedAt 自行倒數，伺服器不推送剩餘秒數。

// startTurnTimerLocked 為目前玩家開始倒數（需持有房間鎖）
func (m *Manager) startTurnTimerLocked(room *Room) {
	m.clearTurnTimerLocked(room)

	if room.GameState != StatePlaying || !room.CurrentPlayer.Valid() {
		m.logger.Debug("略過回合計時",
			"room_code", room.Code,
			"game_state", room.GameState,
			"current_player", room.CurrentPlayer)
		return
	}

	now := m.clock.Now()
	code := room.Code
	token := m.nextToken()

	room.turnStartedAt = now
	room.turnToken = token

	m.broadcastLocked(room, TimerStarted{
		Duration:      int(m.cfg.Game.TurnDuration.Seconds()),
		CurrentPlayer: room.CurrentPlayer,
		StartedAt:     now.UnixMilli(),
	})

	room.turnTimer = m.clock.AfterFunc(m.cfg.Game.TurnDuration+m.cfg.Game.TimeoutGrace, func() {
		m.onTurnTimeout(code, token)
	})
}

// clearTurnTimerLocked 取消回合計時，可重複呼叫（需持有房間鎖）
func (m *Manager) clearTurnTimerLocked(room *Room) {
	stopTimer(&room.turnTimer)
	room.turnToken = 0
}

// onTurnTimeout 倒數結束
func (m *Manager) onTurnTimeout(code string, token uint64) {
	room, ok := m.lockRoom(code)
	if !ok {
		return
	}
	defer room.mu.Unlock()

	if room.turnToken != token {
		return
	}
	room.turnTimer = nil
	room.turnToken = 0

	if room.GameState != StatePlaying {
		return
	}

	// 只剩一人時不要讓他自己跟自己換手
	if room.ConnectedCount() < 2 {
		m.pauseGameLocked(room)
		m.broadcastLocked(room, room.Snapshot())
		return
	}

	m.cancelResolveLocked(room)
	m.hideFlippedLocked(room)

	room.CurrentPlayer = room.CurrentPlayer.Other()

	m.logger.Debug("回合逾時換手", "room_code", code, "new_player", room.CurrentPlayer)

	m.broadcastLocked(room, TurnChangedTimeout{NewPlayer: room.CurrentPlayer})
	m.broadcastLocked(room, room.Snapshot())
	m.startTurnTimerLocked(room)
}

// hideFlippedLocked 蓋回所有翻開但未判定的牌（需持有房間鎖）
func (m *Manager) hideFlippedLocked(room *Room) {
	switch len(room.FlippedCards) {
	case 0:
		return
	case 1:
		i := room.FlippedCards[0]
		m.broadcastLocked(room, HideCards{Card1Index: i, Card2Index: i})
	default:
		m.broadcastLocked(room, HideCards{Card1Index: room.FlippedCards[0], Card2Index: room.FlippedCards[1]})
	}
	room.FlippedCards = room.FlippedCards[:0]
}
