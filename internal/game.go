package internal

import (
	"context"
	"time"
)

// FlipCard 翻開一張牌
//
// 遊戲未進行、不是你的回合：回報客戶端錯誤。
// 索引越界、已翻開、已配對、已翻兩張：樂觀更新的客戶端在競態下常見，
// 不當成錯誤，只把目前的 room-state 回給請求者讓客戶端對齊。
func (m *Manager) FlipCard(connID, code string, index int) error {
	code = normalizeCode(code)
	if bound, ok := m.ConnRoom(connID); !ok || bound != code {
		return ErrNotInRoom
	}

	room, ok := m.lockRoom(code)
	if !ok {
		return ErrRoomNotFound
	}
	defer room.mu.Unlock()

	player := room.playerByConn(connID)
	if player == nil {
		return ErrNotInRoom
	}
	if room.GameState != StatePlaying {
		return ErrGameNotStarted
	}
	if player.Role != room.CurrentPlayer {
		return ErrNotYourTurn
	}

	if index < 0 || index >= len(room.Cards) ||
		room.isFlipped(index) || room.isMatched(index) || len(room.FlippedCards) >= 2 {
		m.logger.Debug("忽略翻牌",
			"room_code", code,
			"role", player.Role,
			"card_index", index)
		m.sender.Send(connID, room.Snapshot())
		return nil
	}

	room.FlippedCards = append(room.FlippedCards, index)
	room.LastActivity = m.clock.Now()

	m.broadcastLocked(room, CardRevealed{
		CardIndex: index,
		Value:     room.Cards[index],
		Player:    player.Role,
	})

	if len(room.FlippedCards) == 2 {
		// 判定完成後一定會重新計時，這段期間不讓倒數搶先換手
		m.clearTurnTimerLocked(room)
		m.scheduleResolveLocked(room)
	}

	m.broadcastLocked(room, room.Snapshot())
	return nil
}

// Rematch 同一房間重新開局，玩家保留
func (m *Manager) Rematch(connID, code string) error {
	code = normalizeCode(code)
	if bound, ok := m.ConnRoom(connID); !ok || bound != code {
		return ErrNotInRoom
	}

	room, ok := m.lockRoom(code)
	if !ok {
		return ErrRoomNotFound
	}
	defer room.mu.Unlock()

	m.clearTurnTimerLocked(room)
	m.cancelResolveLocked(room)

	room.resetBoard(m.newCards(m.cfg.Game.TotalPairs))
	room.GameState = StateWaiting
	room.CurrentPlayer = RoleNone
	room.LastActivity = m.clock.Now()

	m.logger.Info("重新開局", "room_code", code)

	if room.ConnectedCount() == 2 {
		m.startGameLocked(room, RoleNone)
		return nil
	}
	m.broadcastLocked(room, room.Snapshot())
	return nil
}

// startGameLocked waiting → playing（需持有房間鎖）
//
// preferred 是觸發開局前就已在線等待的玩家；無法判斷時由 player1 先手。
func (m *Manager) startGameLocked(room *Room, preferred Role) {
	if room.ConnectedCount() < 2 {
		room.GameState = StateWaiting
		room.CurrentPlayer = RoleNone
		return
	}

	starter := Player1
	if p := room.playerByRole(preferred); p != nil && p.Connected() {
		starter = preferred
	}

	room.GameState = StatePlaying
	room.CurrentPlayer = starter

	m.logger.Info("遊戲開始", "room_code", room.Code, "starter", starter)

	m.broadcastLocked(room, room.Snapshot())
	m.startTurnTimerLocked(room)
}

// pauseGameLocked playing → waiting，進度保留（需持有房間鎖）
func (m *Manager) pauseGameLocked(room *Room) {
	m.clearTurnTimerLocked(room)
	m.cancelResolveLocked(room)
	m.hideFlippedLocked(room)

	room.GameState = StateWaiting
	room.CurrentPlayer = RoleNone

	m.logger.Info("人數不足，遊戲暫停", "room_code", room.Code)
}

// scheduleResolveLocked 停留 RevealDelay 後判定兩張牌（需持有房間鎖）
func (m *Manager) scheduleResolveLocked(room *Room) {
	m.cancelResolveLocked(room)

	code := room.Code
	token := m.nextToken()
	room.resolveToken = token
	room.resolveTimer = m.clock.AfterFunc(m.cfg.Game.RevealDelay, func() {
		m.resolvePair(code, token)
	})
}

func (m *Manager) cancelResolveLocked(room *Room) {
	stopTimer(&room.resolveTimer)
	room.resolveToken = 0
}

// resolvePair 判定翻開的兩張牌
//
// 延遲期間房間可能已暫停、重開或刪除，一切以觸發當下的狀態為準。
func (m *Manager) resolvePair(code string, token uint64) {
	room, ok := m.lockRoom(code)
	if !ok {
		m.logger.Debug("判定時房間已不存在", "room_code", code)
		return
	}
	defer room.mu.Unlock()

	if room.resolveToken != token {
		return
	}
	room.resolveTimer = nil
	room.resolveToken = 0

	if room.GameState != StatePlaying || len(room.FlippedCards) != 2 {
		return
	}

	first, second := room.FlippedCards[0], room.FlippedCards[1]
	role := room.CurrentPlayer
	room.FlippedCards = room.FlippedCards[:0]

	if room.Cards[first] == room.Cards[second] {
		room.CardsState[first] = CardState{Matched: true, Player: role}
		room.CardsState[second] = CardState{Matched: true, Player: role}
		room.Scores.add(role)
		room.MatchedPairs++

		m.broadcastLocked(room, PairFound{
			Card1Index: first,
			Card2Index: second,
			Player:     role,
			Scores:     room.Scores,
		})

		if room.MatchedPairs >= room.TotalPairs {
			m.finishGameLocked(room)
			m.broadcastLocked(room, room.Snapshot())
			return
		}

		// 配對成功的玩家繼續
		m.startTurnTimerLocked(room)
		m.broadcastLocked(room, room.Snapshot())
		return
	}

	m.broadcastLocked(room, HideCards{Card1Index: first, Card2Index: second})

	room.CurrentPlayer = role.Other()
	m.broadcastLocked(room, TurnChanged{NewPlayer: room.CurrentPlayer})

	m.startTurnTimerLocked(room)
	m.broadcastLocked(room, room.Snapshot())
}

// finishGameLocked playing → finished（需持有房間鎖）
func (m *Manager) finishGameLocked(room *Room) {
	m.clearTurnTimerLocked(room)
	m.cancelResolveLocked(room)

	room.GameState = StateFinished
	room.CurrentPlayer = RoleNone

	winner := "tie"
	switch {
	case room.Scores.Player1 > room.Scores.Player2:
		winner = string(Player1)
	case room.Scores.Player2 > room.Scores.Player1:
		winner = string(Player2)
	}

	finished := GameFinished{
		Winner:      winner,
		Scores:      room.Scores,
		Player1Name: room.playerName(Player1),
		Player2Name: room.playerName(Player2),
	}
	m.broadcastLocked(room, finished)

	m.logger.Info("遊戲結束",
		"room_code", room.Code,
		"winner", winner,
		"player1_score", room.Scores.Player1,
		"player2_score", room.Scores.Player2)

	m.publishResult(GameResult{
		RoomCode:    room.Code,
		Winner:      winner,
		Scores:      room.Scores,
		Player1Name: finished.Player1Name,
		Player2Name: finished.Player2Name,
		TotalPairs:  room.TotalPairs,
		CreatedAt:   room.CreatedAt,
		FinishedAt:  m.clock.Now(),
	})
}

// publishResult 在房間鎖之外發布結果，失敗只記錄
//
// Stop 會等待所有進行中的發布。
func (m *Manager) publishResult(result GameResult) {
	m.publishing.Add(1)
	go func() {
		defer m.publishing.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := m.publisher.Publish(ctx, result); err != nil {
			m.logger.Error("發布對局結果失敗",
				"room_code", result.RoomCode,
				"error", err)
		}
	}()
}
