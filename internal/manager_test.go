package internal_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-memory-match/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestManager_CreateRoom 測試創建房間
func TestManager_CreateRoom(t *testing.T) {
	env := newTestEnv(t)

	code, err := env.manager.CreateRoom()
	require.NoError(t, err)

	assert.Len(t, code, env.cfg.Room.CodeLength)
	for _, ch := range code {
		assert.True(t, strings.ContainsRune("ABCDEFGHJKLMNPQRSTUVWXYZ23456789", ch), "unexpected char %q", ch)
	}

	state := env.state(t, code)
	assert.Equal(t, code, state.Code)
	assert.Equal(t, internal.StateWaiting, state.GameState)
	assert.Equal(t, internal.RoleNone, state.CurrentPlayer)
	assert.Equal(t, 2, state.TotalPairs)
	assert.Empty(t, state.Players)
	assert.Empty(t, state.FlippedCards)
	assert.Zero(t, state.TurnStartedAt)

	snapshot, ok := env.manager.GetRoom(strings.ToLower(code))
	require.True(t, ok)
	assert.Equal(t, state, snapshot)

	// 拿到的是副本，改動不影響房間
	snapshot.FlippedCards = append(snapshot.FlippedCards, 1)
	snapshot.CardsState[0] = internal.CardState{Matched: true, Player: internal.Player1}
	assert.Equal(t, state, env.state(t, code))

	_, ok = env.manager.GetRoom("ZZZZZZ")
	assert.False(t, ok)
}

// TestManager_CreateRoomUniqueCodes 測試房間代碼不重複
func TestManager_CreateRoomUniqueCodes(t *testing.T) {
	env := newTestEnv(t)

	codes := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := env.manager.CreateRoom()
		require.NoError(t, err)
		assert.False(t, codes[code], "duplicate code %s", code)
		codes[code] = true
	}

	assert.Equal(t, 200, env.manager.Stats()["total_rooms"])
}

// TestManager_JoinRoom 測試位置分配
func TestManager_JoinRoom(t *testing.T) {
	tests := []struct {
		name     string
		validate func(t *testing.T, env *testEnv)
	}{
		{
			name: "first two joins take player1 then player2 and start the game",
			validate: func(t *testing.T, env *testEnv) {
				code := env.startGame(t)

				state := env.state(t, code)
				require.Len(t, state.Players, 2)
				assert.Equal(t, "Alice", state.Players[0].Name)
				assert.Equal(t, internal.Player1, state.Players[0].Role)
				assert.Equal(t, "Bob", state.Players[1].Name)
				assert.Equal(t, internal.Player2, state.Players[1].Role)
				assert.Equal(t, internal.StatePlaying, state.GameState)
				assert.Equal(t, internal.Player1, state.CurrentPlayer)

				bound, ok := env.manager.ConnRoom("c2")
				assert.True(t, ok)
				assert.Equal(t, code, bound)
			},
		},
		{
			name: "third connection is rejected",
			validate: func(t *testing.T, env *testEnv) {
				code := env.startGame(t)

				_, err := env.manager.JoinRoom("c3", code, "Carol", "id-3")
				assert.ErrorIs(t, err, internal.ErrRoomFull)

				_, ok := env.manager.ConnRoom("c3")
				assert.False(t, ok)
				assert.Len(t, env.state(t, code).Players, 2)
			},
		},
		{
			name: "unknown room",
			validate: func(t *testing.T, env *testEnv) {
				_, err := env.manager.JoinRoom("c1", "NOPE99", "Alice", "")
				assert.ErrorIs(t, err, internal.ErrRoomNotFound)
			},
		},
		{
			name: "room code is case insensitive",
			validate: func(t *testing.T, env *testEnv) {
				code, err := env.manager.CreateRoom()
				require.NoError(t, err)

				role, err := env.manager.JoinRoom("c1", " "+strings.ToLower(code)+" ", "Alice", "")
				require.NoError(t, err)
				assert.Equal(t, internal.Player1, role)
			},
		},
		{
			name: "empty name gets a default",
			validate: func(t *testing.T, env *testEnv) {
				code, err := env.manager.CreateRoom()
				require.NoError(t, err)

				_, err = env.manager.JoinRoom("c1", code, "  ", "")
				require.NoError(t, err)
				_, err = env.manager.JoinRoom("c2", code, "", "")
				require.NoError(t, err)

				state := env.state(t, code)
				assert.Equal(t, "玩家一", state.Players[0].Name)
				assert.Equal(t, "玩家二", state.Players[1].Name)
			},
		},
		{
			name: "same connection joining twice only resends the snapshot",
			validate: func(t *testing.T, env *testEnv) {
				code, err := env.manager.CreateRoom()
				require.NoError(t, err)
				_, err = env.manager.JoinRoom("c1", code, "Alice", "")
				require.NoError(t, err)

				before := len(messagesOf[internal.RoomState](env.rec, "c1"))
				role, err := env.manager.JoinRoom("c1", code, "Alice", "")
				require.NoError(t, err)
				assert.Equal(t, internal.Player1, role)

				assert.Len(t, messagesOf[internal.RoomState](env.rec, "c1"), before+1)
				assert.Len(t, env.state(t, code).Players, 1)
			},
		},
		{
			name: "connection bound elsewhere is rejected",
			validate: func(t *testing.T, env *testEnv) {
				codeA, err := env.manager.CreateRoom()
				require.NoError(t, err)
				codeB, err := env.manager.CreateRoom()
				require.NoError(t, err)

				_, err = env.manager.JoinRoom("c1", codeA, "Alice", "id-1")
				require.NoError(t, err)

				_, err = env.manager.JoinRoom("c1", codeB, "Alice", "id-1")
				assert.ErrorIs(t, err, internal.ErrAlreadyInRoom)

				bound, _ := env.manager.ConnRoom("c1")
				assert.Equal(t, codeA, bound)
				assert.Empty(t, env.state(t, codeB).Players)
			},
		},
		{
			name: "abandoned slot is taken over by a new connection",
			validate: func(t *testing.T, env *testEnv) {
				code := env.startGame(t)

				env.manager.Disconnect("c2")

				role, err := env.manager.JoinRoom("c3", code, "Carol", "")
				require.NoError(t, err)
				assert.Equal(t, internal.Player2, role)

				state := env.state(t, code)
				require.Len(t, state.Players, 2)
				assert.Equal(t, "Carol", state.Players[1].Name)
				assert.True(t, state.Players[1].Connected)
				assert.Nil(t, state.Players[1].DisconnectedAt)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.validate(t, newTestEnv(t))
		})
	}
}

// TestManager_ReconnectByIdentity 測試以穩定身分重連
func TestManager_ReconnectByIdentity(t *testing.T) {
	t.Run("rebinds the original slot and resumes", func(t *testing.T) {
		env := newTestEnv(t)
		code := env.startGame(t)

		env.manager.Disconnect("c1")

		state := env.state(t, code)
		assert.Equal(t, internal.StateWaiting, state.GameState)
		assert.Equal(t, internal.RoleNone, state.CurrentPlayer)
		assert.False(t, state.Players[0].Connected)
		require.NotNil(t, state.Players[0].DisconnectedAt)
		assert.Equal(t, env.clock.Now(), *state.Players[0].DisconnectedAt)

		role, err := env.manager.JoinRoom("c9", code, "", "id-1")
		require.NoError(t, err)
		assert.Equal(t, internal.Player1, role)

		state = env.state(t, code)
		assert.Equal(t, "Alice", state.Players[0].Name)
		assert.True(t, state.Players[0].Connected)
		assert.Equal(t, internal.StatePlaying, state.GameState)
		// 一直在線等待的 Bob 先手
		assert.Equal(t, internal.Player2, state.CurrentPlayer)
	})

	t.Run("new connection with a live identity takes the slot", func(t *testing.T) {
		env := newTestEnv(t)
		code := env.startGame(t)

		role, err := env.manager.JoinRoom("c9", code, "", "id-1")
		require.NoError(t, err)
		assert.Equal(t, internal.Player1, role)

		_, ok := env.manager.ConnRoom("c1")
		assert.False(t, ok)
		bound, ok := env.manager.ConnRoom("c9")
		assert.True(t, ok)
		assert.Equal(t, code, bound)

		errs := messagesOf[internal.ErrorMessage](env.rec, "c1")
		require.Len(t, errs, 1)

		// 舊連接之後斷線不會影響已被接手的位置
		env.manager.Disconnect("c1")
		state := env.state(t, code)
		assert.Equal(t, internal.StatePlaying, state.GameState)
		assert.True(t, state.Players[0].Connected)
	})

	t.Run("identity match moves a connection from another room", func(t *testing.T) {
		env := newTestEnv(t)

		codeA, err := env.manager.CreateRoom()
		require.NoError(t, err)
		codeB, err := env.manager.CreateRoom()
		require.NoError(t, err)

		_, err = env.manager.JoinRoom("old", codeB, "Alice", "id-1")
		require.NoError(t, err)
		env.manager.Disconnect("old")

		_, err = env.manager.JoinRoom("c1", codeA, "Alice", "id-x")
		require.NoError(t, err)

		role, err := env.manager.JoinRoom("c1", codeB, "", "id-1")
		require.NoError(t, err)
		assert.Equal(t, internal.Player1, role)

		bound, _ := env.manager.ConnRoom("c1")
		assert.Equal(t, codeB, bound)
		assert.False(t, env.state(t, codeA).Players[0].Connected)
		assert.True(t, env.state(t, codeB).Players[0].Connected)
	})
}

// TestManager_CheckJoin 測試加入前檢查
func TestManager_CheckJoin(t *testing.T) {
	env := newTestEnv(t)
	code := env.startGame(t)

	assert.ErrorIs(t, env.manager.CheckJoin("NOPE99", ""), internal.ErrRoomNotFound)
	assert.ErrorIs(t, env.manager.CheckJoin(code, ""), internal.ErrRoomFull)
	assert.ErrorIs(t, env.manager.CheckJoin(code, "id-3"), internal.ErrRoomFull)
	assert.NoError(t, env.manager.CheckJoin(code, "id-1"))

	env.manager.Disconnect("c2")
	assert.NoError(t, env.manager.CheckJoin(strings.ToLower(code), ""))

	// 檢查不改變狀態
	assert.Len(t, env.state(t, code).Players, 2)
}

// TestManager_LeaveRoom 測試主動離開
func TestManager_LeaveRoom(t *testing.T) {
	env := newTestEnv(t)
	code := env.startGame(t)

	assert.ErrorIs(t, env.manager.LeaveRoom("c1", "WRONG1"), internal.ErrNotInRoom)
	assert.ErrorIs(t, env.manager.LeaveRoom("c3", code), internal.ErrNotInRoom)

	require.NoError(t, env.manager.LeaveRoom("c2", code))

	notices := messagesOf[internal.PlayerDisconnected](env.rec, "c1")
	require.Len(t, notices, 1)
	assert.Equal(t, internal.Player2, notices[0].Player)
	assert.Equal(t, "Bob 離開了房間", notices[0].Message)

	_, ok := env.manager.ConnRoom("c2")
	assert.False(t, ok)

	state := lastState(t, env.rec, "c1")
	assert.Equal(t, internal.StateWaiting, state.GameState)
	assert.False(t, state.Players[1].Connected)

	assert.ErrorIs(t, env.manager.LeaveRoom("c2", code), internal.ErrNotInRoom)
}

// TestManager_GracePeriodDeletion 測試空房間寬限期
func TestManager_GracePeriodDeletion(t *testing.T) {
	t.Run("empty room is deleted after the grace period", func(t *testing.T) {
		env := newTestEnv(t)
		code, err := env.manager.CreateRoom()
		require.NoError(t, err)
		_, err = env.manager.JoinRoom("c1", code, "Alice", "id-1")
		require.NoError(t, err)

		env.manager.Disconnect("c1")

		env.clock.Advance(env.cfg.Room.GracePeriod - time.Second)
		_, err = env.manager.RoomState(code)
		require.NoError(t, err)

		env.clock.Advance(time.Second)
		_, err = env.manager.RoomState(code)
		assert.ErrorIs(t, err, internal.ErrRoomNotFound)
		assert.Equal(t, 0, env.manager.Stats()["total_rooms"])
	})

	t.Run("rejoining cancels the deletion", func(t *testing.T) {
		env := newTestEnv(t)
		code, err := env.manager.CreateRoom()
		require.NoError(t, err)
		_, err = env.manager.JoinRoom("c1", code, "Alice", "id-1")
		require.NoError(t, err)

		env.manager.Disconnect("c1")
		env.clock.Advance(30 * time.Second)

		_, err = env.manager.JoinRoom("c2", code, "", "id-1")
		require.NoError(t, err)

		env.clock.Advance(2 * env.cfg.Room.GracePeriod)
		_, err = env.manager.RoomState(code)
		assert.NoError(t, err)
	})

	t.Run("second grace request does not reset the clock", func(t *testing.T) {
		env := newTestEnv(t)
		code, err := env.manager.CreateRoom()
		require.NoError(t, err)
		_, err = env.manager.JoinRoom("c1", code, "Alice", "")
		require.NoError(t, err)

		env.manager.Disconnect("c1")
		env.clock.Advance(30 * time.Second)
		env.manager.ScheduleRoomDeletion(code, time.Hour, false)

		env.clock.Advance(30 * time.Second)
		_, err = env.manager.RoomState(code)
		assert.ErrorIs(t, err, internal.ErrRoomNotFound)
	})

	t.Run("cancel keeps the room", func(t *testing.T) {
		env := newTestEnv(t)
		code, err := env.manager.CreateRoom()
		require.NoError(t, err)
		_, err = env.manager.JoinRoom("c1", code, "Alice", "")
		require.NoError(t, err)

		env.manager.Disconnect("c1")
		env.manager.CancelRoomDeletion(code)

		env.clock.Advance(2 * env.cfg.Room.GracePeriod)
		_, err = env.manager.RoomState(code)
		assert.NoError(t, err)
	})
}

// TestManager_Lifetime 測試絕對壽命
func TestManager_Lifetime(t *testing.T) {
	t.Run("room is removed even while playing", func(t *testing.T) {
		env := newTestEnv(t)
		code := env.startGame(t)

		env.clock.Advance(env.cfg.Room.Lifetime)

		_, err := env.manager.RoomState(code)
		assert.ErrorIs(t, err, internal.ErrRoomNotFound)

		for _, conn := range []string{"c1", "c2"} {
			closed := messagesOf[internal.RoomClosed](env.rec, conn)
			require.Len(t, closed, 1)
			assert.Equal(t, "expired", closed[0].Reason)

			_, ok := env.manager.ConnRoom(conn)
			assert.False(t, ok)
		}

		// 房間的計時器全部取消
		assert.Zero(t, env.clock.Pending())

		assert.ErrorIs(t, env.manager.FlipCard("c1", code, 0), internal.ErrNotInRoom)
	})

	t.Run("forced deletion replaces the previous one", func(t *testing.T) {
		env := newTestEnv(t)
		code, err := env.manager.CreateRoom()
		require.NoError(t, err)

		env.manager.ScheduleRoomDeletion(code, 5*time.Second, true)
		env.clock.Advance(5 * time.Second)

		_, err = env.manager.RoomState(code)
		assert.ErrorIs(t, err, internal.ErrRoomNotFound)
		assert.Zero(t, env.clock.Pending())
	})
}

// TestManager_RequestRoomState 測試只回給請求者
func TestManager_RequestRoomState(t *testing.T) {
	env := newTestEnv(t)
	code := env.startGame(t)
	env.rec.Reset()

	require.NoError(t, env.manager.RequestRoomState("c1", code))
	assert.Equal(t, []string{internal.EventRoomState}, env.rec.Events("c1"))
	assert.Empty(t, env.rec.Events("c2"))

	assert.ErrorIs(t, env.manager.RequestRoomState("c1", "NOPE99"), internal.ErrRoomNotFound)
}

// TestManager_RequestRoomStateRepeatable 測試狀態未變時連續請求得到相同快照
func TestManager_RequestRoomStateRepeatable(t *testing.T) {
	env := newTestEnv(t)
	code := env.startGame(t)

	// 一對已配對、一張翻開中
	require.NoError(t, env.manager.FlipCard("c1", code, 0))
	require.NoError(t, env.manager.FlipCard("c1", code, 2))
	env.clock.Advance(env.cfg.Game.RevealDelay)
	require.NoError(t, env.manager.FlipCard("c1", code, 1))
	env.rec.Reset()

	require.NoError(t, env.manager.RequestRoomState("c1", code))
	require.NoError(t, env.manager.RequestRoomState("c1", code))

	states := messagesOf[internal.RoomState](env.rec, "c1")
	require.Len(t, states, 2)
	assert.Equal(t, states[0], states[1])

	assert.Equal(t, internal.StatePlaying, states[0].GameState)
	assert.Equal(t, internal.Player1, states[0].CurrentPlayer)
	assert.Equal(t, []int{1}, states[0].FlippedCards)
	assert.Equal(t, map[int]internal.CardState{
		0: {Matched: true, Player: internal.Player1},
		2: {Matched: true, Player: internal.Player1},
	}, states[0].CardsState)
	assert.Equal(t, env.clock.Now().UnixMilli(), states[0].TurnStartedAt)
}

// TestManager_SnapshotHidesIdentity 測試快照不洩漏穩定身分
func TestManager_SnapshotHidesIdentity(t *testing.T) {
	env := newTestEnv(t)
	code := env.startGame(t)

	data, err := internal.Encode(env.state(t, code))
	require.NoError(t, err)

	assert.NotContains(t, string(data), "id-1")
	assert.NotContains(t, string(data), "c1")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, internal.EventRoomState, decoded["event"])
}

// TestManager_Stats 測試統計資訊
func TestManager_Stats(t *testing.T) {
	env := newTestEnv(t)
	env.startGame(t)
	_, err := env.manager.CreateRoom()
	require.NoError(t, err)

	stats := env.manager.Stats()
	assert.Equal(t, 2, stats["total_rooms"])
	assert.Equal(t, 2, stats["connected_players"])
	assert.Equal(t, map[internal.GameState]int{
		internal.StatePlaying: 1,
		internal.StateWaiting: 1,
	}, stats["by_state"])
}

// TestManager_Stop 測試停止
func TestManager_Stop(t *testing.T) {
	env := newTestEnv(t)
	env.startGame(t)

	env.manager.Stop()

	closed := messagesOf[internal.RoomClosed](env.rec, "c1")
	require.Len(t, closed, 1)
	assert.Equal(t, "server_shutdown", closed[0].Reason)
	assert.Zero(t, env.clock.Pending())

	_, err := env.manager.CreateRoom()
	assert.Error(t, err)
}

// TestManager_StopWaitsForPublish 測試關閉時等待進行中的結果發布
func TestManager_StopWaitsForPublish(t *testing.T) {
	env := newTestEnv(t)
	env.publisher.hold = make(chan struct{})
	code := env.startGame(t)

	require.NoError(t, env.manager.FlipCard("c1", code, 0))
	require.NoError(t, env.manager.FlipCard("c1", code, 2))
	env.clock.Advance(env.cfg.Game.RevealDelay)
	require.NoError(t, env.manager.FlipCard("c1", code, 1))
	require.NoError(t, env.manager.FlipCard("c1", code, 3))
	env.clock.Advance(env.cfg.Game.RevealDelay)
	require.Equal(t, internal.StateFinished, env.state(t, code).GameState)

	stopped := make(chan struct{})
	go func() {
		env.manager.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned before the result was published")
	case <-time.After(50 * time.Millisecond):
	}

	close(env.publisher.hold)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the result was published")
	}
	require.Len(t, env.publisher.Results(), 1)
	assert.Equal(t, code, env.publisher.Results()[0].RoomCode)
}
