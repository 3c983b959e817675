package internal_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-memory-match/internal"
	"github.com/stretchr/testify/require"
)

// 創建測試用的 logger
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError, // 測試時只顯示錯誤
	}))
}

// fakeClock 手動推進的時鐘，到期的回呼在 Advance 內同步執行
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) internal.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped
	t.stopped = true
	return active
}

// Advance 推進時間，依到期順序執行回呼（回呼中新排的計時器若也到期會一併執行）
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		next := -1
		for i, t := range c.timers {
			if t.stopped || t.at.After(target) {
				continue
			}
			if next == -1 || t.at.Before(c.timers[next].at) {
				next = i
			}
		}
		if next == -1 {
			break
		}

		t := c.timers[next]
		c.timers = append(c.timers[:next], c.timers[next+1:]...)
		t.stopped = true
		if t.at.After(c.now) {
			c.now = t.at
		}

		c.mu.Unlock()
		t.f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// Pending 尚未觸發也未取消的計時器數量
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// recorder 記錄每個連接收到的事件
type recorder struct {
	mu       sync.Mutex
	messages map[string][]internal.Message
}

func newRecorder() *recorder {
	return &recorder{messages: make(map[string][]internal.Message)}
}

func (r *recorder) Send(connID string, msg internal.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[connID] = append(r.messages[connID], msg)
}

func (r *recorder) Messages(connID string) []internal.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]internal.Message, len(r.messages[connID]))
	copy(out, r.messages[connID])
	return out
}

func (r *recorder) Events(connID string) []string {
	msgs := r.Messages(connID)
	events := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		events = append(events, msg.EventName())
	}
	return events
}

func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = make(map[string][]internal.Message)
}

// messagesOf 某個連接收到的特定型別事件
func messagesOf[T internal.Message](r *recorder, connID string) []T {
	var out []T
	for _, msg := range r.Messages(connID) {
		if v, ok := msg.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// lastState 某個連接最後收到的房間快照
func lastState(t *testing.T, r *recorder, connID string) internal.RoomState {
	t.Helper()
	states := messagesOf[internal.RoomState](r, connID)
	require.NotEmpty(t, states, "no room-state for %s", connID)
	return states[len(states)-1]
}

// fakePublisher 記錄發布的對局結果
//
// hold 不為 nil 時，Publish 會等到 hold 關閉才記錄。
type fakePublisher struct {
	mu      sync.Mutex
	results []internal.GameResult
	hold    chan struct{}
}

func (p *fakePublisher) Publish(_ context.Context, result internal.GameResult) error {
	if p.hold != nil {
		<-p.hold
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, result)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) Results() []internal.GameResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]internal.GameResult, len(p.results))
	copy(out, p.results)
	return out
}

// fixedDeck 不洗牌：i 與 i+pairs 是同一對
func fixedDeck(pairs int) []string {
	symbols := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
	cards := make([]string, 0, pairs*2)
	cards = append(cards, symbols[:pairs]...)
	cards = append(cards, symbols[:pairs]...)
	return cards
}

type testEnv struct {
	manager   *internal.Manager
	clock     *fakeClock
	rec       *recorder
	publisher *fakePublisher
	cfg       internal.Config
}

// newTestEnv 兩對牌（0/2、1/3 配對），手動時鐘
func newTestEnv(t *testing.T, modify ...func(*internal.Config)) *testEnv {
	t.Helper()

	cfg := internal.DefaultConfig()
	cfg.Game.TotalPairs = 2
	for _, f := range modify {
		f(&cfg)
	}

	env := &testEnv{
		clock:     newFakeClock(),
		rec:       newRecorder(),
		publisher: &fakePublisher{},
		cfg:       cfg,
	}
	env.manager = internal.NewManager(cfg, testLogger(),
		internal.WithClock(env.clock),
		internal.WithSender(env.rec),
		internal.WithPublisher(env.publisher),
		internal.WithCardGenerator(fixedDeck),
	)
	t.Cleanup(env.manager.Stop)
	return env
}

// startGame 創建房間，c1（Alice）與 c2（Bob）依序加入，player1 先手
func (env *testEnv) startGame(t *testing.T) string {
	t.Helper()

	code, err := env.manager.CreateRoom()
	require.NoError(t, err)

	role, err := env.manager.JoinRoom("c1", code, "Alice", "id-1")
	require.NoError(t, err)
	require.Equal(t, internal.Player1, role)

	role, err = env.manager.JoinRoom("c2", code, "Bob", "id-2")
	require.NoError(t, err)
	require.Equal(t, internal.Player2, role)

	return code
}

func (env *testEnv) state(t *testing.T, code string) internal.RoomState {
	t.Helper()
	state, err := env.manager.RoomState(code)
	require.NoError(t, err)
	return state
}
