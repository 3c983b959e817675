package internal

import "time"

// Timer 可取消的一次性計時器，*time.Timer 直接滿足
type Timer interface {
	Stop() bool
}

// Clock 時間來源與延遲排程
//
// 房間內所有延遲動作（判定配對、回合倒數、刪除房間）都經由 Clock 排程，
// 測試可以替換成手動推進的實作。
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// RealClock 使用系統時間與 time.AfterFunc
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// stopTimer 停止並清空計時器欄位，可重複呼叫
func stopTimer(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
