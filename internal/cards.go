package internal

import (
	"crypto/rand"
	mrand "math/rand/v2"
	"time"
)

// cardPalette 可用的卡牌圖案
var cardPalette = []string{"🍎", "🍌", "🍒", "🍇", "🍊", "🍓", "🍑", "🍍", "🥭", "🍉", "🍐", "🥝"}

// codeAlphabet 房間代碼字元集，去掉容易看錯的 I、O、0、1
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateCards 產生一副洗好的牌
//
// 從圖案池隨機挑 pairs 個不同圖案，每個放兩張，再用 Fisher–Yates 洗牌。
// 配對與否只取決於圖案是否相同，和位置無關。
func GenerateCards(pairs int, rng *mrand.Rand) []string {
	if rng == nil {
		rng = mrand.New(mrand.NewPCG(mrand.Uint64(), mrand.Uint64()))
	}
	if pairs > len(cardPalette) {
		pairs = len(cardPalette)
	}

	symbols := make([]string, len(cardPalette))
	copy(symbols, cardPalette)
	rng.Shuffle(len(symbols), func(i, j int) { symbols[i], symbols[j] = symbols[j], symbols[i] })
	symbols = symbols[:pairs]

	cards := make([]string, 0, pairs*2)
	cards = append(cards, symbols...)
	cards = append(cards, symbols...)

	for i := len(cards) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		cards[i], cards[j] = cards[j], cards[i]
	}
	return cards
}

// generateCode 生成房間代碼（未檢查唯一性）
func generateCode(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = codeAlphabet[randInt(len(codeAlphabet))]
	}
	return string(b)
}

// randInt 生成隨機數
//
// 字元集長度 32 能整除 256，直接取餘數不會有偏差。
func randInt(max int) int {
	b := make([]byte, 1)
	if _, err := rand.Read(b); err != nil {
		// 如果隨機讀取失敗，使用時間作為隨機源
		return int(uint64(time.Now().UnixNano()) % uint64(max))
	}
	return int(b[0]) % max
}
