package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// GameResult 一局結束的結果
type GameResult struct {
	RoomCode    string    `json:"roomCode"`
	Winner      string    `json:"winner"`
	Scores      Scores    `json:"scores"`
	Player1Name string    `json:"player1Name"`
	Player2Name string    `json:"player2Name"`
	TotalPairs  int       `json:"totalPairs"`
	CreatedAt   time.Time `json:"createdAt"`
	FinishedAt  time.Time `json:"finishedAt"`
}

// ResultPublisher 對外發布對局結果
type ResultPublisher interface {
	Publish(ctx context.Context, result GameResult) error
	Close() error
}

// NopPublisher 未設定 NATS 時使用
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, GameResult) error { return nil }
func (NopPublisher) Close() error                              { return nil }

// NATSPublisher 將結果發布到 NATS subject
//
// 使用 core NATS（非 JetStream）：結果只是通知，訂閱者離線就錯過，
// 伺服器本身不保存任何對局資料。
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATSPublisher 連接 NATS
func NewNATSPublisher(url, subject string, logger *slog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("memory-match"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS 連線中斷", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS 已重新連線", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}

	return &NATSPublisher{
		conn:    conn,
		subject: subject,
		logger:  logger,
	}, nil
}

// Publish 序列化並發布
func (p *NATSPublisher) Publish(ctx context.Context, result GameResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("序列化對局結果失敗: %w", err)
	}

	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("發布對局結果失敗: %w", err)
	}

	p.logger.Debug("已發布對局結果", "room_code", result.RoomCode, "subject", p.subject)
	return nil
}

// Close 送出緩衝中的訊息後關閉連線
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
