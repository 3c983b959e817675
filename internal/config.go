package internal

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個服務的配置
type Config struct {
	Server struct {
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		IdleTimeout  time.Duration `yaml:"idle_timeout"`
	} `yaml:"server"`

	Game struct {
		TotalPairs   int           `yaml:"total_pairs"`
		TurnDuration time.Duration `yaml:"turn_duration"`
		TimeoutGrace time.Duration `yaml:"timeout_grace"` // 倒數結束後多等一點，避免客戶端顯示 0 前就換手
		RevealDelay  time.Duration `yaml:"reveal_delay"`  // 第二張牌翻開後到判定前的停留時間
	} `yaml:"game"`

	Room struct {
		CodeLength  int           `yaml:"code_length"`
		Lifetime    time.Duration `yaml:"lifetime"`     // 從創建起算的絕對壽命
		GracePeriod time.Duration `yaml:"grace_period"` // 最後一人斷線後保留的時間
	} `yaml:"room"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	NATS struct {
		URL     string `yaml:"url"` // 空字串表示不發布對局結果
		Subject string `yaml:"subject"`
	} `yaml:"nats"`
}

// DefaultConfig 返回預設配置
func DefaultConfig() Config {
	var c Config
	c.Server.Port = 8080
	c.Server.ReadTimeout = 15 * time.Second
	c.Server.WriteTimeout = 15 * time.Second
	c.Server.IdleTimeout = 60 * time.Second

	c.Game.TotalPairs = 8
	c.Game.TurnDuration = 10 * time.Second
	c.Game.TimeoutGrace = 200 * time.Millisecond
	c.Game.RevealDelay = time.Second

	c.Room.CodeLength = 6
	c.Room.Lifetime = 30 * time.Minute
	c.Room.GracePeriod = time.Minute

	c.Log.Level = "info"
	c.Log.Format = "text"

	c.NATS.Subject = "memory.games.finished"
	return c
}

// LoadConfig 載入配置檔案
//
// 檔案不存在時直接使用預設值；檔案中沒出現的欄位保留預設值。
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	// #nosec G304 - path 來自啟動參數
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return config, nil
	}
	if err != nil {
		return config, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// Validate 檢查配置是否合理
func (c Config) Validate() error {
	if c.Game.TotalPairs < 1 || c.Game.TotalPairs > len(cardPalette) {
		return fmt.Errorf("game.total_pairs 必須在 1-%d 之間", len(cardPalette))
	}
	// timer-started 以整數秒告知客戶端倒數長度
	if c.Game.TurnDuration < time.Second || c.Game.TurnDuration%time.Second != 0 {
		return errors.New("game.turn_duration 必須是整數秒且至少 1 秒")
	}
	if c.Game.TimeoutGrace < 0 || c.Game.RevealDelay < 0 {
		return errors.New("game 延遲設定不能為負數")
	}
	if c.Room.CodeLength < 4 {
		return errors.New("room.code_length 至少為 4")
	}
	if c.Room.Lifetime <= 0 || c.Room.GracePeriod <= 0 {
		return errors.New("room 存活時間必須大於 0")
	}
	if c.NATS.URL != "" && c.NATS.Subject == "" {
		return errors.New("nats.subject 不能為空")
	}
	return nil
}
