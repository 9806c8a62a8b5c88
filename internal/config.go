package internal

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Room      RoomConfig      `yaml:"room"`
	NATS      NATSConfig      `yaml:"nats"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig HTTP 服務器配置
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// WebSocketConfig WebSocket 傳輸配置
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	SendBufferSize  int           `yaml:"send_buffer_size"` // 每連線出站緩衝（訊息數）
	PingInterval    time.Duration `yaml:"ping_interval"`
	PongWait        time.Duration `yaml:"pong_wait"`
	WriteWait       time.Duration `yaml:"write_wait"`
}

// RoomConfig 房間生命週期配置
type RoomConfig struct {
	IdleTimeout     time.Duration `yaml:"idle_timeout"`     // 無綁定連線多久後逐出
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // 清理掃描間隔
}

// NATSConfig 結果事件發布配置（URL 為空時停用）
type NATSConfig struct {
	URL string `yaml:"url"`
}

// LogConfig 日誌配置
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig 預設配置
//
// 心跳時間沿用 54s/60s：多數代理的預設閒置超時是 60 秒，
// 54 秒的 Ping 保證在超時前觸發，留 6 秒餘量。
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			SendBufferSize:  256,
			PingInterval:    54 * time.Second,
			PongWait:        60 * time.Second,
			WriteWait:       10 * time.Second,
		},
		Room: RoomConfig{
			IdleTimeout:     30 * time.Minute,
			CleanupInterval: time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig 載入配置檔；檔案不存在時使用預設值
//
// NATS_URL 環境變數可覆蓋配置檔（生產環境常用）。
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&config)
			return config, nil
		}
		return config, fmt.Errorf("讀取配置檔失敗: %w", err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("解析配置檔失敗: %w", err)
	}

	applyEnvOverrides(&config)
	return config, nil
}

// applyEnvOverrides 套用環境變數覆蓋
func applyEnvOverrides(config *Config) {
	if url := os.Getenv("NATS_URL"); url != "" {
		config.NATS.URL = url
	}
}
