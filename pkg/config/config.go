// Package config конфигурация приложения в YAML.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arzzra/webphone/pkg/devices"
)

// Поддерживаемые хранилища настроек.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

type HTTP struct {
	Listen string `yaml:"listen"`
}

type Store struct {
	// Backend file или sqlite
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type SIP struct {
	UserAgent string `yaml:"user_agent"`
	// Listen адрес UDP/TCP сервера для транспортов без WebSocket
	Listen string `yaml:"listen"`
	// RegisterExpires секунды
	RegisterExpires           int    `yaml:"register_expires"`
	StopTransportOnUnregister bool   `yaml:"stop_transport_on_unregister"`
	DefaultWSSPort            string `yaml:"default_wss_port"`
	Debug                     bool   `yaml:"debug"`
}

type Media struct {
	InputDevices  []devices.Spec `yaml:"input_devices"`
	OutputDevices []devices.Spec `yaml:"output_devices"`
}

type Ringtone struct {
	// Output id устройства вывода для звонка, пустой: устройство по умолчанию
	Output        string `yaml:"output"`
	RequireUnlock bool   `yaml:"require_unlock"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config конфигурация приложения.
type Config struct {
	HTTP     HTTP     `yaml:"http"`
	Store    Store    `yaml:"store"`
	SIP      SIP      `yaml:"sip"`
	Media    Media    `yaml:"media"`
	Ringtone Ringtone `yaml:"ringtone"`
	Log      Log      `yaml:"log"`
}

// Default конфигурация по умолчанию.
func Default() *Config {
	return &Config{
		HTTP:  HTTP{Listen: "127.0.0.1:8080"},
		Store: Store{Backend: StoreFile, Path: "webphone.json"},
		SIP: SIP{
			UserAgent:       "WebPhone/1.0",
			RegisterExpires: 600,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load читает файл поверх значений по умолчанию. Пустой path
// возвращает конфигурацию по умолчанию.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse разбирает YAML в cfg и проверяет результат.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return cfg.Validate()
}

// Validate проверяет значения.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.HTTP.Listen) == "" {
		return fmt.Errorf("http.listen cannot be empty")
	}
	switch c.Store.Backend {
	case StoreFile, StoreSQLite:
	default:
		return fmt.Errorf("invalid store backend: %q (must be file or sqlite)", c.Store.Backend)
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("store path cannot be empty")
	}
	if c.SIP.RegisterExpires < 60 {
		return fmt.Errorf("register expires too short: %d seconds (minimum 60)", c.SIP.RegisterExpires)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}
	return nil
}

// RegisterExpiresDuration время жизни регистрации.
func (c *Config) RegisterExpiresDuration() time.Duration {
	return time.Duration(c.SIP.RegisterExpires) * time.Second
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", s)
	}
	return l, nil
}

// Logger создает логгер по разделу log.
func (c *Config) Logger(debug bool) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(c.Log.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
