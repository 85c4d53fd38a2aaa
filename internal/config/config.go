package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	HTTPAddr        string        `mapstructure:"http_addr" yaml:"http_addr"`
	DatabasePath    string        `mapstructure:"database_path" yaml:"database_path"`
	LogLevel        string        `mapstructure:"log_level" yaml:"log_level"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// Protocol limits.
	HistorySize   int `mapstructure:"history_size" yaml:"history_size"`
	MaxMessageLen int `mapstructure:"max_message_len" yaml:"max_message_len"`
	OutboundQueue int `mapstructure:"outbound_queue" yaml:"outbound_queue"`
	MessageRate   int `mapstructure:"message_rate" yaml:"message_rate"`
	MessageBurst  int `mapstructure:"message_burst" yaml:"message_burst"`

	// Admins lists nicknames granted the admin flag at connection time.
	Admins []string `mapstructure:"admins" yaml:"admins"`

	// Channels maps channel names to topics seeded at startup. Empty by default:
	// channels are otherwise created implicitly on first join.
	Channels map[string]string `mapstructure:"channels" yaml:"channels,omitempty"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:            ":6969",
		HTTPAddr:        ":8080",
		DatabasePath:    "betairc.db",
		LogLevel:        "info",
		ShutdownTimeout: 5 * time.Second,
		HistorySize:     50,
		MaxMessageLen:   1024,
		OutboundQueue:   32,
		MessageRate:     10,
		MessageBurst:    20,
		Admins:          []string{"admin"},
	}
}

// IsAdmin reports whether nickname is in the configured admin list.
func (c *Config) IsAdmin(nickname string) bool {
	for _, a := range c.Admins {
		if a == nickname {
			return true
		}
	}
	return false
}
