// Package config holds the server-side configuration for the relay daemon.
package config

import (
	"os"
	"strconv"
	"time"
)

// RelayConfig holds the settings for the relay server process.
type RelayConfig struct {
	ListenAddr      string        // HTTP/WebSocket listen address, default ":8080"
	DataDir         string        // board persistence directory, default "./data"
	PingInterval    time.Duration // liveness probe interval, default 15s
	ReadBufferSize  int           // WebSocket read buffer, default 1024
	WriteBufferSize int           // WebSocket write buffer, default 1024
}

// DefaultConfig returns the default relay configuration.
func DefaultConfig() *RelayConfig {
	return &RelayConfig{
		ListenAddr:      ":8080",
		DataDir:         "./data",
		PingInterval:    15 * time.Second,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// FromEnv loads the relay configuration from environment variables, falling
// back to defaults for any missing values.
func FromEnv() *RelayConfig {
	cfg := DefaultConfig()

	if addr := os.Getenv("RELAY_LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	if dir := os.Getenv("RELAY_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if s := os.Getenv("RELAY_PING_INTERVAL_SECONDS"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			cfg.PingInterval = time.Duration(secs) * time.Second
		}
	}
	if s := os.Getenv("RELAY_READ_BUFFER_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			cfg.ReadBufferSize = n
		}
	}
	if s := os.Getenv("RELAY_WRITE_BUFFER_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			cfg.WriteBufferSize = n
		}
	}
	return cfg
}
