package webmonitor

import (
	"time"

	"github.com/dj-oyu/facemask-monitor/dashboard/internal/config"
)

// Config defines the runtime configuration for the display API server.
type Config struct {
	Addr string
	// KeepAlive is the idle gap after which SSE streams send a comment line.
	KeepAlive time.Duration
}

// DefaultConfig returns the display API defaults.
func DefaultConfig() Config {
	return Config{
		Addr:      ":8090",
		KeepAlive: 30 * time.Second,
	}
}

// ConfigFrom copies the server section of the file configuration.
func ConfigFrom(cfg config.ServerConfig) Config {
	c := DefaultConfig()
	if cfg.Addr != "" {
		c.Addr = cfg.Addr
	}
	if cfg.KeepAlive > 0 {
		c.KeepAlive = cfg.KeepAlive
	}
	return c
}
