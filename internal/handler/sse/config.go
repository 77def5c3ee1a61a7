package sse

import "time"

// Config holds configuration for SSE connections.
type Config struct {
	// KeepAliveInterval is how often comment pings are written to keep
	// intermediaries from timing out an idle stream.
	KeepAliveInterval time.Duration
}

// DefaultConfig returns the default SSE configuration. 10 seconds is safe
// for common proxies and edge runtimes.
func DefaultConfig() *Config {
	return &Config{KeepAliveInterval: 10 * time.Second}
}
