// Package config loads the playback controller's tunables from the
// environment, following the same envOr-with-defaults idiom
// cmd/prism/main.go uses for its listen addresses.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries the design-tunable knobs of spec.md §6.
type Config struct {
	// PreBufferDuration is the minimum stored duration every initialized
	// stream must reach before Prepare/Seek/Reconfigure proceed past
	// prebuffering.
	PreBufferDuration time.Duration
	// ClockPollInterval is the sleep between successive native
	// GetPlayingTime reads while the clock generator is running.
	ClockPollInterval time.Duration
	// BufferEventInterval is loaded and defaulted like the other knobs,
	// but no component reads it: StreamBuffer computes DataRequest hints
	// only when GetDataRequest is called and publishes none on a timer.
	BufferEventInterval time.Duration
	// TargetBufferDepth is the buffer depth StreamBuffer aims to reach
	// before it stops requesting more data.
	TargetBufferDepth time.Duration

	// MetricsAddr is where cmd/esctl-demo exposes /metrics.
	MetricsAddr string
	// LogLevel is one of debug|info|warn|error.
	LogLevel string
}

// Default returns the spec's default tunables (spec.md §6).
func Default() Config {
	return Config{
		PreBufferDuration:   2 * time.Second,
		ClockPollInterval:   500 * time.Millisecond,
		BufferEventInterval: 1 * time.Second,
		TargetBufferDepth:   10 * time.Second,
		MetricsAddr:         ":9464",
		LogLevel:            "info",
	}
}

// FromEnv returns Default() overridden by any of the ESCTL_* environment
// variables that are set: ESCTL_PREBUFFER_MS, ESCTL_CLOCK_POLL_MS,
// ESCTL_BUFFER_EVENT_MS, ESCTL_TARGET_BUFFER_MS, ESCTL_METRICS_ADDR,
// ESCTL_LOG_LEVEL.
func FromEnv() Config {
	c := Default()
	c.PreBufferDuration = durationMsEnv("ESCTL_PREBUFFER_MS", c.PreBufferDuration)
	c.ClockPollInterval = durationMsEnv("ESCTL_CLOCK_POLL_MS", c.ClockPollInterval)
	c.BufferEventInterval = durationMsEnv("ESCTL_BUFFER_EVENT_MS", c.BufferEventInterval)
	c.TargetBufferDepth = durationMsEnv("ESCTL_TARGET_BUFFER_MS", c.TargetBufferDepth)
	c.MetricsAddr = envOr("ESCTL_METRICS_ADDR", c.MetricsAddr)
	c.LogLevel = envOr("ESCTL_LOG_LEVEL", c.LogLevel)
	return c
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationMsEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
