// Package config provides property-based tests for configuration fallback.
// Invalid values in a config file must never leave the service with a zero
// interval or an empty buffer.
package config

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_InvalidIntervalsFallBackToDefault checks that non-positive
// durations are always replaced by the defaults.
func TestProperty_InvalidIntervalsFallBackToDefault(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)
	defaults := Default()

	properties.Property("non-positive poll interval falls back to default", prop.ForAll(
		func(ms int) bool {
			cfg := Default()
			cfg.Queue.PollInterval = time.Duration(ms) * time.Millisecond
			validateAndApplyDefaults(cfg)
			return cfg.Queue.PollInterval == defaults.Queue.PollInterval
		},
		gen.IntRange(-10000, 0),
	))

	properties.Property("non-positive ping interval falls back to default", prop.ForAll(
		func(sec int) bool {
			cfg := Default()
			cfg.WebSocket.PingInterval = time.Duration(sec) * time.Second
			validateAndApplyDefaults(cfg)
			return cfg.WebSocket.PingInterval == defaults.WebSocket.PingInterval
		},
		gen.IntRange(-1000, 0),
	))

	properties.Property("valid intervals are preserved", prop.ForAll(
		func(ms int) bool {
			cfg := Default()
			cfg.Queue.PauseCheckInterval = time.Duration(ms) * time.Millisecond
			validateAndApplyDefaults(cfg)
			return cfg.Queue.PauseCheckInterval == time.Duration(ms)*time.Millisecond
		},
		gen.IntRange(1, 60000),
	))

	properties.TestingRun(t)
}

// TestProperty_InvalidSizesFallBackToDefault checks buffer sizes and attempts.
func TestProperty_InvalidSizesFallBackToDefault(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)
	defaults := Default()

	properties.Property("non-positive event buffer falls back to default", prop.ForAll(
		func(n int) bool {
			cfg := Default()
			cfg.WebSocket.EventBufferSize = n
			validateAndApplyDefaults(cfg)
			return cfg.WebSocket.EventBufferSize == defaults.WebSocket.EventBufferSize
		},
		gen.IntRange(-500, 0),
	))

	properties.Property("out of range port falls back to default", prop.ForAll(
		func(port int) bool {
			cfg := Default()
			cfg.Server.Port = port
			validateAndApplyDefaults(cfg)
			return cfg.Server.Port == defaults.Server.Port
		},
		gen.OneGenOf(gen.IntRange(-1000, 0), gen.IntRange(65536, 100000)),
	))

	properties.TestingRun(t)
}
