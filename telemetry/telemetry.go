// Package telemetry defines the logging and metrics seams used across the
// runtime, with implementations backed by goa.design/clue/log and OpenTelemetry
// metrics plus no-op variants for tests.
package telemetry

import (
	"context"
	"time"
)

type (
	// Logger emits structured log messages with alternating key/value pairs.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters and timers for run-level instrumentation. Tags
	// are alternating key/value strings.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
	}
)
