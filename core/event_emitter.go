package orchestration

import (
	"context"
	"log/slog"

	"github.com/koscakluka/ema-support/core/events"
)

type eventEmitter func(events.Event)

func noopEventEmitter(events.Event) {}

// newLoggingEventEmitter forwards every event to next after recording it at
// debug level. A panicking handler is logged and otherwise ignored so that
// embedder code cannot take a session worker down.
func newLoggingEventEmitter(logger *slog.Logger, next eventEmitter) eventEmitter {
	if next == nil {
		next = noopEventEmitter
	}
	return func(event events.Event) {
		logger.Log(context.Background(), slog.LevelDebug, "call event",
			"kind", string(event.Kind()),
			"call_id", event.CallID().String())

		defer func() {
			if recovered := recover(); recovered != nil {
				logger.Error("event handler panicked", "kind", string(event.Kind()), "panic", recovered)
			}
		}()
		next(event)
	}
}
