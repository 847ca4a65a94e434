package observability

import (
	"log/slog"

	"custodia/core/events"
)

// LoggingEmitter mirrors every core event to the structured logger and
// the event counter. It wraps an optional downstream emitter so event
// fan-out stays composable.
type LoggingEmitter struct {
	logger *slog.Logger
	next   events.Emitter
}

// NewLoggingEmitter builds an emitter that logs through logger and then
// forwards to next (which may be nil).
func NewLoggingEmitter(logger *slog.Logger, next events.Emitter) *LoggingEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingEmitter{logger: logger, next: next}
}

// Emit implements the events.Emitter interface.
func (l *LoggingEmitter) Emit(evt events.Event) {
	if l == nil || evt == nil {
		return
	}
	EventCounter().WithLabelValues(evt.EventType()).Inc()
	l.logger.Info("event emitted",
		slog.String("type", evt.EventType()),
		slog.Any("event", evt),
	)
	if l.next != nil {
		l.next.Emit(evt)
	}
}
