package pipeline

import (
	"go.uber.org/zap"
)

// Event is a terminal state change emitted to the notification sink.
type Event struct {
	Type         string `json:"type"` // e.g. "signal.executed", "trade.filled", "position.closed"
	UserID       string `json:"user_id"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Detail       string `json:"detail,omitempty"`
}

// EventSink receives terminal state-change events. Delivery is
// fire-and-forget; the engine never blocks on or inspects the outcome.
type EventSink interface {
	Emit(event Event)
}

// LogSink is the default sink, writing events to the operator log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log-backed event sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("events")}
}

// Emit writes the event at info level.
func (s *LogSink) Emit(event Event) {
	s.logger.Info("Event emitted",
		zap.String("type", event.Type),
		zap.String("user_id", event.UserID),
		zap.String("resource_type", event.ResourceType),
		zap.String("resource_id", event.ResourceID),
		zap.String("detail", event.Detail),
	)
}
