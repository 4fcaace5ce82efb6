package control

import "time"

// LogEvent carries an operator-facing log line to dashboards. Other event
// kinds (ticker, trade, pnl) are defined by their producers and share the
// `type` discriminator.
type LogEvent struct {
	Type    string `json:"type"`
	Level   string `json:"level"`
	Message string `json:"message"`
	TS      int64  `json:"timestamp"`
}

// NewLogEvent builds a log event stamped with the current time.
func NewLogEvent(level, message string) LogEvent {
	return LogEvent{
		Type:    "log",
		Level:   level,
		Message: message,
		TS:      time.Now().UnixMilli(),
	}
}
