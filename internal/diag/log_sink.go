package diag

import (
	"context"

	"github.com/rzbill/flobus/pkg/log"
)

// LogSink writes events to a logger. Failures log at Warn/Error, routine
// transitions at Debug.
type LogSink struct {
	logger log.Logger
}

// NewLogSink returns a LogSink. A nil logger yields a default console logger.
func NewLogSink(logger log.Logger) *LogSink {
	if logger == nil {
		logger = log.NewLogger().With(log.Component("diag"))
	}
	return &LogSink{logger: logger}
}

// Emit implements Sink.
func (s *LogSink) Emit(_ context.Context, ev Event) {
	fields := make([]log.Field, 0, 8)
	fields = append(fields, log.Str("event", string(ev.Type)))
	if ev.Queue != "" {
		fields = append(fields, log.Str("queue", ev.Queue))
	}
	if ev.Consumer != "" {
		fields = append(fields, log.Str("consumer", ev.Consumer))
	}
	if ev.MessageID != "" {
		fields = append(fields, log.Str("message_id", ev.MessageID))
	}
	if ev.Attempts > 0 {
		fields = append(fields, log.Int("attempts", ev.Attempts))
	}
	if ev.Position != "" {
		fields = append(fields, log.Str("position", ev.Position))
	}
	if ev.Detail != "" {
		fields = append(fields, log.Str("detail", ev.Detail))
	}
	if ev.Err != nil {
		fields = append(fields, log.Err(ev.Err))
	}

	switch ev.Type {
	case StorageFailed, QueueInitFailed:
		s.logger.Error("diagnostic event", fields...)
	case HandlerFailed, MessageAbandoned, ConsumerHandlerFailed, ConsumerNotAcknowledged:
		s.logger.Warn("diagnostic event", fields...)
	case StorageOperation:
		// too chatty for any level above debug
		s.logger.Debug("diagnostic event", append(fields, log.Duration("elapsed", ev.Elapsed))...)
	default:
		s.logger.Debug("diagnostic event", fields...)
	}
}
