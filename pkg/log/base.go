package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

func (l *BaseLogger) handler() slog.Handler {
	var h slog.Handler = newBridgeHandler(l).withRedactions(l.redact).withSampler(l.sampleInitial, l.sampleThereafter)
	if attrs := attrsFromMap(l.fields); len(attrs) > 0 {
		h = h.WithAttrs(attrs)
	}
	return h
}

func (l *BaseLogger) clone(extra Fields) *BaseLogger {
	fields := make(Fields, len(l.fields)+len(extra))
	for k, v := range l.fields {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}
	nl := &BaseLogger{
		level:            l.level,
		fields:           fields,
		formatter:        l.formatter,
		outputs:          l.outputs,
		redact:           l.redact,
		sampleInitial:    l.sampleInitial,
		sampleThereafter: l.sampleThereafter,
	}
	nl.slogLogger = slog.New(nl.handler())
	return nl
}

func (l *BaseLogger) log(level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}
	l.slogLogger.LogAttrs(context.Background(), toSlogLevel(level), msg, attrsFromFieldSlice(fields)...)
}

func (l *BaseLogger) logf(level Level, msg string, args []interface{}) {
	if level < l.level {
		return
	}
	l.slogLogger.LogAttrs(context.Background(), toSlogLevel(level), msg, argsToAttrs(args)...)
}

// Debug logs at DebugLevel.
func (l *BaseLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields) }

// Info logs at InfoLevel.
func (l *BaseLogger) Info(msg string, fields ...Field) { l.log(InfoLevel, msg, fields) }

// Warn logs at WarnLevel.
func (l *BaseLogger) Warn(msg string, fields ...Field) { l.log(WarnLevel, msg, fields) }

// Error logs at ErrorLevel.
func (l *BaseLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields) }

// Fatal logs at FatalLevel and exits the process.
func (l *BaseLogger) Fatal(msg string, fields ...Field) {
	l.log(FatalLevel, msg, fields)
	l.closeOutputs()
	os.Exit(1)
}

// Debugf logs key-value pairs at DebugLevel.
func (l *BaseLogger) Debugf(msg string, args ...interface{}) { l.logf(DebugLevel, msg, args) }

// Infof logs key-value pairs at InfoLevel.
func (l *BaseLogger) Infof(msg string, args ...interface{}) { l.logf(InfoLevel, msg, args) }

// Warnf logs key-value pairs at WarnLevel.
func (l *BaseLogger) Warnf(msg string, args ...interface{}) { l.logf(WarnLevel, msg, args) }

// Errorf logs key-value pairs at ErrorLevel.
func (l *BaseLogger) Errorf(msg string, args ...interface{}) { l.logf(ErrorLevel, msg, args) }

// Fatalf logs key-value pairs at FatalLevel and exits the process.
func (l *BaseLogger) Fatalf(msg string, args ...interface{}) {
	l.logf(FatalLevel, msg, args)
	l.closeOutputs()
	os.Exit(1)
}

// WithField returns a child logger with one extra field.
func (l *BaseLogger) WithField(key string, value interface{}) Logger {
	return l.clone(Fields{key: value})
}

// WithFields returns a child logger with extra fields.
func (l *BaseLogger) WithFields(fields Fields) Logger {
	return l.clone(fields)
}

// WithError returns a child logger carrying err under the "error" key.
func (l *BaseLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return l.clone(Fields{ErrorKey: err.Error()})
}

// With returns a child logger with the given fields attached.
func (l *BaseLogger) With(fields ...Field) Logger {
	extra := make(Fields, len(fields))
	for _, f := range fields {
		extra[f.Key] = f.Value
	}
	return l.clone(extra)
}

// WithContext copies well-known request values from ctx into the logger.
func (l *BaseLogger) WithContext(ctx context.Context) Logger {
	fields := ContextExtractor(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.clone(fields)
}

// WithComponent tags logs with a component name.
func (l *BaseLogger) WithComponent(component string) Logger {
	return l.clone(Fields{ComponentKey: component})
}

// SetLevel sets the minimum log level.
func (l *BaseLogger) SetLevel(level Level) { l.level = level }

// GetLevel returns the current minimum log level.
func (l *BaseLogger) GetLevel() Level { return l.level }

func (l *BaseLogger) closeOutputs() {
	for _, out := range l.outputs {
		if err := out.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "log: close output: %v\n", err)
		}
	}
}
