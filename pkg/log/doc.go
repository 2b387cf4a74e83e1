// Package log is the structured logger used across flobus.
//
// Components take a Logger and attach context with Field values:
//
//	l := log.NewLogger(log.WithLevel(log.InfoLevel), log.WithFormatter(&log.JSONFormatter{}))
//	l = l.With(log.Component("queue"), log.Str("queue", "orders"))
//	l.Warn("handler failed", log.Str("message_id", id), log.Err(err))
//
// Records flow through log/slog into a bridge handler that applies redaction
// and sampling, formats the entry as text or JSON and writes it to every
// configured output (console, file, null, any io.Writer).
//
// ApplyConfig builds a Logger from a Config, the form used by the flobus
// config file. RedirectStdLog and ToStdLogger route the standard library
// logger into the same pipeline.
package log
