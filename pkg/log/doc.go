// Package log provides the structured logging facade used across spqs.
//
// The Logger interface exposes leveled methods that take Field values for
// structured context. It is backed by log/slog through a bridge handler that
// routes records into a Formatter and one or more Outputs.
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("priorityqueue"))
//	l.Info("message sent", log.Str("id", id), log.Int("priority", 0))
//
// ApplyConfig builds a logger from a declarative Config (level, text or json
// format, console/file/null outputs, redaction and sampling). RedirectStdLog
// routes the standard library logger, which Pebble writes to, into a Logger.
package log
