// Package logx provides structured logging for the daemon.
//
// It wraps zerolog behind a small, stable API:
//
//   - Logger is a value type; the zero value is a safe no-op.
//   - Field helpers (String, Int, Err, ...) mirror slog.Attr ergonomics.
//   - Service owns the sinks (console, optional JSON file) and supports
//     hot-reloading level/output config via Apply() without invalidating
//     previously handed-out Loggers.
package logx
