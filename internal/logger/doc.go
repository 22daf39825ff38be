// Package logger provides levelled, thread-safe logging for the runtime.
//
// The logger is a thin wrapper over logrus that keeps a printf-style API
// with an optional worker ID, so call sites stay short:
//
//	logger.Info("", "Pool started with %d workers", n)
//	logger.Info("worker-3", "Bootstrap complete")
//	logger.Error("worker-3", "Instantiate failed: %v", err)
//
// When a worker ID is given it is attached as the structured field
// "worker". Creating a custom logger:
//
//	l := logger.New(os.Stderr, logger.LevelDebug)
//	l.Debug("worker-0", "Dispatching %s", d)
//
// # Log Levels
//
// Messages below the configured level are filtered:
//   - LevelDebug: all messages
//   - LevelInfo: Info, Warn, Error
//   - LevelWarn: Warn, Error
//   - LevelError: Error only
//
// ParseLevel converts configuration strings ("debug", "info", ...) into a
// Level.
package logger
