package logging

import (
	"context"
)

// Logger is the leveled, structured logger the SLAM service writes through. The `w` variants take
// alternating keys and values. It satisfies `utils.ILogger`, so it can be handed to
// `utils.ContextualMain`.
type Logger interface {
	Debug(args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	// CDebugw logs at debug level, or regardless of level when ctx carries a debug key. The key is
	// attached to the entry.
	CDebugw(ctx context.Context, msg string, keysAndValues ...interface{})

	Info(args ...interface{})
	Infow(msg string, keysAndValues ...interface{})

	Warn(args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})

	Error(args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// Fatal logs at error level and exits the process.
	Fatal(args ...interface{})

	SetLevel(level Level)
	GetLevel() Level

	// Sublogger returns a logger named "<name>.<subname>" that starts at this logger's level.
	Sublogger(subname string) Logger
	// With returns a logger that attaches the given fields to every entry. It shares this
	// logger's name, level and appenders.
	With(keysAndValues ...interface{}) Logger
	AddAppender(appender Appender)
}
