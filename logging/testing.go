package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

// testAppender writes through `tb.Log` so each line stays with the test that produced it.
type testAppender struct {
	tb testing.TB
}

// NewTestAppender returns an appender that logs to tb in the console line format.
func NewTestAppender(tb testing.TB) Appender {
	return testAppender{tb}
}

func (tapp testAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	tapp.tb.Helper()
	line, err := formatLine(entry, fields)
	tapp.tb.Log(line)
	return err
}

func (tapp testAppender) Sync() error {
	return nil
}
