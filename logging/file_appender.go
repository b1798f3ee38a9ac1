package logging

import (
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileAppender writes console-formatted log lines to a file that is rotated once it grows past
// MaxSizeMB. Rotated files are gzipped and at most MaxBackups of them are kept.
type FileAppender struct {
	ConsoleAppender
	file *lumberjack.Logger
}

// Defaults for NewFileAppender.
const (
	DefaultLogFileMaxSizeMB  = 100
	DefaultLogFileMaxBackups = 3
)

// NewFileAppender returns an appender writing to filename.
func NewFileAppender(filename string) *FileAppender {
	file := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    DefaultLogFileMaxSizeMB,
		MaxBackups: DefaultLogFileMaxBackups,
		Compress:   true,
	}
	return &FileAppender{ConsoleAppender: NewWriterAppender(file), file: file}
}

// Close closes the current log file.
func (fa *FileAppender) Close() error {
	return fa.file.Close()
}
