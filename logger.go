package gbptree

import "log/slog"

// Logger receives the tree's lifecycle, recovery and checkpoint events as a
// message plus alternating key-value pairs. *slog.Logger satisfies it, and
// package logger adapts zap and logrus.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

var _ Logger = (*slog.Logger)(nil)

// DiscardLogger drops every event. It is the default.
type DiscardLogger struct{}

func (DiscardLogger) Error(string, ...any) {}
func (DiscardLogger) Warn(string, ...any)  {}
func (DiscardLogger) Info(string, ...any)  {}
