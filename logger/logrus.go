package logger

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/alexhholmes/gbptree"
)

const badKey = "!BADKEY"

// Logrus wraps a logrus.Logger to implement gbptree.Logger.
type Logrus struct {
	logger *logrus.Logger
}

// NewLogrus creates a gbptree.Logger from a logrus.Logger.
func NewLogrus(logger *logrus.Logger) gbptree.Logger {
	return &Logrus{logger: logger}
}

// Error logs an error message with key-value pairs.
func (l *Logrus) Error(msg string, args ...any) {
	l.logger.WithFields(argsToFields(args)).Error(msg)
}

// Warn logs a warning message with key-value pairs.
func (l *Logrus) Warn(msg string, args ...any) {
	l.logger.WithFields(argsToFields(args)).Warn(msg)
}

// Info logs an info message with key-value pairs.
func (l *Logrus) Info(msg string, args ...any) {
	l.logger.WithFields(argsToFields(args)).Info(msg)
}

// argsToFields pairs up args the way slog does: a non-string key is
// formatted and a trailing value without a key lands under badKey.
func argsToFields(args []any) logrus.Fields {
	fields := make(logrus.Fields, (len(args)+1)/2)
	for len(args) > 0 {
		if len(args) == 1 {
			fields[badKey] = args[0]
			break
		}
		key, ok := args[0].(string)
		if !ok {
			key = fmt.Sprint(args[0])
		}
		fields[key] = args[1]
		args = args[2:]
	}
	return fields
}
