package wameow

import (
	"fmt"

	"github.com/rs/zerolog"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// waLogger bridges whatsmeow's logger interface onto zerolog.
type waLogger struct {
	log zerolog.Logger
}

var _ waLog.Logger = waLogger{}

func newWALogger(log zerolog.Logger) waLogger {
	return waLogger{log: log.With().Str("component", "wameow").Logger()}
}

func (l waLogger) Errorf(msg string, args ...interface{}) {
	l.log.Error().Msg(fmt.Sprintf(msg, args...))
}

func (l waLogger) Warnf(msg string, args ...interface{}) {
	l.log.Warn().Msg(fmt.Sprintf(msg, args...))
}

func (l waLogger) Infof(msg string, args ...interface{}) {
	l.log.Info().Msg(fmt.Sprintf(msg, args...))
}

func (l waLogger) Debugf(msg string, args ...interface{}) {
	l.log.Debug().Msg(fmt.Sprintf(msg, args...))
}

func (l waLogger) Sub(module string) waLog.Logger {
	return waLogger{log: l.log.With().Str("sub", module).Logger()}
}
