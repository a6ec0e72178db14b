package push

import (
	"github.com/go-stomp/stomp/v3"
	"github.com/rs/zerolog"
)

// stompLogger routes go-stomp's logging into zerolog.
type stompLogger struct {
	log zerolog.Logger
}

// StompLogger adapts l to the stomp.Logger interface.
func StompLogger(l zerolog.Logger) stomp.Logger {
	return stompLogger{log: l.With().Str("component", "stomp").Logger()}
}

func (s stompLogger) Debugf(format string, v ...interface{}) { s.log.Debug().Msgf(format, v...) }
func (s stompLogger) Infof(format string, v ...interface{})  { s.log.Info().Msgf(format, v...) }
func (s stompLogger) Warningf(format string, v ...interface{}) {
	s.log.Warn().Msgf(format, v...)
}
func (s stompLogger) Errorf(format string, v ...interface{}) { s.log.Error().Msgf(format, v...) }

func (s stompLogger) Debug(msg string)   { s.log.Debug().Msg(msg) }
func (s stompLogger) Info(msg string)    { s.log.Info().Msg(msg) }
func (s stompLogger) Warning(msg string) { s.log.Warn().Msg(msg) }
func (s stompLogger) Error(msg string)   { s.log.Error().Msg(msg) }
