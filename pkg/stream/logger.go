package stream

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// zerologWatermill adapts a zerolog logger to watermill's LoggerAdapter so
// transport internals log through the same sink as everything else.
type zerologWatermill struct {
	logger zerolog.Logger
}

func NewWatermillLogger(logger zerolog.Logger) watermill.LoggerAdapter {
	return &zerologWatermill{logger: logger}
}

func (l *zerologWatermill) Error(msg string, err error, fields watermill.LogFields) {
	l.logger.Error().Err(err).Fields(map[string]any(fields)).Msg(msg)
}

func (l *zerologWatermill) Info(msg string, fields watermill.LogFields) {
	l.logger.Info().Fields(map[string]any(fields)).Msg(msg)
}

func (l *zerologWatermill) Debug(msg string, fields watermill.LogFields) {
	l.logger.Debug().Fields(map[string]any(fields)).Msg(msg)
}

func (l *zerologWatermill) Trace(msg string, fields watermill.LogFields) {
	l.logger.Trace().Fields(map[string]any(fields)).Msg(msg)
}

func (l *zerologWatermill) With(fields watermill.LogFields) watermill.LoggerAdapter {
	sub := l.logger.With().Fields(map[string]any(fields)).Logger()
	return &zerologWatermill{logger: sub}
}
