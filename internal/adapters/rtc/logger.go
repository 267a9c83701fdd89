package rtc

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LoggerFactory routes pion's internal logging through Base. Events below
// Min are dropped.
type LoggerFactory struct {
	Base zerolog.Logger
	Min  zerolog.Level
}

func NewLoggerFactory() *LoggerFactory {
	return &LoggerFactory{Base: log.Logger, Min: zerolog.WarnLevel}
}

func (f *LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	l := f.Base.With().Str("module", "pion").Str("scope", scope).Logger().Level(f.Min)
	return &leveled{l: l}
}

type leveled struct {
	l zerolog.Logger
}

func (z *leveled) Trace(msg string) { z.l.Trace().Msg(msg) }
func (z *leveled) Debug(msg string) { z.l.Debug().Msg(msg) }
func (z *leveled) Info(msg string)  { z.l.Info().Msg(msg) }
func (z *leveled) Warn(msg string)  { z.l.Warn().Msg(msg) }
func (z *leveled) Error(msg string) { z.l.Error().Msg(msg) }

func (z *leveled) Tracef(format string, args ...any) { z.l.Trace().Msgf(format, args...) }
func (z *leveled) Debugf(format string, args ...any) { z.l.Debug().Msgf(format, args...) }
func (z *leveled) Infof(format string, args ...any)  { z.l.Info().Msgf(format, args...) }
func (z *leveled) Warnf(format string, args ...any)  { z.l.Warn().Msgf(format, args...) }
func (z *leveled) Errorf(format string, args ...any) { z.l.Error().Msgf(format, args...) }
