package scheduler

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// cronLogger routes cron's own logging through zerolog. Cron reports every
// wake-up at info level, so that goes to debug here.
type cronLogger struct{}

var _ cron.Logger = cronLogger{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Str("component", "cron").Fields(keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Str("component", "cron").Fields(keysAndValues).Msg(msg)
}
