package logx

import (
	"github.com/rs/zerolog"
)

// CronLogger adapts a zerolog logger to robfig/cron's Logger interface.
type CronLogger struct {
	L zerolog.Logger
}

// Info logs routine cron messages at debug level.
func (c CronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.L.Debug().Fields(pairs(keysAndValues)).Msg(msg)
}

// Error logs cron failures, including recovered panics.
func (c CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.L.Error().Err(err).Fields(pairs(keysAndValues)).Msg(msg)
}

func pairs(kv []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		out[key] = kv[i+1]
	}
	return out
}
