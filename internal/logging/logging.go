// Package logging owns the shared process logger.
package logging

import (
	"os"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/charmbracelet/log"
)

// Logger is the process-wide logger. Level comes from CROSSPOST_LOG_LEVEL.
var Logger = newLogger()

// Init re-reads CROSSPOST_LOG_LEVEL and applies it. main calls this
// after .env loading, which runs later than this package's init.
func Init() {
	Logger.SetLevel(levelFromEnv())
}

type envSettings struct {
	Level string `env:"CROSSPOST_LOG_LEVEL" envDefault:"info"`
}

func levelFromEnv() log.Level {
	var settings envSettings
	_ = env.Parse(&settings)

	level, err := log.ParseLevel(settings.Level)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

func newLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           levelFromEnv(),
	})
}
