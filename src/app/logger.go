package app

import (
	"os"

	"github.com/rs/zerolog"
)

// InitLogger configures the process-wide logger. Every line carries the
// service name so paymaster logs stay distinguishable when aggregated
// alongside bundler and indexer output.
func InitLogger(levelStr string) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		NoColor:    false,
		TimeFormat: "2006-01-02 15:04:05.000",
	}

	return zerolog.New(output).With().
		Timestamp().
		Str("service", "aa-paymaster").
		Logger()
}
