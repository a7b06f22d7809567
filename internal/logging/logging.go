package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global zerolog logger.
// console selects the human-readable writer, otherwise output is structured JSON.
func Setup(console bool, level string) {
	SetupWriter(os.Stdout, console, level)
}

// SetupWriter is Setup with an explicit output
func SetupWriter(out io.Writer, console bool, level string) {
	zerolog.TimeFieldFormat = time.RFC3339

	if console {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	}

	lvl := zerolog.InfoLevel
	if level != "" {
		if parsed, err := zerolog.ParseLevel(level); err == nil {
			lvl = parsed
		}
	}
	zerolog.SetGlobalLevel(lvl)
}
