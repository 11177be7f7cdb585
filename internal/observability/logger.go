package observability

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// NewLogger builds the process-wide zerolog.Logger, switching between a
// human-readable console writer on a TTY and structured JSON otherwise —
// the same split cmd/cryptorun/main.go makes in the teacher repo.
func NewLogger(level string, component string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	var writer = os.Stderr
	var output zerolog.ConsoleWriter
	if term.IsTerminal(int(writer.Fd())) {
		output = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}
		logger := zerolog.New(output).With().Timestamp().Str("component", component).Logger()
		return withLevel(logger, level)
	}

	logger := zerolog.New(writer).With().Timestamp().Str("component", component).Logger()
	return withLevel(logger, level)
}

func withLevel(logger zerolog.Logger, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}
