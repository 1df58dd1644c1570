package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pdfchat/internal/config"
)

// New builds a logger writing to w. Format "json" emits one JSON object per line; anything else
// uses the human-readable console writer.
func New(cfg config.LogConfig, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := w
	if !strings.EqualFold(cfg.Format, "json") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Caller().Logger()
}

// Setup installs the process-wide logger used through github.com/rs/zerolog/log.
func Setup(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = New(cfg, os.Stdout)
}
