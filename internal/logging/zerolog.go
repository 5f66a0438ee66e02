// Package logging configures the process-wide zerolog logger shared by the
// sensor, the subscriber and the dashboard.
package logging

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init writes JSON logs to stdout at the given level ("" means info).
func Init(level string) error {
	return initTo(os.Stdout, level)
}

func initTo(w io.Writer, level string) error {
	if level == "" {
		level = zerolog.LevelInfoValue
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return fmt.Errorf("logging: level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(w).With().Timestamp().Logger()

	// paho and net/http report through the standard logger
	stdlog.SetFlags(0)
	stdlog.SetOutput(log.Logger)
	return nil
}
