package logging

import (
	"io"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"

	"github.com/VeselaHouba/Home-assistant-Solax-cloud/internal/config"
)

// New returns a colored console logger in dev and a JSON logger otherwise
func New(w io.Writer, cfg config.Config, version string) *slog.Logger {
	if cfg.AppEnv == "dev" {
		h := tint.NewHandler(w, &tint.Options{
			Level:      cfg.LogLevel,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})
		return slog.New(h)
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})
	return slog.New(h).With(
		"app", "solaxcloud",
		"version", version,
		"sn", cfg.SerialNumber,
	)
}
