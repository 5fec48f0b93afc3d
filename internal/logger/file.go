package logger

import (
	"io"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig configures the optional rotating log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Output returns stderr, teed into a rotating file when a path is configured.
// The returned closer must be called on shutdown.
func Output(cfg FileConfig) (io.Writer, func() error) {
	if cfg.Path == "" {
		return os.Stderr, func() error { return nil }
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}

	return io.MultiWriter(os.Stderr, rotator), rotator.Close
}
