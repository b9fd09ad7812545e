package logging

import (
	"io"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig configures rotating file output.
type FileConfig struct {
	// Path is the log file location. Empty disables file output.
	Path string `yaml:"path"`
	// MaxSizeMB rotates the file once it grows past this size (default: 100).
	MaxSizeMB int `yaml:"max_size_mb"`
	// MaxBackups is the number of rotated files kept (default: 5).
	MaxBackups int `yaml:"max_backups"`
	// MaxAgeDays removes rotated files older than this (0 keeps them).
	MaxAgeDays int `yaml:"max_age_days"`
	// Compress gzips rotated files.
	Compress bool `yaml:"compress"`
}

// NewRotatingWriter returns a writer that rotates cfg.Path by size.
func NewRotatingWriter(cfg FileConfig) io.WriteCloser {
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 100
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}
