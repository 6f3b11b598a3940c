package logging

import (
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Default file writer configuration values
const (
	// DefaultMaxSizeMB is the maximum size in megabytes before rotation
	DefaultMaxSizeMB = 100

	// DefaultMaxBackups is the number of old log files to retain
	DefaultMaxBackups = 5

	// DefaultMaxAgeDays is the maximum number of days to retain old log files
	DefaultMaxAgeDays = 30

	// DefaultCompress enables gzip compression of rotated files
	DefaultCompress = true
)

// FileWriterConfig holds configuration for the file writer with rotation.
// All fields are optional - zero values will use defaults.
type FileWriterConfig struct {
	// MaxSizeMB is the maximum size in megabytes of the log file before
	// rotation. Default: 100 MB
	MaxSizeMB int

	// MaxBackups is the maximum number of old log files to retain.
	// Default: 5 files
	MaxBackups int

	// MaxAgeDays is the maximum number of days to retain old log files.
	// Older files are deleted during rotation. Default: 30 days
	MaxAgeDays int

	// Compress determines if rotated log files should be gzip-compressed.
	// Default: true
	Compress bool

	// LocalTime determines if the timestamps in backup file names use
	// local time. Default: false (uses UTC)
	LocalTime bool
}

// DefaultFileWriterConfig returns a FileWriterConfig with default values.
func DefaultFileWriterConfig() FileWriterConfig {
	return FileWriterConfig{
		MaxSizeMB:  DefaultMaxSizeMB,
		MaxBackups: DefaultMaxBackups,
		MaxAgeDays: DefaultMaxAgeDays,
		Compress:   DefaultCompress,
		LocalTime:  false,
	}
}

// NewFileWriter creates a zapcore.WriteSyncer that writes to a file with
// automatic rotation using the default configuration.
//
// Example:
//
//	writer := NewFileWriter("/var/log/remix.log")
//	core := zapcore.NewCore(encoder, writer, level)
func NewFileWriter(path string) zapcore.WriteSyncer {
	return NewFileWriterWithConfig(path, DefaultFileWriterConfig())
}

// NewFileWriterWithConfig creates a zapcore.WriteSyncer with custom rotation
// configuration. Zero-value fields fall back to defaults.
func NewFileWriterWithConfig(path string, config FileWriterConfig) zapcore.WriteSyncer {
	cfg := applyFileWriterDefaults(config)

	logger := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
		LocalTime:  cfg.LocalTime,
	}

	return zapcore.AddSync(logger)
}

// applyFileWriterDefaults fills in zero values with defaults.
func applyFileWriterDefaults(config FileWriterConfig) FileWriterConfig {
	result := config

	if result.MaxSizeMB == 0 {
		result.MaxSizeMB = DefaultMaxSizeMB
	}
	if result.MaxBackups == 0 {
		result.MaxBackups = DefaultMaxBackups
	}
	if result.MaxAgeDays == 0 {
		result.MaxAgeDays = DefaultMaxAgeDays
	}
	// Compress defaults to true only through DefaultFileWriterConfig;
	// a zero-value struct cannot distinguish "unset" from "false".

	return result
}
