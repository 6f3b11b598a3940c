package logging

import (
	"os"

	"go.uber.org/zap/zapcore"
)

// NewMultiCore creates a zapcore.Core that tees output to both console and
// file. The file output always uses JSON encoding for structured log
// processing; the console uses a colored human-readable format in
// development mode and JSON in production.
//
// Parameters:
//   - level: The minimum log level for both outputs
//   - filePath: Path to the log file (created/appended as needed)
//   - isDev: When true, console uses human-readable format
//
// Example:
//
//	core, err := NewMultiCore(zapcore.InfoLevel, "remix.log", true)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	logger := zap.New(core)
func NewMultiCore(level zapcore.Level, filePath string, isDev bool) (zapcore.Core, error) {
	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	fileEncoder := zapcore.NewJSONEncoder(NewEncoderConfig())
	fileCore := zapcore.NewCore(
		fileEncoder,
		zapcore.AddSync(file),
		level,
	)

	var consoleEncoder zapcore.Encoder
	if isDev {
		consoleEncoder = zapcore.NewConsoleEncoder(NewConsoleEncoderConfig())
	} else {
		consoleEncoder = zapcore.NewJSONEncoder(NewEncoderConfig())
	}

	consoleCore := zapcore.NewCore(
		consoleEncoder,
		zapcore.AddSync(os.Stdout),
		level,
	)

	return zapcore.NewTee(consoleCore, fileCore), nil
}

// NewMultiCoreWithWriters creates a zapcore.Core that tees output to the
// provided writers. Useful for testing or special output destinations.
//
// Example:
//
//	var buf zaptest.Buffer
//	core := NewMultiCoreWithWriters(zapcore.DebugLevel, os.Stdout, &buf, true)
//	logger := zap.New(core)
func NewMultiCoreWithWriters(level zapcore.Level, consoleWriter, fileWriter zapcore.WriteSyncer, isDev bool) zapcore.Core {
	fileEncoder := zapcore.NewJSONEncoder(NewEncoderConfig())
	fileCore := zapcore.NewCore(
		fileEncoder,
		fileWriter,
		level,
	)

	var consoleEncoder zapcore.Encoder
	if isDev {
		consoleEncoder = zapcore.NewConsoleEncoder(NewConsoleEncoderConfig())
	} else {
		consoleEncoder = zapcore.NewJSONEncoder(NewEncoderConfig())
	}

	consoleCore := zapcore.NewCore(
		consoleEncoder,
		consoleWriter,
		level,
	)

	return zapcore.NewTee(consoleCore, fileCore)
}
