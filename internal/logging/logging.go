// Package logging provides structured logging infrastructure for vbcompress,
// backed by zerolog.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// Level aliases for zerolog levels.
const (
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

// CompressionLogName is the run-level log file name written inside the
// output tree root.
const CompressionLogName = "compression.log"

// Logger wraps zerolog.Logger with vbcompress-specific setup.
type Logger struct {
	zerolog.Logger
	file *os.File
}

// Config contains logger configuration options.
type Config struct {
	Level   zerolog.Level
	Output  io.Writer
	Enabled bool
}

// DefaultConfig returns a default logger configuration writing to stderr.
func DefaultConfig() Config {
	return Config{
		Level:   LevelInfo,
		Output:  os.Stderr,
		Enabled: true,
	}
}

// New creates a new logger with the given configuration.
func New(cfg Config) *Logger {
	if !cfg.Enabled {
		return &Logger{Logger: zerolog.New(io.Discard)}
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	return &Logger{
		Logger: zerolog.New(output).Level(cfg.Level).With().Timestamp().Logger(),
	}
}

// Setup creates a logger that writes to the run-level compression.log file
// inside outRoot, plus a console sink on stderr. Returns nil if logging
// is disabled (noLog=true).
func Setup(outRoot string, verbose, noLog bool) (*Logger, error) {
	if noLog {
		return nil, nil
	}

	if err := os.MkdirAll(outRoot, 0o755); err != nil {
		return nil, err
	}

	filePath := filepath.Join(outRoot, CompressionLogName)
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	level := LevelInfo
	if verbose {
		level = LevelDebug
	}

	writer := io.MultiWriter(file, zerolog.ConsoleWriter{Out: os.Stderr})
	l := &Logger{
		Logger: zerolog.New(writer).Level(level).With().Timestamp().Logger(),
		file:   file,
	}

	l.Info().Str("log_file", filePath).Msg("vbcompress starting")
	return l, nil
}

// Close closes the underlying log file, if any.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// WithComponent returns a child logger tagging all records with the given
// component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With().Str("component", name).Logger(), file: l.file}
}

// Global logger instance.
var (
	globalLogger     *Logger
	globalLoggerOnce sync.Once
	globalMu         sync.RWMutex
)

// Global returns the global logger instance.
func Global() *Logger {
	globalLoggerOnce.Do(func() {
		globalMu.Lock()
		globalLogger = New(DefaultConfig())
		globalMu.Unlock()
	})
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// SetGlobal sets the global logger instance.
func SetGlobal(logger *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}
