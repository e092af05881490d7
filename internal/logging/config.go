package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Config holds the configuration for the logger.
type Config struct {
	// Level is the minimum log level to output (DEBUG, INFO, WARN, ERROR, FATAL)
	Level string `env:"LEVEL" yaml:"level"`
	// Format is the output format (json, text)
	Format string `env:"FORMAT" yaml:"format"`
	// Output is the output destination (stdout, stderr, or file path)
	Output string `env:"OUTPUT" yaml:"output"`
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "json",
		Output: "stderr",
	}
}

// NewLogger creates a logger from cfg. The returned closer releases the
// output file, if any; it is never nil.
func NewLogger(cfg *Config) (*Logger, io.Closer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var text bool
	switch strings.ToLower(cfg.Format) {
	case "", "json":
	case "text":
		text = true
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	output, closer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, nil, err
	}

	logger := New(level, output)
	logger.text = text
	return logger, closer, nil
}

// ParseLevel converts a string log level to LogLevel. The empty string
// selects InfoLevel.
func ParseLevel(level string) (LogLevel, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DebugLevel, nil
	case "", "INFO":
		return InfoLevel, nil
	case "WARN", "WARNING":
		return WarnLevel, nil
	case "ERROR":
		return ErrorLevel, nil
	case "FATAL":
		return FatalLevel, nil
	}
	return "", fmt.Errorf("unknown log level %q", level)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openOutput returns an io.Writer for the given output destination.
func openOutput(output string) (io.Writer, io.Closer, error) {
	switch output {
	case "", "stderr":
		return os.Stderr, nopCloser{}, nil
	case "stdout":
		return os.Stdout, nopCloser{}, nil
	}
	file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output: %w", err)
	}
	return file, file, nil
}
