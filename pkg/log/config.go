package log

import (
	"fmt"
	"log/slog"
	"strings"
)

// Config declares how a logger is built.
type Config struct {
	// Level is debug, info, warn or error.
	Level string `json:"level" yaml:"level"`
	// Format is text or json.
	Format string `json:"format" yaml:"format"`
	// Outputs lists console, null or file. Defaults to console.
	Outputs []string `json:"outputs" yaml:"outputs"`
	// File is the path used by the file output.
	File string `json:"file" yaml:"file"`
	// Redact replaces the values of these keys with [REDACTED].
	Redact []string `json:"redact" yaml:"redact"`
	// SampleInitial and SampleThereafter enable per-message sampling.
	SampleInitial    int `json:"sampleInitial" yaml:"sampleInitial"`
	SampleThereafter int `json:"sampleThereafter" yaml:"sampleThereafter"`
}

// ApplyConfig builds a Logger from cfg.
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := []LoggerOption{WithLevel(level)}
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "text":
		opts = append(opts, WithFormatter(&TextFormatter{}))
	case "json":
		opts = append(opts, WithFormatter(&JSONFormatter{}))
	default:
		return nil, fmt.Errorf("log: unknown format %q", cfg.Format)
	}
	for _, name := range cfg.Outputs {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "console", "stderr":
			opts = append(opts, WithOutput(NewConsoleOutput()))
		case "null":
			opts = append(opts, WithOutput(NullOutput{}))
		case "file":
			if cfg.File == "" {
				return nil, fmt.Errorf("log: file output requires a path")
			}
			out, err := NewFileOutput(cfg.File)
			if err != nil {
				return nil, err
			}
			opts = append(opts, WithOutput(out))
		default:
			return nil, fmt.Errorf("log: unknown output %q", name)
		}
	}
	logger := NewLogger(opts...).(*BaseLogger)
	h := newBridgeHandler(logger).withRedactions(cfg.Redact).withSampler(cfg.SampleInitial, cfg.SampleThereafter)
	logger.slogLogger = slog.New(h)
	return logger, nil
}
