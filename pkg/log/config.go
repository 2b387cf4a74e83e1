package log

import (
	"fmt"
	"strings"
)

// Config declares a logger: level, format and outputs.
type Config struct {
	Level  string   `json:"level" yaml:"level"`
	Format string   `json:"format" yaml:"format"`
	Files  []string `json:"files,omitempty" yaml:"files,omitempty"`
	// Redact lists field keys whose values are replaced with [REDACTED].
	Redact []string `json:"redact,omitempty" yaml:"redact,omitempty"`
	// SampleInitial/SampleThereafter enable per-message sampling when thereafter > 0.
	SampleInitial    int `json:"sampleInitial,omitempty" yaml:"sampleInitial,omitempty"`
	SampleThereafter int `json:"sampleThereafter,omitempty" yaml:"sampleThereafter,omitempty"`
	// Quiet drops the console output.
	Quiet bool `json:"quiet,omitempty" yaml:"quiet,omitempty"`
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
	var formatter Formatter
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		formatter = &TextFormatter{}
	case "json":
		formatter = &JSONFormatter{}
	default:
		return nil, fmt.Errorf("log: unknown format %q", cfg.Format)
	}
	opts := []LoggerOption{WithLevel(level), WithFormatter(formatter)}
	if cfg.Quiet {
		opts = append(opts, WithOutput(NullOutput{}))
	} else {
		opts = append(opts, WithOutput(NewConsoleOutput()))
	}
	for _, path := range cfg.Files {
		out, err := NewFileOutput(path)
		if err != nil {
			return nil, fmt.Errorf("log: open %s: %w", path, err)
		}
		opts = append(opts, WithOutput(out))
	}
	if len(cfg.Redact) > 0 {
		opts = append(opts, WithRedactions(cfg.Redact...))
	}
	if cfg.SampleThereafter > 0 {
		opts = append(opts, WithSampling(cfg.SampleInitial, cfg.SampleThereafter))
	}
	return NewLogger(opts...), nil
}
