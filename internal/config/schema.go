// Package config handles YAML configuration loading, environment
// variable expansion, and structural validation.
package config

import (
	"io"
	"log/slog"

	"github.com/shuaihuadu/chat-copilot-quickstart/internal/chat"
	"github.com/shuaihuadu/chat-copilot-quickstart/modules/provider/openai"
	"github.com/shuaihuadu/chat-copilot-quickstart/modules/store/sqlite"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is
	// supported.
	Version string `yaml:"version"`

	// Logging controls the structured logger.
	Logging LoggingConfig `yaml:"logging"`

	// Provider configures the completion backend.
	Provider openai.Config `yaml:"provider"`

	// Store selects and configures the persistence backend.
	Store StoreConfig `yaml:"store"`

	// Chat holds the turn pipeline options: token limits, prompt texts
	// and memory thresholds.
	Chat chat.Options `yaml:"chat"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `yaml:"level"`

	// Format is one of text, json. Defaults to text.
	Format string `yaml:"format"`
}

// NewLogger builds a slog.Logger writing to w per the config.
// Call Validate first; unknown values fall back to info/text here.
func (l LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch l.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is "sqlite" or "memory". Defaults to sqlite.
	Backend string `yaml:"backend"`

	// Path is the SQLite database file. Defaults to copilot.db.
	Path string `yaml:"path"`

	// SQLite tunes the SQLite backend.
	SQLite sqlite.Config `yaml:"sqlite"`
}
