package config

import (
	"errors"
	"fmt"
)

// Validate checks the structural validity of a Config: the version
// field, logging and store enumerations, and the chat option
// invariants. Provider credentials are checked when the provider is
// constructed, since they may come from the environment.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: logging.level must be one of debug, info, warn, error; got %q", cfg.Logging.Level))
	}
	switch cfg.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: logging.format must be text or json, got %q", cfg.Logging.Format))
	}

	switch cfg.Store.Backend {
	case "", StoreSQLite, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("config: store.backend must be %s or %s, got %q", StoreSQLite, StoreMemory, cfg.Store.Backend))
	}

	if err := cfg.Chat.WithDefaults().Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
