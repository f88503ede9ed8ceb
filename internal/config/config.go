// Package config provides configuration loading for extractd.
//
// Configuration is loaded from a YAML file, then overridden by environment
// variables, then backfilled with defaults. See LoadWithFile.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/extractd/internal/fieldspec"
	"github.com/fyrsmithlabs/extractd/internal/worker"
)

// Config holds the complete extractd configuration.
type Config struct {
	Worker     WorkerConfig     `koanf:"worker"`
	Controller ControllerConfig `koanf:"controller"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"`
	Extraction ExtractionConfig `koanf:"extraction"`
	Storage    StorageConfig    `koanf:"storage"`
	Logging    LoggingConfig    `koanf:"logging"`

	// FieldSpecs are operator overrides merged over the built-in field
	// set. An entry naming a built-in id retunes that field (thresholds,
	// retrieval breadth, wording); an entry with a new id adds a field
	// and must be complete.
	FieldSpecs fieldspec.Set `koanf:"fieldspecs"`
}

// WorkerConfig selects and configures the generation backend.
type WorkerConfig struct {
	Provider string   `koanf:"provider"` // "openai" or "ollama"
	BaseURL  string   `koanf:"base_url"`
	Model    string   `koanf:"model"` // model identifier, feeds the cache key
	APIKey   Secret   `koanf:"api_key"`
	Timeout  Duration `koanf:"timeout"`
}

// ControllerConfig tunes the extraction run loop.
type ControllerConfig struct {
	Concurrency    int      `koanf:"concurrency"`
	ThresholdStep  float64  `koanf:"threshold_step"`
	ThresholdFloor float64  `koanf:"threshold_floor"`
	BaseBackoff    Duration `koanf:"base_backoff"`
}

// RetrievalConfig holds BM25 parameters.
type RetrievalConfig struct {
	K1 float64 `koanf:"k1"`
	B  float64 `koanf:"b"`
}

// ExtractionConfig bounds worker prompts.
type ExtractionConfig struct {
	MaxSections       int `koanf:"max_sections"`
	SectionByteBudget int `koanf:"section_byte_budget"`
	MaxTokens         int `koanf:"max_tokens"`
}

// StorageConfig locates the SQLite database. When the path is empty the
// CLI falls back to ~/.local/share/extractd/extractd.db.
type StorageConfig struct {
	Path string `koanf:"path"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Worker.Provider == "" {
		cfg.Worker.Provider = worker.ProviderOllama
	}
	if cfg.Worker.BaseURL == "" {
		switch cfg.Worker.Provider {
		case worker.ProviderOllama:
			cfg.Worker.BaseURL = "http://localhost:11434"
		case worker.ProviderOpenAI:
			cfg.Worker.BaseURL = "https://api.openai.com/v1"
		}
	}
	if cfg.Worker.Model == "" {
		cfg.Worker.Model = "llama3.1"
	}
	if cfg.Worker.Timeout == 0 {
		cfg.Worker.Timeout = Duration(60 * time.Second)
	}

	if cfg.Controller.Concurrency == 0 {
		cfg.Controller.Concurrency = 1
	}
	if cfg.Controller.ThresholdStep == 0 {
		cfg.Controller.ThresholdStep = 0.1
	}
	if cfg.Controller.ThresholdFloor == 0 {
		cfg.Controller.ThresholdFloor = 0.2
	}
	if cfg.Controller.BaseBackoff == 0 {
		cfg.Controller.BaseBackoff = Duration(500 * time.Millisecond)
	}

	if cfg.Retrieval.K1 == 0 {
		cfg.Retrieval.K1 = 1.5
	}
	if cfg.Retrieval.B == 0 {
		cfg.Retrieval.B = 0.75
	}

	if cfg.Extraction.MaxSections == 0 {
		cfg.Extraction.MaxSections = 3
	}
	if cfg.Extraction.SectionByteBudget == 0 {
		cfg.Extraction.SectionByteBudget = 800
	}
	if cfg.Extraction.MaxTokens == 0 {
		cfg.Extraction.MaxTokens = 500
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Worker.Provider {
	case worker.ProviderOpenAI, worker.ProviderOllama:
	default:
		return fmt.Errorf("unknown worker provider: %q", c.Worker.Provider)
	}
	if c.Worker.Provider == worker.ProviderOpenAI && !c.Worker.APIKey.IsSet() {
		return errors.New("worker api_key required for openai provider")
	}
	if c.Worker.Model == "" {
		return errors.New("worker model is required")
	}
	if c.Worker.Timeout.Duration() <= 0 {
		return errors.New("worker timeout must be positive")
	}

	if c.Controller.Concurrency < 1 {
		return fmt.Errorf("controller concurrency must be at least 1, got %d", c.Controller.Concurrency)
	}
	if c.Controller.ThresholdStep < 0 || c.Controller.ThresholdStep > 1 {
		return fmt.Errorf("controller threshold_step must be in [0,1], got %g", c.Controller.ThresholdStep)
	}
	if c.Controller.ThresholdFloor < 0 || c.Controller.ThresholdFloor > 1 {
		return fmt.Errorf("controller threshold_floor must be in [0,1], got %g", c.Controller.ThresholdFloor)
	}

	if c.Retrieval.K1 <= 0 {
		return fmt.Errorf("retrieval k1 must be positive, got %g", c.Retrieval.K1)
	}
	if c.Retrieval.B < 0 || c.Retrieval.B > 1 {
		return fmt.Errorf("retrieval b must be in [0,1], got %g", c.Retrieval.B)
	}

	if c.Extraction.MaxSections < 1 {
		return errors.New("extraction max_sections must be at least 1")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level: %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	// Surface bad field spec overrides at load time, not mid-run.
	if _, err := c.FieldSet(); err != nil {
		return err
	}

	return nil
}

// FieldSet returns the built-in field specs with the fieldspecs overrides
// applied. Changing any override changes the set's version and therefore
// invalidates cached outcomes.
func (c *Config) FieldSet() (fieldspec.Set, error) {
	return fieldspec.DefaultSet().Merge(c.FieldSpecs)
}

// WorkerConfigFor converts the worker section into the worker package's
// client configuration.
func (c *Config) WorkerConfigFor() worker.Config {
	return worker.Config{
		BaseURL: c.Worker.BaseURL,
		Model:   c.Worker.Model,
		APIKey:  c.Worker.APIKey.Value(),
		Timeout: int(c.Worker.Timeout.Duration() / time.Second),
	}
}
