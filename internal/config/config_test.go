package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/extractd/internal/worker"
)

func validConfig() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := validConfig()

	assert.Equal(t, worker.ProviderOllama, cfg.Worker.Provider)
	assert.Equal(t, "http://localhost:11434", cfg.Worker.BaseURL)
	assert.Equal(t, 60*time.Second, cfg.Worker.Timeout.Duration())
	assert.Equal(t, 1, cfg.Controller.Concurrency)
	assert.Equal(t, 0.1, cfg.Controller.ThresholdStep)
	assert.Equal(t, 0.2, cfg.Controller.ThresholdFloor)
	assert.Equal(t, 1.5, cfg.Retrieval.K1)
	assert.Equal(t, 0.75, cfg.Retrieval.B)
	assert.Equal(t, 3, cfg.Extraction.MaxSections)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestApplyDefaults_OpenAIBaseURL(t *testing.T) {
	cfg := Config{Worker: WorkerConfig{Provider: worker.ProviderOpenAI}}
	applyDefaults(&cfg)
	assert.Equal(t, "https://api.openai.com/v1", cfg.Worker.BaseURL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(cfg *Config) {},
		},
		{
			name:    "unknown provider",
			mutate:  func(cfg *Config) { cfg.Worker.Provider = "bedrock" },
			wantErr: "unknown worker provider",
		},
		{
			name: "openai requires api key",
			mutate: func(cfg *Config) {
				cfg.Worker.Provider = worker.ProviderOpenAI
			},
			wantErr: "api_key required",
		},
		{
			name: "openai with api key",
			mutate: func(cfg *Config) {
				cfg.Worker.Provider = worker.ProviderOpenAI
				cfg.Worker.APIKey = "sk-test"
			},
		},
		{
			name:    "empty model",
			mutate:  func(cfg *Config) { cfg.Worker.Model = "" },
			wantErr: "model is required",
		},
		{
			name:    "zero concurrency",
			mutate:  func(cfg *Config) { cfg.Controller.Concurrency = -1 },
			wantErr: "concurrency",
		},
		{
			name:    "threshold step out of range",
			mutate:  func(cfg *Config) { cfg.Controller.ThresholdStep = 1.5 },
			wantErr: "threshold_step",
		},
		{
			name:    "negative k1",
			mutate:  func(cfg *Config) { cfg.Retrieval.K1 = -1 },
			wantErr: "k1 must be positive",
		},
		{
			name:    "b out of range",
			mutate:  func(cfg *Config) { cfg.Retrieval.B = 2 },
			wantErr: "b must be in [0,1]",
		},
		{
			name:    "unknown log level",
			mutate:  func(cfg *Config) { cfg.Logging.Level = "verbose" },
			wantErr: "unknown logging level",
		},
		{
			name:    "unknown log format",
			mutate:  func(cfg *Config) { cfg.Logging.Format = "logfmt" },
			wantErr: "format must be",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWorkerConfigFor(t *testing.T) {
	cfg := validConfig()
	cfg.Worker.APIKey = "sk-secret"
	cfg.Worker.Timeout = Duration(30 * time.Second)

	wc := cfg.WorkerConfigFor()
	assert.Equal(t, "sk-secret", wc.APIKey)
	assert.Equal(t, 30, wc.Timeout)
	assert.Equal(t, cfg.Worker.Model, wc.Model)
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("sk-very-secret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "sk-very-secret", s.Value())
	assert.True(t, s.IsSet())

	out, err := json.Marshal(struct{ Key Secret }{Key: s})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "sk-very-secret")
	assert.Contains(t, string(out), "[REDACTED]")

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")), "negative durations rejected")
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
