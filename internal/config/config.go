// Package config loads service settings. Later layers win: built-in
// defaults, an optional YAML file, a .env file, then the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/joelkehle/clinical-agents/internal/clinical"
	"github.com/joelkehle/clinical-agents/internal/sources"
)

type Config struct {
	Addr     string `yaml:"addr"`
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`
	LogDev   bool   `yaml:"log_dev"`

	Completion Completion `yaml:"completion"`
	Sources    Sources    `yaml:"sources"`
	Render     Render     `yaml:"render"`
	Telemetry  Telemetry  `yaml:"telemetry"`
}

type Completion struct {
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int64         `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

type Sources struct {
	PubMedAPIKey    string        `yaml:"pubmed_api_key"`
	PubMedBaseURL   string        `yaml:"pubmed_base_url"`
	BioPortalAPIKey string        `yaml:"bioportal_api_key"`
	BioPortalURL    string        `yaml:"bioportal_base_url"`
	RxNormBaseURL   string        `yaml:"rxnorm_base_url"`
	Timeout         time.Duration `yaml:"timeout"`
}

type Render struct {
	ChromePath string `yaml:"chrome_path"`
}

type Telemetry struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

func Default() Config {
	return Config{
		Addr:     ":8000",
		DBPath:   "clinical-agents.db",
		LogLevel: "info",
		Completion: Completion{
			Model:       clinical.DefaultCompletionModel,
			MaxTokens:   clinical.DefaultCompletionMaxTokens,
			Temperature: 0.2,
			Timeout:     clinical.DefaultCompletionTimeout,
		},
		Sources:   Sources{Timeout: sources.DefaultTimeout},
		Telemetry: Telemetry{ServiceName: "clinical-agents"},
	}
}

// Load builds a Config. path may be empty; envFile may be empty, and a
// missing envFile is not an error.
func Load(path, envFile string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if strings.TrimSpace(envFile) != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	setString(&c.Addr, "CLINICAL_ADDR")
	setString(&c.DBPath, "CLINICAL_DB_PATH")
	setString(&c.LogLevel, "CLINICAL_LOG_LEVEL")
	setString(&c.Completion.APIKey, "ANTHROPIC_API_KEY")
	setString(&c.Completion.Model, "CLINICAL_LLM_MODEL")
	setString(&c.Sources.PubMedAPIKey, "PUBMED_API_KEY")
	setString(&c.Sources.BioPortalAPIKey, "BIOPORTAL_API_KEY")
	setString(&c.Render.ChromePath, "CLINICAL_CHROME_PATH")
	setString(&c.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&c.Telemetry.ServiceName, "OTEL_SERVICE_NAME")

	if v := envValue("CLINICAL_LOG_DEV"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CLINICAL_LOG_DEV: %w", err)
		}
		c.LogDev = b
	}
	if v := envValue("CLINICAL_LLM_MAX_TOKENS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("CLINICAL_LLM_MAX_TOKENS: %w", err)
		}
		c.Completion.MaxTokens = n
	}
	if err := setDuration(&c.Completion.Timeout, "CLINICAL_LLM_TIMEOUT"); err != nil {
		return err
	}
	return setDuration(&c.Sources.Timeout, "CLINICAL_SOURCE_TIMEOUT")
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("addr is required")
	}
	if c.Completion.Timeout <= 0 {
		return fmt.Errorf("completion timeout must be positive, got %s", c.Completion.Timeout)
	}
	if c.Sources.Timeout <= 0 {
		return fmt.Errorf("source timeout must be positive, got %s", c.Sources.Timeout)
	}
	if c.Completion.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", c.Completion.MaxTokens)
	}
	return nil
}

// CompletionEnabled reports whether a completion credential is present.
func (c Config) CompletionEnabled() bool {
	return strings.TrimSpace(c.Completion.APIKey) != ""
}

func envValue(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func setString(dst *string, key string) {
	if v := envValue(key); v != "" {
		*dst = v
	}
}

// setDuration accepts Go duration strings or a bare number of seconds.
func setDuration(dst *time.Duration, key string) error {
	v := envValue(key)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
