// Package config loads the coach configuration: defaults, then an optional
// YAML file, then the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sbaglivi/RunGraph/coach"
	"gopkg.in/yaml.v3"
)

const (
	PROVIDER_GEMINI    = "gemini"
	PROVIDER_GROQ      = "groq"
	PROVIDER_OPENAI    = "openai"
	PROVIDER_DEEPINFRA = "deepinfra"

	CONFIG_FILE_ENV = "COACH_CONFIG_FILE"
)

var Providers = []string{PROVIDER_GEMINI, PROVIDER_GROQ, PROVIDER_OPENAI, PROVIDER_DEEPINFRA}

type Config struct {
	Provider          string        `yaml:"provider"`
	Model             string        `yaml:"model"`
	CompletionTimeout time.Duration `yaml:"completion_timeout"`
	Limits            LimitsConfig  `yaml:"limits"`

	Production bool   `yaml:"production"`
	Port       string `yaml:"port"`

	Telegram TelegramConfig `yaml:"telegram"`
	Voice    VoiceConfig    `yaml:"voice"`
	Postgres PostgresConfig `yaml:"postgres"`

	// Secrets only come from the environment.
	GeminiKey    string `yaml:"-"`
	GroqKey      string `yaml:"-"`
	OpenAIKey    string `yaml:"-"`
	DeepInfraKey string `yaml:"-"`
}

type LimitsConfig struct {
	MaxCoherenceFailures int `yaml:"max_coherence_failures"`
	MaxNegotiationRounds int `yaml:"max_negotiation_rounds"`
	MaxPlanRevisions     int `yaml:"max_plan_revisions"`
	SchemaReprompts      int `yaml:"schema_reprompts"`
	MaxInterviewTurns    int `yaml:"max_interview_turns"`
}

type TelegramConfig struct {
	Token  string `yaml:"-"`
	ChatID int64  `yaml:"chat_id"`
	Debug  bool   `yaml:"debug"`
}

type VoiceConfig struct {
	// Reply with synthesized audio as well as text.
	Replies         bool   `yaml:"replies"`
	DeepgramKey     string `yaml:"-"`
	CartesiaKey     string `yaml:"-"`
	CartesiaVoiceID string `yaml:"cartesia_voice_id"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// Enabled reports whether an archive database is configured.
func (p PostgresConfig) Enabled() bool {
	return p.Host != ""
}

func Default() *Config {
	limits := coach.DefaultLimits()
	return &Config{
		Provider:          PROVIDER_GEMINI,
		CompletionTimeout: 60 * time.Second,
		Limits: LimitsConfig{
			MaxCoherenceFailures: limits.MaxCoherenceFailures,
			MaxNegotiationRounds: limits.MaxNegotiationRounds,
			MaxPlanRevisions:     limits.MaxPlanRevisions,
			SchemaReprompts:      limits.SchemaReprompts,
			MaxInterviewTurns:    limits.MaxInterviewTurns,
		},
		Port: "8080",
		Postgres: PostgresConfig{
			Port:    "5432",
			SSLMode: "disable",
		},
	}
}

// Load builds the configuration. path may be empty, in which case
// COACH_CONFIG_FILE is consulted; no file at all is fine.
func Load(path string) (*Config, error) {
	// A missing .env file is the normal case outside development.
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		path = os.Getenv(CONFIG_FILE_ENV)
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path; keys absent from the file keep
// their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("COACH_PROVIDER", &c.Provider)
	str("COACH_MODEL", &c.Model)
	if v, ok := lookup("COACH_COMPLETION_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("COACH_COMPLETION_TIMEOUT: %w", err))
		} else {
			c.CompletionTimeout = d
		}
	}
	num("COACH_MAX_COHERENCE_FAILURES", &c.Limits.MaxCoherenceFailures)
	num("COACH_MAX_NEGOTIATION_ROUNDS", &c.Limits.MaxNegotiationRounds)
	num("COACH_MAX_PLAN_REVISIONS", &c.Limits.MaxPlanRevisions)
	num("COACH_SCHEMA_REPROMPTS", &c.Limits.SchemaReprompts)
	num("COACH_MAX_INTERVIEW_TURNS", &c.Limits.MaxInterviewTurns)

	str("GEMINI_SECRET_KEY", &c.GeminiKey)
	str("GROQ_SECRET_KEY", &c.GroqKey)
	str("OPENAI_SECRET_KEY", &c.OpenAIKey)
	str("DEEPINFRA_SECRET_KEY", &c.DeepInfraKey)

	// Any non-empty PRODUCTION value turns production mode on.
	if v, ok := lookup("PRODUCTION"); ok && v != "" {
		c.Production = true
	}
	str("PORT", &c.Port)

	str("TELEGRAM_BOT_TOKEN", &c.Telegram.Token)
	if v, ok := lookup("TELEGRAM_CHAT_ID"); ok && v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("TELEGRAM_CHAT_ID: %w", err))
		} else {
			c.Telegram.ChatID = id
		}
	}
	flag("TELEGRAM_DEBUG", &c.Telegram.Debug)

	flag("COACH_VOICE_REPLIES", &c.Voice.Replies)
	str("DEEPGRAM_API_KEY", &c.Voice.DeepgramKey)
	str("CARTESIA_API_KEY", &c.Voice.CartesiaKey)
	str("CARTESIA_VOICE_ID", &c.Voice.CartesiaVoiceID)

	str("POSTGRES_DB_HOST", &c.Postgres.Host)
	str("POSTGRES_DB_PORT", &c.Postgres.Port)
	str("POSTGRES_DB_USER", &c.Postgres.User)
	str("POSTGRES_DB_PASS", &c.Postgres.Password)
	str("POSTGRES_DB_NAME", &c.Postgres.Name)
	str("POSTGRES_DB_SSLMODE", &c.Postgres.SSLMode)

	return errors.Join(errs...)
}

func (c *Config) Validate() error {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if !slices.Contains(Providers, c.Provider) {
		return fmt.Errorf("unknown provider %q, expected one of %s", c.Provider, strings.Join(Providers, ", "))
	}
	if c.CompletionTimeout <= 0 {
		return fmt.Errorf("completion timeout must be positive, got %s", c.CompletionTimeout)
	}
	if c.Limits.MaxCoherenceFailures < 1 {
		return fmt.Errorf("max coherence failures must be at least 1, got %d", c.Limits.MaxCoherenceFailures)
	}
	if c.Limits.MaxNegotiationRounds < 0 {
		return fmt.Errorf("max negotiation rounds can't be negative, got %d", c.Limits.MaxNegotiationRounds)
	}
	if c.Limits.MaxPlanRevisions < 0 {
		return fmt.Errorf("max plan revisions can't be negative, got %d", c.Limits.MaxPlanRevisions)
	}
	if c.Limits.SchemaReprompts < 0 {
		return fmt.Errorf("schema reprompts can't be negative, got %d", c.Limits.SchemaReprompts)
	}
	if c.Limits.MaxInterviewTurns < 0 {
		return fmt.Errorf("max interview turns can't be negative, got %d", c.Limits.MaxInterviewTurns)
	}
	if c.APIKey() == "" {
		return fmt.Errorf("no api key set for provider %s", c.Provider)
	}
	return nil
}

// APIKey returns the secret of the selected provider.
func (c *Config) APIKey() string {
	switch c.Provider {
	case PROVIDER_GEMINI:
		return c.GeminiKey
	case PROVIDER_GROQ:
		return c.GroqKey
	case PROVIDER_OPENAI:
		return c.OpenAIKey
	case PROVIDER_DEEPINFRA:
		return c.DeepInfraKey
	}
	return ""
}

func (c *Config) CoachLimits() coach.Limits {
	return coach.Limits{
		MaxCoherenceFailures: c.Limits.MaxCoherenceFailures,
		MaxNegotiationRounds: c.Limits.MaxNegotiationRounds,
		MaxPlanRevisions:     c.Limits.MaxPlanRevisions,
		SchemaReprompts:      c.Limits.SchemaReprompts,
		MaxInterviewTurns:    c.Limits.MaxInterviewTurns,
	}
}
