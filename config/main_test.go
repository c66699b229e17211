package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sbaglivi/RunGraph/coach"
	"github.com/sbaglivi/RunGraph/logger"
	"github.com/sbaglivi/RunGraph/modelapi/groqapi"
	"github.com/sbaglivi/RunGraph/modelapi/openaiapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, PROVIDER_GEMINI, cfg.Provider)
	assert.Equal(t, 60*time.Second, cfg.CompletionTimeout)
	assert.Equal(t, coach.DefaultLimits(), cfg.CoachLimits())
	assert.Equal(t, 3, cfg.Limits.MaxCoherenceFailures)
	assert.Equal(t, 6, cfg.Limits.MaxNegotiationRounds)
	assert.Equal(t, 5, cfg.Limits.MaxPlanRevisions)
	assert.Equal(t, 1, cfg.Limits.SchemaReprompts)
	assert.Zero(t, cfg.Limits.MaxInterviewTurns)
	assert.False(t, cfg.Postgres.Enabled())
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()

	err := cfg.ApplyEnv(env(map[string]string{
		"COACH_PROVIDER":               "groq",
		"COACH_MODEL":                  "llama",
		"COACH_COMPLETION_TIMEOUT":     "15s",
		"COACH_MAX_COHERENCE_FAILURES": "5",
		"COACH_MAX_NEGOTIATION_ROUNDS": "0",
		"COACH_MAX_INTERVIEW_TURNS":    "12",
		"GROQ_SECRET_KEY":              "gsk",
		"PRODUCTION":                   "1",
		"TELEGRAM_CHAT_ID":             "-100123",
		"TELEGRAM_DEBUG":               "true",
		"POSTGRES_DB_HOST":             "db",
		"POSTGRES_DB_PASS":             "secret",
		"PORT":                         "",
	}))

	require.NoError(t, err)
	assert.Equal(t, "groq", cfg.Provider)
	assert.Equal(t, "llama", cfg.Model)
	assert.Equal(t, 15*time.Second, cfg.CompletionTimeout)
	assert.Equal(t, 5, cfg.Limits.MaxCoherenceFailures)
	assert.Zero(t, cfg.CoachLimits().MaxNegotiationRounds)
	assert.Equal(t, 12, cfg.Limits.MaxInterviewTurns)
	assert.Equal(t, "gsk", cfg.APIKey())
	assert.True(t, cfg.Production)
	assert.Equal(t, int64(-100123), cfg.Telegram.ChatID)
	assert.True(t, cfg.Telegram.Debug)
	assert.True(t, cfg.Postgres.Enabled())
	assert.Equal(t, "secret", cfg.Postgres.Password)
	assert.Equal(t, "8080", cfg.Port, "empty values keep the current setting")
}

func TestApplyEnvCollectsErrors(t *testing.T) {
	cfg := Default()

	err := cfg.ApplyEnv(env(map[string]string{
		"COACH_MAX_PLAN_REVISIONS": "many",
		"COACH_COMPLETION_TIMEOUT": "soon",
		"TELEGRAM_DEBUG":           "perhaps",
	}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "COACH_MAX_PLAN_REVISIONS")
	assert.Contains(t, err.Error(), "COACH_COMPLETION_TIMEOUT")
	assert.Contains(t, err.Error(), "TELEGRAM_DEBUG")
}

func TestLoadFileOverlays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coach.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider: openai
completion_timeout: 90s
limits:
  max_plan_revisions: 2
  max_negotiation_rounds: 4
telegram:
  chat_id: 42
voice:
  replies: true
`), 0o600))

	cfg := Default()
	require.NoError(t, cfg.LoadFile(path))

	assert.Equal(t, PROVIDER_OPENAI, cfg.Provider)
	assert.Equal(t, 90*time.Second, cfg.CompletionTimeout)
	assert.Equal(t, 2, cfg.Limits.MaxPlanRevisions)
	assert.Equal(t, 4, cfg.Limits.MaxNegotiationRounds)
	assert.Equal(t, 3, cfg.Limits.MaxCoherenceFailures, "absent keys keep defaults")
	assert.Equal(t, int64(42), cfg.Telegram.ChatID)
	assert.True(t, cfg.Voice.Replies)
}

func TestLoadFileMissing(t *testing.T) {
	err := Default().LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))

	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadPrecedence(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "coach.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider: groq\nlimits:\n  schema_reprompts: 2\n"), 0o600))
	t.Setenv("COACH_PROVIDER", "deepinfra")
	t.Setenv("DEEPINFRA_SECRET_KEY", "di")
	t.Setenv("COACH_SCHEMA_REPROMPTS", "")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, PROVIDER_DEEPINFRA, cfg.Provider)
	assert.Equal(t, 2, cfg.Limits.SchemaReprompts)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "valid", modify: func(c *Config) {}},
		{name: "provider is case insensitive", modify: func(c *Config) { c.Provider = " Gemini " }},
		{name: "unknown provider", modify: func(c *Config) { c.Provider = "ollama" }, wantErr: true},
		{name: "missing key", modify: func(c *Config) { c.GeminiKey = "" }, wantErr: true},
		{name: "zero timeout", modify: func(c *Config) { c.CompletionTimeout = 0 }, wantErr: true},
		{name: "no failures allowed", modify: func(c *Config) { c.Limits.MaxCoherenceFailures = 0 }, wantErr: true},
		{name: "negative negotiation rounds", modify: func(c *Config) { c.Limits.MaxNegotiationRounds = -1 }, wantErr: true},
		{name: "negative reprompts", modify: func(c *Config) { c.Limits.SchemaReprompts = -1 }, wantErr: true},
		{name: "negative interview turns", modify: func(c *Config) { c.Limits.MaxInterviewTurns = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.GeminiKey = "key"
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCompleterSelection(t *testing.T) {
	ctx := context.Background()

	cfg := Default()
	cfg.Provider = PROVIDER_GROQ
	cfg.GroqKey = "gsk"
	c, err := cfg.Completer(ctx, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &groqapi.Groq{}, c)

	cfg.Provider = PROVIDER_DEEPINFRA
	cfg.DeepInfraKey = "di"
	c, err = cfg.Completer(ctx, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &openaiapi.OpenAI{}, c)

	cfg.Provider = "ollama"
	_, err = cfg.Completer(ctx, logger.Nop())
	assert.Error(t, err)
}

func TestVoiceBackends(t *testing.T) {
	ctx := context.Background()
	cfg := Default()

	assert.Nil(t, cfg.Speaker(ctx, logger.Nop()))
	assert.Nil(t, cfg.Transcriber(ctx, logger.Nop()))

	cfg.Voice.Replies = true
	assert.Nil(t, cfg.Speaker(ctx, logger.Nop()))

	cfg.OpenAIKey = "sk"
	assert.IsType(t, &openaiapi.OpenAI{}, cfg.Speaker(ctx, logger.Nop()))
}
