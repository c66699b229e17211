package config

import (
	"context"
	"fmt"

	"github.com/sbaglivi/RunGraph/logger"
	"github.com/sbaglivi/RunGraph/modelapi"
	"github.com/sbaglivi/RunGraph/modelapi/cartesiaapi"
	"github.com/sbaglivi/RunGraph/modelapi/deepgramapi"
	"github.com/sbaglivi/RunGraph/modelapi/geminiapi"
	"github.com/sbaglivi/RunGraph/modelapi/groqapi"
	"github.com/sbaglivi/RunGraph/modelapi/openaiapi"
)

// Completer connects the configured completion provider.
func (c *Config) Completer(ctx context.Context, log *logger.LogMiddleware) (modelapi.Completer, error) {
	switch c.Provider {
	case PROVIDER_GEMINI:
		return geminiapi.Connect(ctx, geminiapi.GeminiConnectProps{
			Logger:  log,
			APIKey:  c.GeminiKey,
			Model:   c.Model,
			Timeout: c.CompletionTimeout,
		})
	case PROVIDER_GROQ:
		return groqapi.Connect(ctx, groqapi.GroqConnectProps{
			Logger:  log,
			APIKey:  c.GroqKey,
			Model:   c.Model,
			Timeout: c.CompletionTimeout,
		}), nil
	case PROVIDER_OPENAI:
		return openaiapi.Connect(ctx, openaiapi.OpenAIConnectProps{
			Logger:  log,
			APIKey:  c.OpenAIKey,
			Model:   c.Model,
			Timeout: c.CompletionTimeout,
		}), nil
	case PROVIDER_DEEPINFRA:
		return openaiapi.Connect(ctx, openaiapi.OpenAIConnectProps{
			Logger:  log,
			APIKey:  c.DeepInfraKey,
			Model:   c.Model,
			BaseURL: openaiapi.DEEPINFRA_BASE_URL,
			Timeout: c.CompletionTimeout,
		}), nil
	}
	return nil, fmt.Errorf("unknown provider %q", c.Provider)
}

// Speaker turns text into audio for voice replies.
type Speaker interface {
	GenerateSpeech(ctx context.Context, text string) ([]byte, error)
}

// Speaker picks a text-to-speech backend: Cartesia when it has a key, then
// the OpenAI compatible provider. It returns nil when voice replies are off
// or nothing can speak.
func (c *Config) Speaker(ctx context.Context, log *logger.LogMiddleware) Speaker {
	if !c.Voice.Replies {
		return nil
	}
	switch {
	case c.Voice.CartesiaKey != "":
		return cartesiaapi.Connect(ctx, cartesiaapi.CartesiaConnectProps{
			Logger:  log,
			APIKey:  c.Voice.CartesiaKey,
			VoiceID: c.Voice.CartesiaVoiceID,
		})
	case c.OpenAIKey != "":
		return openaiapi.Connect(ctx, openaiapi.OpenAIConnectProps{Logger: log, APIKey: c.OpenAIKey})
	case c.DeepInfraKey != "":
		return openaiapi.Connect(ctx, openaiapi.OpenAIConnectProps{Logger: log, APIKey: c.DeepInfraKey, BaseURL: openaiapi.DEEPINFRA_BASE_URL})
	}
	return nil
}

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Transcriber connects Deepgram for voice answers, or returns nil without a
// key.
func (c *Config) Transcriber(ctx context.Context, log *logger.LogMiddleware) Transcriber {
	if c.Voice.DeepgramKey == "" {
		return nil
	}
	return deepgramapi.Connect(ctx, deepgramapi.DeepgramConnectProps{Logger: log, APIKey: c.Voice.DeepgramKey})
}
