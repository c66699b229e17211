package cartesiaapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/sbaglivi/RunGraph/httpmiddleware"
	"github.com/sbaglivi/RunGraph/logger"
	"github.com/sbaglivi/RunGraph/modelapi"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	CARTESIA_URL        = "https://api.cartesia.ai/tts/bytes"
	CARTESIA_VERSION    = "2024-06-10"
	CARTESIA_MODEL_NAME = "sonic-2"
	// Default English coach voice.
	COACH_VOICE = "a0e99841-438c-4a64-b679-ae501e7d6091"
)

type CartesiaConnectProps struct {
	Logger     *logger.LogMiddleware
	APIKey     string
	VoiceID    string
	URL        string
	Retry      *modelapi.RetryConfig
	HTTPClient *http.Client
}

type Cartesia struct {
	logger    *logger.LogMiddleware
	semaphore *semaphore.Weighted
	apiKey    string
	voiceID   string
	url       string
	retry     modelapi.RetryConfig
	client    *http.Client
}

type VoiceConfig struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type OutputFormat struct {
	Container  string `json:"container"`
	BitRate    int    `json:"bit_rate"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate"`
}

type TTSRequest struct {
	ModelID      string       `json:"model_id"`
	Transcript   string       `json:"transcript"`
	Voice        VoiceConfig  `json:"voice"`
	OutputFormat OutputFormat `json:"output_format"`
	Language     string       `json:"language"`
}

func Connect(ctx context.Context, args CartesiaConnectProps) *Cartesia {
	tracer := otel.Tracer("cartesiaapi/Connect")
	ctx, span := tracer.Start(ctx, "Connect")
	defer span.End()

	maxWorkers := 10
	sem := semaphore.NewWeighted(int64(maxWorkers))

	span.SetAttributes(attribute.Int("maxWorkers", maxWorkers))

	c := &Cartesia{
		logger:    args.Logger,
		semaphore: sem,
		apiKey:    args.APIKey,
		voiceID:   args.VoiceID,
		url:       args.URL,
		retry:     modelapi.DefaultRetryConfig(),
		client:    args.HTTPClient,
	}
	if c.voiceID == "" {
		c.voiceID = COACH_VOICE
	}
	if c.url == "" {
		c.url = CARTESIA_URL
	}
	if args.Retry != nil {
		c.retry = *args.Retry
	}
	args.Logger.Logger(ctx).Info("[CartesiaAPI] Client ready", zap.String("voice", c.voiceID))
	return c
}

// GenerateSpeech voices a coach reply as mp3.
func (c *Cartesia) GenerateSpeech(ctx context.Context, text string) ([]byte, error) {
	tracer := otel.Tracer("cartesiaapi/GenerateSpeech")
	ctx, span := tracer.Start(ctx, "GenerateSpeech")
	defer span.End()

	logger := c.logger.Logger(ctx)

	if c.apiKey == "" {
		return nil, errors.New("cartesia api key is not set")
	}

	if err := c.semaphore.Acquire(ctx, 1); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to acquire semaphore: %w", err)
	}
	defer c.semaphore.Release(1)

	request := TTSRequest{
		ModelID:    CARTESIA_MODEL_NAME,
		Transcript: text,
		Voice: VoiceConfig{
			Mode: "id",
			ID:   c.voiceID,
		},
		OutputFormat: OutputFormat{
			Container:  "mp3",
			BitRate:    128000,
			SampleRate: 44100,
		},
		Language: "en",
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var respBody []byte
	err = modelapi.Retry(ctx, c.retry, func(attempt int) error {
		respBody, err = httpmiddleware.HttpRequest(httpmiddleware.HttpRequestStruct{
			Ctx:    ctx,
			Method: http.MethodPost,
			Url:    c.url,
			Body:   bytes.NewReader(jsonData),
			Headers: map[string]string{
				"X-API-Key":        c.apiKey,
				"Cartesia-Version": CARTESIA_VERSION,
				"Content-Type":     "application/json",
			},
			Client: c.client,
		})
		if err != nil {
			logger.Warn("[CartesiaAPI] Failed to generate speech, retrying",
				zap.Error(err),
				zap.Int("attempt", attempt+1),
				zap.Int("maxRetries", c.retry.MaxAttempts))
			var statusErr *httpmiddleware.StatusError
			if errors.As(err, &statusErr) && !statusErr.Retryable() {
				return modelapi.NewFatalError(err)
			}
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to generate speech: %w", err)
	}

	logger.Info("[CartesiaAPI] Generated speech", zap.Int("audioSize", len(respBody)))
	return respBody, nil
}
