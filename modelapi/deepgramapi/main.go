package deepgramapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sbaglivi/RunGraph/logger"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/pkg/client/listen"
	"go.uber.org/zap"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const DEEPGRAM_MODEL_NAME = "nova-3"

var ErrNoSpeech = errors.New("no speech found in audio")

type DeepgramConnectProps struct {
	Logger   *logger.LogMiddleware
	APIKey   string
	Language string
}

type DeepgramAPI struct {
	logger   *logger.LogMiddleware
	dg       *api.Client
	language string
}

func Connect(ctx context.Context, args DeepgramConnectProps) *DeepgramAPI {
	tracer := otel.Tracer("deepgramapi/Connect")
	ctx, span := tracer.Start(ctx, "Connect")
	defer span.End()

	c := client.NewRESTWithDefaults()
	if args.APIKey != "" {
		c = client.NewREST(args.APIKey, &interfaces.ClientOptions{})
	}
	dg := api.New(c)

	language := args.Language
	if language == "" {
		language = "en"
	}
	args.Logger.Logger(ctx).Info("[DeepgramAPI] Client ready", zap.String("language", language))

	return &DeepgramAPI{logger: args.Logger, dg: dg, language: language}
}

// Transcribe turns a voice answer into text.
func (d *DeepgramAPI) Transcribe(ctx context.Context, audioData []byte) (string, error) {
	tracer := otel.Tracer("deepgramapi/Transcribe")
	ctx, span := tracer.Start(ctx, "Transcribe")
	defer span.End()

	span.SetAttributes(attribute.Int("audio.data.size", len(audioData)))

	logger := d.logger.Logger(ctx)

	options := &interfaces.PreRecordedTranscriptionOptions{
		Punctuate:   true,
		SmartFormat: true,
		Language:    d.language,
		Model:       DEEPGRAM_MODEL_NAME,
	}

	span.AddEvent("Calling Deepgram API")
	res, err := d.dg.FromStream(ctx, bytes.NewReader(audioData), options)
	if err != nil {
		logger.Error("[DeepgramAPI] Transcription failed", zap.Error(err))
		span.RecordError(err)
		return "", fmt.Errorf("deepgram transcription failed: %w", err)
	}

	if res != nil && res.Results != nil && len(res.Results.Channels) > 0 {
		channel := res.Results.Channels[0]
		if len(channel.Alternatives) > 0 {
			transcription := strings.TrimSpace(channel.Alternatives[0].Transcript)
			if transcription != "" {
				logger.Info("[DeepgramAPI] Transcribed audio", zap.Int("transcription.length", len(transcription)))
				span.AddEvent("Transcription successful", trace.WithAttributes(attribute.Int("transcription.length", len(transcription))))
				return transcription, nil
			}
		}
	}

	logger.Warn("[DeepgramAPI] No transcription found in response")
	span.AddEvent("No transcription found in Deepgram response")
	return "", ErrNoSpeech
}
