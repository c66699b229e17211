package openaiapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sbaglivi/RunGraph/logger"
	"github.com/sbaglivi/RunGraph/modelapi"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"
	"github.com/openai/openai-go/v2/shared"
)

const (
	OPENAI_MODEL_NAME = "gpt-4o-mini"

	DEEPINFRA_BASE_URL   = "https://api.deepinfra.com/v1/openai"
	DEEPINFRA_MODEL_NAME = "meta-llama/Meta-Llama-3.1-70B-Instruct"
	KOKORO_TTS           = "hexgrad/Kokoro-82M"
	KOKORO_VOICE         = "af_heart"
)

type OpenAI struct {
	logger    *logger.LogMiddleware
	semaphore *semaphore.Weighted
	client    *openai.Client
	model     string
	deepinfra bool
}

type OpenAIConnectProps struct {
	Logger *logger.LogMiddleware
	APIKey string
	Model  string
	// BaseURL points the client at an OpenAI compatible endpoint such as
	// DEEPINFRA_BASE_URL.
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

func Connect(ctx context.Context, args OpenAIConnectProps) *OpenAI {
	tracer := otel.Tracer("openaiapi/Connect")
	ctx, span := tracer.Start(ctx, "Connect")
	defer span.End()

	maxWorkers := 10
	sem := semaphore.NewWeighted(int64(maxWorkers))

	deepinfra := args.BaseURL == DEEPINFRA_BASE_URL
	model := args.Model
	if model == "" {
		model = OPENAI_MODEL_NAME
		if deepinfra {
			model = DEEPINFRA_MODEL_NAME
		}
	}
	timeout := args.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxRetries := args.MaxRetries
	if maxRetries <= 0 {
		maxRetries = modelapi.DefaultRetryConfig().MaxAttempts - 1
	}

	opts := []option.RequestOption{
		option.WithAPIKey(args.APIKey),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(maxRetries),
	}
	if args.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(args.BaseURL))
	}

	span.SetAttributes(attribute.Int("maxWorkers", maxWorkers), attribute.String("model", model))
	client := openai.NewClient(opts...)

	args.Logger.Logger(ctx).Info("[OpenAIAPI] Client ready", zap.String("model", model), zap.Bool("deepinfra", deepinfra))
	return &OpenAI{logger: args.Logger, semaphore: sem, client: &client, model: model, deepinfra: deepinfra}
}

// Complete implements modelapi.Completer. Structured requests use the
// json_schema response format in strict mode.
func (o *OpenAI) Complete(ctx context.Context, req modelapi.Request) (string, error) {
	tracer := otel.Tracer("openaiapi/Complete")
	ctx, span := tracer.Start(ctx, "Complete")
	defer span.End()

	span.SetAttributes(
		attribute.String("request.name", req.Name),
		attribute.Int("request.messages", len(req.Messages)),
	)

	if err := o.semaphore.Acquire(ctx, 1); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to acquire semaphore: %w", err)
	}
	defer o.semaphore.Release(1)

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(o.model),
		Messages: Messages(req),
	}
	if req.Schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        schemaName(req.Name),
					Description: param.NewOpt(req.Description),
					Schema:      StrictSchema(req.Schema),
					Strict:      param.NewOpt(true),
				},
			},
		}
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		span.RecordError(err)
		o.logger.Logger(ctx).Error("[OpenAIAPI] Chat completion failed", zap.String("request", req.Name), zap.Error(err))
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 && apiErr.StatusCode != 429 {
			return "", modelapi.NewFatalError(err)
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", modelapi.ErrEmptyCompletion
	}

	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return "", fmt.Errorf("model refused %s: %s", req.Name, msg.Refusal)
	}
	if strings.TrimSpace(msg.Content) == "" {
		return "", modelapi.ErrEmptyCompletion
	}
	return msg.Content, nil
}

// GenerateSpeech voices a coach reply as mp3. On DeepInfra this runs
// Kokoro, on OpenAI the mini TTS model.
func (o *OpenAI) GenerateSpeech(ctx context.Context, inputText string) ([]byte, error) {
	tracer := otel.Tracer("openaiapi/GenerateSpeech")
	ctx, span := tracer.Start(ctx, "GenerateSpeech")
	defer span.End()

	o.logger.Logger(ctx).Info("[OpenAIAPI] Generating speech", zap.Int("inputText.length", len(inputText)))

	params := openai.AudioSpeechNewParams{
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
		Model:          openai.SpeechModelGPT4oMiniTTS,
		Input:          inputText,
		Voice:          openai.AudioSpeechNewParamsVoiceSage,
		Instructions:   param.NewOpt(modelapi.VOICE_STYLE_INSTRUCTION),
	}
	if o.deepinfra {
		params.Model = KOKORO_TTS
		params.Voice = KOKORO_VOICE
		params.Instructions = param.Opt[string]{}
		params.Speed = param.NewOpt(1.1)
	}

	res, err := o.client.Audio.Speech.New(ctx, params)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("speech generation failed: %w", err)
	}
	defer res.Body.Close()

	return io.ReadAll(res.Body)
}

func Messages(req modelapi.Request) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case modelapi.ASSISTANT:
			messages = append(messages, openai.AssistantMessage(m.Content))
		case modelapi.SYSTEM:
			messages = append(messages, openai.SystemMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	return messages
}

// StrictSchema renders the schema for strict structured outputs, which
// require every object to forbid additional properties.
func StrictSchema(s *modelapi.Schema) map[string]any {
	doc := s.JSONSchema()
	closeObjects(doc)
	return doc
}

func closeObjects(node map[string]any) {
	if props, ok := node["properties"].(map[string]any); ok {
		node["additionalProperties"] = false
		for _, p := range props {
			if child, ok := p.(map[string]any); ok {
				closeObjects(child)
			}
		}
	}
	if items, ok := node["items"].(map[string]any); ok {
		closeObjects(items)
	}
}

func schemaName(name string) string {
	if name == "" {
		return "response"
	}
	return strings.NewReplacer(" ", "_", "-", "_").Replace(name)
}
