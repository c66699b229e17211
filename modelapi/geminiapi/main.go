package geminiapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sbaglivi/RunGraph/logger"
	"github.com/sbaglivi/RunGraph/modelapi"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	GEMINI_MODEL_NAME = "gemini-2.5-flash"
)

type GeminiConnectProps struct {
	Logger  *logger.LogMiddleware
	APIKey  string
	Model   string
	Timeout time.Duration
	Retry   *modelapi.RetryConfig
}

type Gemini struct {
	logger  *logger.LogMiddleware
	client  *genai.Client
	model   string
	timeout time.Duration
	retry   modelapi.RetryConfig
}

func Connect(ctx context.Context, args GeminiConnectProps) (*Gemini, error) {
	tracer := otel.Tracer("geminiapi/Connect")
	ctx, span := tracer.Start(ctx, "Connect")
	defer span.End()
	args.Logger.Logger(ctx).Info("[GeminiAPI] Connecting Gemini API client")

	if args.APIKey == "" {
		return nil, errors.New("gemini api key is not set")
	}

	model := args.Model
	if model == "" {
		model = GEMINI_MODEL_NAME
	}
	timeout := args.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	retry := modelapi.DefaultRetryConfig()
	if args.Retry != nil {
		retry = *args.Retry
	}

	span.SetAttributes(attribute.String("model", model))

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  args.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		span.RecordError(err)
		args.Logger.Logger(ctx).Error("[GeminiAPI] Could not create Gemini client", zap.Error(err))
		return nil, fmt.Errorf("could not create gemini client: %w", err)
	}

	return &Gemini{logger: args.Logger, client: client, model: model, timeout: timeout, retry: retry}, nil
}

// Complete sends the transcript to Gemini. Structured requests use the
// native response schema so the model is constrained at decode time.
func (g *Gemini) Complete(ctx context.Context, req modelapi.Request) (string, error) {
	tracer := otel.Tracer("geminiapi/Complete")
	ctx, span := tracer.Start(ctx, "Complete")
	defer span.End()

	span.SetAttributes(
		attribute.String("request.name", req.Name),
		attribute.Int("request.messages", len(req.Messages)),
		attribute.Bool("request.structured", req.Schema != nil),
	)

	config := g.generateConfig(req)
	contents := Contents(req.Messages)

	var text string
	err := modelapi.Retry(ctx, g.retry, func(attempt int) error {
		span.AddEvent("Attempt", trace.WithAttributes(attribute.Int("attemptNumber", attempt+1)))
		g.logger.Logger(ctx).Debug("[GeminiAPI] LLM generation attempt", zap.String("request", req.Name), zap.Int("attempt", attempt+1))

		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		resp, err := g.client.Models.GenerateContent(callCtx, g.model, contents, config)
		if err != nil {
			span.RecordError(err)
			g.logger.Logger(ctx).Warn("[GeminiAPI] Error generating LLM content, retrying...",
				zap.Error(err),
				zap.Int("attempt", attempt+1),
				zap.Int("maxRetries", g.retry.MaxAttempts))
			return classify(err)
		}

		text = strings.TrimSpace(resp.Text())
		if text == "" {
			span.AddEvent("EmptyResponse")
			g.logger.Logger(ctx).Warn("[GeminiAPI] Received empty or invalid response, retrying...",
				zap.Int("attempt", attempt+1),
				zap.Int("maxRetries", g.retry.MaxAttempts))
			return modelapi.ErrEmptyCompletion
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		g.logger.Logger(ctx).Error("[GeminiAPI] Final error generating LLM content after retries", zap.String("request", req.Name), zap.Error(err))
		return "", fmt.Errorf("gemini %s: %w", req.Name, err)
	}

	span.AddEvent("LLM generation successful")
	return text, nil
}

func (g *Gemini) generateConfig(req modelapi.Request) *genai.GenerateContentConfig {
	thinkingBudget := int32(0)

	config := &genai.GenerateContentConfig{
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Schema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = Schema(req.Schema)
	}
	return config
}

// Contents converts a transcript into Gemini turns. Gemini has no assistant
// role; those turns are sent as the model's.
func Contents(messages []modelapi.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		var role genai.Role = genai.RoleUser
		if m.Role == modelapi.ASSISTANT {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	if len(contents) == 0 || contents[0].Role != string(genai.RoleUser) {
		contents = append([]*genai.Content{genai.NewContentFromText("Hi.", genai.RoleUser)}, contents...)
	}
	return contents
}

// Schema translates the neutral schema into Gemini's OpenAPI subset.
func Schema(s *modelapi.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        schemaType(s.Type),
		Description: s.Description,
		Enum:        s.Enum,
		Pattern:     s.Pattern,
		Required:    s.Required,
	}
	if len(s.Enum) > 0 {
		out.Format = "enum"
	}
	if s.Nullable {
		out.Nullable = genai.Ptr(true)
	}
	if s.Items != nil {
		out.Items = Schema(s.Items)
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = Schema(prop)
		}
		out.PropertyOrdering = s.Required
	}
	return out
}

func schemaType(t modelapi.PropertyType) genai.Type {
	switch t {
	case modelapi.PropertyTypeString:
		return genai.TypeString
	case modelapi.PropertyTypeNumber:
		return genai.TypeNumber
	case modelapi.PropertyTypeInteger:
		return genai.TypeInteger
	case modelapi.PropertyTypeBoolean:
		return genai.TypeBoolean
	case modelapi.PropertyTypeArray:
		return genai.TypeArray
	case modelapi.PropertyTypeObject:
		return genai.TypeObject
	}
	return genai.TypeUnspecified
}

func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 400, 401, 403, 404:
			return modelapi.NewFatalError(err)
		}
	}
	return err
}
