package groqapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sbaglivi/RunGraph/httpmiddleware"
	"github.com/sbaglivi/RunGraph/logger"
	"github.com/sbaglivi/RunGraph/modelapi"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	GROQ_MODEL_NAME = "moonshotai/kimi-k2-instruct"
	GROQ_URL        = "https://api.groq.com/openai/v1/chat/completions"
)

type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type ToolWrapper struct {
	Type     string `json:"type"`
	Function Tool   `json:"function"`
}

type ToolChoice struct {
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
	} `json:"function"`
}

type ChatCompletionInputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequestInput struct {
	Model      string                       `json:"model"`
	Messages   []ChatCompletionInputMessage `json:"messages"`
	MaxTokens  int                          `json:"max_tokens"`
	Tools      []ToolWrapper                `json:"tools,omitempty"`
	ToolChoice *ToolChoice                  `json:"tool_choice,omitempty"`
}

type GroqResponse struct {
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls"`
}

type ToolCall struct {
	ID       string   `json:"id"`
	Function Function `json:"function"`
	Type     string   `json:"type"`
}

type Function struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ArgumentsJSON returns the call's arguments as a JSON document. The API
// sends them as a JSON encoded string; some models emit a bare object.
func (f Function) ArgumentsJSON() (string, error) {
	raw := bytes.TrimSpace(f.Arguments)
	if len(raw) == 0 {
		return "", errors.New("tool call has no arguments")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	return string(raw), nil
}

type GroqConnectProps struct {
	Logger     *logger.LogMiddleware
	APIKey     string
	Model      string
	URL        string
	MaxWorkers int
	Timeout    time.Duration
	Retry      *modelapi.RetryConfig
	HTTPClient *http.Client
}

type Groq struct {
	logger    *logger.LogMiddleware
	semaphore *semaphore.Weighted
	apiKey    string
	model     string
	url       string
	timeout   time.Duration
	retry     modelapi.RetryConfig
	client    *http.Client
}

func Connect(ctx context.Context, args GroqConnectProps) *Groq {
	tracer := otel.Tracer("groqapi/Connect")
	ctx, span := tracer.Start(ctx, "Connect")
	defer span.End()

	maxWorkers := args.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	sem := semaphore.NewWeighted(int64(maxWorkers))

	span.SetAttributes(attribute.Int("maxWorkers", maxWorkers))

	g := &Groq{
		logger:    args.Logger,
		semaphore: sem,
		apiKey:    args.APIKey,
		model:     args.Model,
		url:       args.URL,
		timeout:   args.Timeout,
		retry:     modelapi.DefaultRetryConfig(),
		client:    args.HTTPClient,
	}
	if g.model == "" {
		g.model = GROQ_MODEL_NAME
	}
	if g.url == "" {
		g.url = GROQ_URL
	}
	if g.timeout <= 0 {
		g.timeout = 60 * time.Second
	}
	if args.Retry != nil {
		g.retry = *args.Retry
	}
	args.Logger.Logger(ctx).Info("[Groq-API] Client ready", zap.String("model", g.model))
	return g
}

func (o *Groq) MakeAPIRequest(ctx context.Context, input ChatRequestInput) (*GroqResponse, error) {
	tracer := otel.Tracer("groqapi/MakeAPIRequest")
	ctx, span := tracer.Start(ctx, "MakeAPIRequest")
	defer span.End()

	span.SetAttributes(
		attribute.String("api.url", o.url),
		attribute.Int("request.max_tokens", input.MaxTokens),
		attribute.String("request.model", input.Model),
	)

	jsonData, err := json.Marshal(input)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("could not generate request body: %w", err)
	}

	var messageResponse *GroqResponse
	err = modelapi.Retry(ctx, o.retry, func(attempt int) error {
		resp, err := o.send(ctx, jsonData)
		if err != nil {
			span.RecordError(err)
			o.logger.Logger(ctx).Warn(
				"[Groq-API] Could not make request to Groq. Retrying after sleeping.",
				zap.Error(err),
				zap.Int("attempt", attempt+1),
				zap.Duration("sleep_time", o.retry.Backoff(attempt)),
			)
			return err
		}
		messageResponse = resp
		return nil
	})
	if err != nil {
		span.AddEvent("All retries exhausted")
		return nil, fmt.Errorf("groq request failed: %w", err)
	}

	span.AddEvent("Request successful")
	return messageResponse, nil
}

func (o *Groq) send(ctx context.Context, body []byte) (*GroqResponse, error) {
	if err := o.semaphore.Acquire(ctx, 1); err != nil {
		return nil, modelapi.NewFatalError(fmt.Errorf("failed to acquire semaphore: %w", err))
	}
	defer o.semaphore.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	respBody, err := httpmiddleware.HttpRequest(httpmiddleware.HttpRequestStruct{
		Ctx:    callCtx,
		Method: http.MethodPost,
		Url:    o.url,
		Body:   bytes.NewReader(body),
		Headers: map[string]string{
			"authorization": "Bearer " + o.apiKey,
			"content-type":  "application/json",
		},
		Client: o.client,
	})
	if err != nil {
		var statusErr *httpmiddleware.StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			return nil, modelapi.NewFatalError(err)
		}
		return nil, err
	}

	var messageResponse GroqResponse
	if err := json.Unmarshal(respBody, &messageResponse); err != nil {
		return nil, fmt.Errorf("could not parse groq response: %w", err)
	}
	if len(messageResponse.Choices) == 0 {
		return nil, errors.New("groq response has no choices")
	}
	return &messageResponse, nil
}

// Complete implements modelapi.Completer. Structured requests are sent as a
// single forced tool call whose parameters are the request schema.
func (a *Groq) Complete(ctx context.Context, req modelapi.Request) (string, error) {
	tracer := otel.Tracer("groqapi/Complete")
	ctx, span := tracer.Start(ctx, "Complete")
	defer span.End()

	span.SetAttributes(
		attribute.String("request.name", req.Name),
		attribute.Int("conversation_history_length", len(req.Messages)),
	)

	input := ChatRequestInput{
		Model:     a.model,
		MaxTokens: 4096,
		Messages:  Messages(req),
	}
	if req.Schema != nil {
		name := toolName(req.Name)
		input.Tools = []ToolWrapper{{
			Type: "function",
			Function: Tool{
				Name:        name,
				Description: req.Description,
				Parameters:  req.Schema.JSONSchema(),
			},
		}}
		input.ToolChoice = &ToolChoice{Type: "function"}
		input.ToolChoice.Function.Name = name
	}

	resp, err := a.MakeAPIRequest(ctx, input)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	msg := resp.Choices[0].Message
	if req.Schema == nil {
		if strings.TrimSpace(msg.Content) == "" {
			return "", modelapi.ErrEmptyCompletion
		}
		return msg.Content, nil
	}

	if len(msg.ToolCalls) == 0 {
		// The model answered in prose; let the caller try to find JSON in it.
		a.logger.Logger(ctx).Warn("[Groq-API] Model skipped the forced tool call", zap.String("request", req.Name))
		return msg.Content, nil
	}
	return msg.ToolCalls[0].Function.ArgumentsJSON()
}

// Messages flattens a request into the chat completions message list.
func Messages(req modelapi.Request) []ChatCompletionInputMessage {
	messages := make([]ChatCompletionInputMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, ChatCompletionInputMessage{Role: string(modelapi.SYSTEM), Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, ChatCompletionInputMessage{Role: string(m.Role), Content: m.Content})
	}
	return messages
}

func toolName(name string) string {
	if name == "" {
		return "respond"
	}
	return "record_" + strings.ReplaceAll(name, " ", "_")
}
