package groqapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sbaglivi/RunGraph/logger"
	"github.com/sbaglivi/RunGraph/modelapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = &modelapi.RetryConfig{MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffMultiplier: 2}

var levelSchema = &modelapi.Schema{
	Type:       modelapi.PropertyTypeObject,
	Properties: map[string]*modelapi.Schema{"level": {Type: modelapi.PropertyTypeString}},
	Required:   []string{"level"},
}

func newTestGroq(t *testing.T, handler http.HandlerFunc) *Groq {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return Connect(context.Background(), GroqConnectProps{
		Logger:     logger.Nop(),
		APIKey:     "test-key",
		URL:        server.URL,
		Retry:      fastRetry,
		HTTPClient: server.Client(),
	})
}

func TestCompleteForcesToolCall(t *testing.T) {
	var got ChatRequestInput
	groq := newTestGroq(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","tool_calls":[{"id":"1","type":"function","function":{"name":"record_triage","arguments":"{\"level\":\"beginner\"}"}}]}}]}`))
	})

	out, err := groq.Complete(context.Background(), modelapi.Request{
		Name:         "triage",
		SystemPrompt: "classify",
		Messages:     []modelapi.Message{modelapi.UserMessage("never ran")},
		Schema:       levelSchema,
	})

	require.NoError(t, err)
	assert.JSONEq(t, `{"level":"beginner"}`, out)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "record_triage", got.Tools[0].Function.Name)
	require.NotNil(t, got.ToolChoice)
	assert.Equal(t, "record_triage", got.ToolChoice.Function.Name)
	assert.Equal(t, []ChatCompletionInputMessage{
		{Role: "system", Content: "classify"},
		{Role: "user", Content: "never ran"},
	}, got.Messages)
}

func TestCompleteFreeText(t *testing.T) {
	groq := newTestGroq(t, func(w http.ResponseWriter, r *http.Request) {
		var in ChatRequestInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Empty(t, in.Tools)
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"How old are you?"}}]}`))
	})

	out, err := groq.Complete(context.Background(), modelapi.Request{Name: "question"})

	require.NoError(t, err)
	assert.Equal(t, "How old are you?", out)
}

func TestMakeAPIRequestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	groq := newTestGroq(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	})

	resp, err := groq.MakeAPIRequest(context.Background(), ChatRequestInput{Model: "m"})

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Choices[0].Message.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestMakeAPIRequestDoesNotRetryAuthErrors(t *testing.T) {
	var calls atomic.Int32
	groq := newTestGroq(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := groq.MakeAPIRequest(context.Background(), ChatRequestInput{Model: "m"})

	require.Error(t, err)
	assert.True(t, modelapi.IsFatal(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestArgumentsJSON(t *testing.T) {
	encoded, err := Function{Arguments: json.RawMessage(`"{\"a\":1}"`)}.ArgumentsJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, encoded)

	bare, err := Function{Arguments: json.RawMessage(`{"a":1}`)}.ArgumentsJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, bare)

	_, err = Function{}.ArgumentsJSON()
	assert.Error(t, err)
}

func TestComplete(t *testing.T) {
	apiKey := os.Getenv("GROQ_SECRET_KEY")
	if apiKey == "" {
		t.Skip("GROQ_SECRET_KEY environment variable not set, skipping test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	groq := Connect(ctx, GroqConnectProps{Logger: logger.Connect(logger.LoggerConnectProps{Production: false}), APIKey: apiKey})

	response, err := groq.Complete(ctx, modelapi.Request{
		Name:     "greeting",
		Messages: []modelapi.Message{modelapi.UserMessage("Hello, how are you?")},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, response)
}
