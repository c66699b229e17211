package openaiapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sbaglivi/RunGraph/logger"
	"github.com/sbaglivi/RunGraph/modelapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var planSchema = &modelapi.Schema{
	Type: modelapi.PropertyTypeObject,
	Properties: map[string]*modelapi.Schema{
		"content": {Type: modelapi.PropertyTypeString},
		"weeks": {
			Type:  modelapi.PropertyTypeArray,
			Items: &modelapi.Schema{Type: modelapi.PropertyTypeObject, Properties: map[string]*modelapi.Schema{"n": {Type: modelapi.PropertyTypeInteger}}, Required: []string{"n"}},
		},
	},
	Required: []string{"content", "weeks"},
}

func TestStrictSchemaClosesEveryObject(t *testing.T) {
	doc := StrictSchema(planSchema)

	assert.Equal(t, false, doc["additionalProperties"])
	weeks := doc["properties"].(map[string]any)["weeks"].(map[string]any)
	assert.Equal(t, false, weeks["items"].(map[string]any)["additionalProperties"])
	content := doc["properties"].(map[string]any)["content"].(map[string]any)
	assert.NotContains(t, content, "additionalProperties")
}

func TestCompleteSendsJSONSchema(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("content-type", "application/json")
		w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "test",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"content\":\"run\",\"weeks\":[]}"}}]
		}`))
	}))
	defer server.Close()

	client := Connect(context.Background(), OpenAIConnectProps{Logger: logger.Nop(), APIKey: "test", BaseURL: server.URL, Model: "test"})

	out, err := client.Complete(context.Background(), modelapi.Request{
		Name:         "training plan",
		SystemPrompt: "plan",
		Messages:     []modelapi.Message{modelapi.UserMessage("Create my training plan.")},
		Schema:       planSchema,
	})

	require.NoError(t, err)
	assert.JSONEq(t, `{"content":"run","weeks":[]}`, out)

	format := body["response_format"].(map[string]any)
	assert.Equal(t, "json_schema", format["type"])
	schema := format["json_schema"].(map[string]any)
	assert.Equal(t, "training_plan", schema["name"])
	assert.Equal(t, true, schema["strict"])

	messages := body["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
}

func TestCompleteDoesNotRetryBadRequests(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("content-type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "invalid_json_schema", "type": "invalid_request_error"}}`))
	}))
	defer server.Close()

	client := Connect(context.Background(), OpenAIConnectProps{Logger: logger.Nop(), APIKey: "test", BaseURL: server.URL, Model: "test"})

	_, err := client.Complete(context.Background(), modelapi.Request{Name: "plan", Schema: planSchema})

	require.Error(t, err)
	assert.True(t, modelapi.IsFatal(err))
	assert.Equal(t, 1, calls)
}
