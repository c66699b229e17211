// Package modelapi defines the completion capability the coaching nodes depend on.
// Provider clients live in the sub-packages (geminiapi, groqapi, openaiapi).
package modelapi

import (
	"context"
)

type Role string

const (
	ASSISTANT Role = "assistant"
	SYSTEM    Role = "system"
	USER      Role = "user"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func UserMessage(content string) Message {
	return Message{Role: USER, Content: content}
}

func AssistantMessage(content string) Message {
	return Message{Role: ASSISTANT, Content: content}
}

// Request is a single completion call. A nil Schema asks for free text, a
// non-nil Schema asks for a JSON document conforming to it.
type Request struct {
	Name         string
	Description  string
	SystemPrompt string
	Messages     []Message
	Schema       *Schema
}

// Completer is the external text generation capability. Implementations
// own their transport retries and timeouts; a returned error means the call
// failed as a whole.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
