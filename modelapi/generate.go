package modelapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

var (
	// ```json { ... } ```
	jsonBlockPattern  = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*\\})\\s*```")
	jsonObjectPattern = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
)

// Validator is implemented by result types with rules a JSON schema can't
// express.
type Validator interface {
	Validate() error
}

type repromptKey struct{}

// WithReprompt marks the context of a repeated call so the next structured
// generation tells the model why its previous answer was rejected.
func WithReprompt(ctx context.Context, cause error) context.Context {
	return context.WithValue(ctx, repromptKey{}, cause)
}

func repromptCause(ctx context.Context) error {
	cause, _ := ctx.Value(repromptKey{}).(error)
	return cause
}

// Generate runs a structured completion and decodes it into T. Anything that
// does not decode, does not match req.Schema, or fails T's own validation is
// reported as a *SchemaViolationError.
func Generate[T any](ctx context.Context, c Completer, req Request) (T, error) {
	var out T
	if req.Schema == nil {
		return out, fmt.Errorf("%s: %w", req.Name, ErrMissingSchema)
	}

	if cause := repromptCause(ctx); cause != nil {
		req.Messages = append(slices.Clone(req.Messages), UserMessage(fmt.Sprintf(
			"Your previous answer was rejected: %v. Reply again with JSON that matches the %s schema exactly.",
			cause, req.Name,
		)))
	}

	raw, err := c.Complete(ctx, req)
	if err != nil {
		return out, err
	}

	body := ExtractJSON(raw)
	if body == "" {
		return out, &SchemaViolationError{Name: req.Name, Raw: raw, Err: errors.New("no JSON object in completion")}
	}

	var generic any
	if err := json.Unmarshal([]byte(body), &generic); err != nil {
		return out, &SchemaViolationError{Name: req.Name, Raw: raw, Err: err}
	}
	if err := req.Schema.Check(generic); err != nil {
		return out, &SchemaViolationError{Name: req.Name, Raw: raw, Err: err}
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return out, &SchemaViolationError{Name: req.Name, Raw: raw, Err: err}
	}
	if v, ok := any(&out).(Validator); ok {
		if err := v.Validate(); err != nil {
			return out, &SchemaViolationError{Name: req.Name, Raw: raw, Err: err}
		}
	}
	return out, nil
}

// Text runs a free-form completion.
func Text(ctx context.Context, c Completer, req Request) (string, error) {
	req.Schema = nil
	raw, err := c.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", fmt.Errorf("%s: %w", req.Name, ErrEmptyCompletion)
	}
	return text, nil
}

// ExtractJSON pulls a JSON object out of a completion, tolerating markdown
// code fences and surrounding prose.
func ExtractJSON(content string) string {
	if matches := jsonBlockPattern.FindStringSubmatch(content); len(matches) > 1 {
		return matches[1]
	}
	return jsonObjectPattern.FindString(content)
}
