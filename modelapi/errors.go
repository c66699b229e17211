package modelapi

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCompletion = errors.New("completion returned no content")
	ErrMissingSchema   = errors.New("structured generation requires a schema")
)

// SchemaViolationError reports a completion that could not be decoded into
// the requested schema. It is recoverable: the caller may re-prompt.
type SchemaViolationError struct {
	Name string
	Raw  string
	Err  error
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("%s: completion does not conform to schema: %v", e.Name, e.Err)
}

func (e *SchemaViolationError) Unwrap() error {
	return e.Err
}

func IsSchemaViolation(err error) bool {
	var violation *SchemaViolationError
	return errors.As(err, &violation)
}
