// Package modeltest provides a scripted completer for tests.
package modeltest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sbaglivi/RunGraph/modelapi"
)

type reply struct {
	text string
	err  error
}

// Script answers completion requests from per-request-name queues, in order.
// A request with nothing queued fails the test run with an error.
type Script struct {
	mu       sync.Mutex
	replies  map[string][]reply
	requests []modelapi.Request
}

func NewScript() *Script {
	return &Script{replies: map[string][]reply{}}
}

// On queues raw completions for requests named name.
func (s *Script) On(name string, completions ...string) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range completions {
		s.replies[name] = append(s.replies[name], reply{text: c})
	}
	return s
}

// OnJSON queues the JSON encoding of each value.
func (s *Script) OnJSON(name string, values ...any) *Script {
	for _, v := range values {
		s.On(name, JSON(v))
	}
	return s
}

// Fail queues an error for requests named name.
func (s *Script) Fail(name string, err error) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[name] = append(s.replies[name], reply{err: err})
	return s
}

func (s *Script) Complete(ctx context.Context, req modelapi.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)

	queue := s.replies[req.Name]
	if len(queue) == 0 {
		return "", fmt.Errorf("modeltest: no completion scripted for %q", req.Name)
	}
	next := queue[0]
	s.replies[req.Name] = queue[1:]
	return next.text, next.err
}

// Requests returns every request received with the given name.
func (s *Script) Requests(name string) []modelapi.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []modelapi.Request
	for _, r := range s.requests {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out
}

// Pending counts scripted completions nobody asked for.
func (s *Script) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.replies {
		n += len(q)
	}
	return n
}

func JSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
