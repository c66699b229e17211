package coach

import (
	"context"
	"errors"
	"slices"
	"strings"
)

// ErrConversationClosed is returned by a UserIO whose user went away.
var ErrConversationClosed = errors.New("conversation closed")

// UserIO is the user-facing side of a session. Each call blocks until the
// user answered or ctx is done.
type UserIO interface {
	Ask(ctx context.Context, prompt string) (string, error)
	AskYesNo(ctx context.Context, prompt string) (bool, error)
	Say(ctx context.Context, text string) error
}

// YES_NO_REMINDER is repeated when an answer is neither yes nor no.
const YES_NO_REMINDER = "Please answer with a yes or no."

var (
	yesWords = []string{"y", "yes", "yeah", "yep", "sure", "ok", "okay", "of course", "absolutely"}
	noWords  = []string{"n", "no", "nope", "nah", "not really", "not at all"}
)

// ParseYesNo reads a free text yes or no. ok is false when the answer is
// neither.
func ParseYesNo(answer string) (yes bool, ok bool) {
	a := strings.ToLower(strings.TrimSpace(answer))
	a = strings.TrimRight(a, ".!")
	switch {
	case slices.Contains(yesWords, a):
		return true, true
	case slices.Contains(noWords, a):
		return false, true
	}
	return false, false
}
