// Package console talks to the user on a terminal.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sbaglivi/RunGraph/coach"
	"github.com/sbaglivi/RunGraph/logger"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
)

const WORD_WRAP = 80

type Styles struct {
	Coach  lipgloss.Style
	Prompt lipgloss.Style
	Muted  lipgloss.Style
}

func DefaultStyles() Styles {
	accent := lipgloss.Color("#F25D94")
	return Styles{
		Coach: lipgloss.NewStyle().
			Foreground(accent).
			Bold(true),
		Prompt: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true),
		Muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Italic(true),
	}
}

type ConsoleConnectProps struct {
	Logger *logger.LogMiddleware
	In     io.Reader
	Out    io.Writer
	// Plain disables markdown rendering and colors.
	Plain bool
}

// Console is a coach.UserIO over a reader and a writer.
type Console struct {
	logger   *logger.LogMiddleware
	scanner  *bufio.Scanner
	out      io.Writer
	styles   Styles
	renderer *glamour.TermRenderer
	plain    bool
}

var _ coach.UserIO = (*Console)(nil)

func Connect(args ConsoleConnectProps) *Console {
	c := &Console{
		logger:  args.Logger,
		scanner: bufio.NewScanner(args.In),
		out:     args.Out,
		styles:  DefaultStyles(),
		plain:   args.Plain,
	}
	if !args.Plain {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(WORD_WRAP),
		)
		if err != nil {
			args.Logger.Logger(context.Background()).Warn("[Console] Markdown rendering disabled", zap.Error(err))
		}
		c.renderer = renderer
	}
	return c
}

func (c *Console) Say(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(c.out, c.coach(text))
	return err
}

// Ask shows the prompt and reads one line. Reading can't be interrupted, so
// ctx is only checked before the prompt is shown.
func (c *Console) Ask(ctx context.Context, prompt string) (string, error) {
	if err := c.Say(ctx, prompt); err != nil {
		return "", err
	}
	return c.readLine()
}

// AskYesNo repeats the reminder until the answer is a yes or a no.
func (c *Console) AskYesNo(ctx context.Context, prompt string) (bool, error) {
	answer, err := c.Ask(ctx, prompt)
	for err == nil {
		if yes, ok := coach.ParseYesNo(answer); ok {
			return yes, nil
		}
		answer, err = c.Ask(ctx, coach.YES_NO_REMINDER)
	}
	return false, err
}

func (c *Console) readLine() (string, error) {
	fmt.Fprint(c.out, c.style(c.styles.Prompt, "> "))
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return "", err
		}
		return "", coach.ErrConversationClosed
	}
	return strings.TrimSpace(c.scanner.Text()), nil
}

func (c *Console) coach(text string) string {
	if c.plain {
		return "Running coach: " + text
	}
	body := text
	if c.renderer != nil {
		if rendered, err := c.renderer.Render(text); err == nil {
			body = strings.Trim(rendered, "\n")
		}
	}
	return c.styles.Coach.Render("Running coach:") + "\n" + body
}

func (c *Console) style(s lipgloss.Style, text string) string {
	if c.plain {
		return text
	}
	return s.Render(text)
}
