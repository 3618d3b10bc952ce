// ABOUTME: Terminal sink printing council turns with colored role labels
// ABOUTME: Markdown bodies are rendered with glamour; execution reports keep their layout

package console

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"

	"github.com/2389/coven-council/internal/council"
	"github.com/2389/coven-council/internal/engine"
	"github.com/2389/coven-council/internal/format"
)

// Options configures a Printer.
type Options struct {
	// Markdown renders bodies through glamour. Off prints text as is.
	Markdown bool
	// Style is a glamour standard style name; empty picks one from the terminal.
	Style string
	// Width wraps rendered markdown; zero keeps glamour's default.
	Width int
	// NoColor disables ANSI colors on labels.
	NoColor bool
}

// Printer writes deliveries to a terminal. It is safe for concurrent use.
type Printer struct {
	mu       sync.Mutex
	out      io.Writer
	renderer *glamour.TermRenderer

	user   *color.Color
	system *color.Color
	final  *color.Color
	code   *color.Color
	agent  *color.Color
}

// New creates a Printer writing to out.
func New(out io.Writer, opts Options) (*Printer, error) {
	p := &Printer{
		out:    out,
		user:   color.New(color.FgGreen, color.Bold),
		system: color.New(color.FgYellow),
		final:  color.New(color.FgCyan, color.Bold),
		code:   color.New(color.FgMagenta),
		agent:  color.New(color.FgBlue, color.Bold),
	}
	if opts.NoColor {
		for _, c := range []*color.Color{p.user, p.system, p.final, p.code, p.agent} {
			c.DisableColor()
		}
	}

	if opts.Markdown {
		ropts := []glamour.TermRendererOption{glamour.WithAutoStyle()}
		if opts.Style != "" {
			ropts = []glamour.TermRendererOption{glamour.WithStandardStyle(opts.Style)}
		}
		if opts.Width > 0 {
			ropts = append(ropts, glamour.WithWordWrap(opts.Width))
		}
		r, err := glamour.NewTermRenderer(ropts...)
		if err != nil {
			return nil, fmt.Errorf("creating markdown renderer: %w", err)
		}
		p.renderer = r
	}
	return p, nil
}

// Deliver prints one labelled turn. It reports false when the writer fails.
func (p *Printer) Deliver(_ context.Context, text, displayRole string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	label := p.labelColor(displayRole).Sprint(displayRole)
	if _, err := fmt.Fprintf(p.out, "%s\n%s\n\n", label, p.body(text, displayRole)); err != nil {
		return false
	}
	return true
}

func (p *Printer) body(text, displayRole string) string {
	text = strings.TrimSpace(text)
	if p.renderer == nil || displayRole == council.UserDisplayRole {
		return text
	}
	rendered, err := p.renderer.Render(format.RewriteExecution(text))
	if err != nil {
		return text
	}
	return strings.Trim(rendered, "\n")
}

func (p *Printer) labelColor(displayRole string) *color.Color {
	switch {
	case displayRole == council.UserDisplayRole:
		return p.user
	case displayRole == council.SystemDisplayRole:
		return p.system
	case displayRole == engine.FinalDisplayRole:
		return p.final
	case strings.HasSuffix(displayRole, engine.ExecutionSuffix):
		return p.code
	default:
		return p.agent
	}
}

var _ council.Sink = (*Printer)(nil)
