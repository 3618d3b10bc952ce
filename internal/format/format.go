// ABOUTME: Renders a delivery as chat HTML with goldmark plus a plain-text fallback
// ABOUTME: Execution banners and exit markers become labelled sections before markdown conversion

package format

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// executionBanner starts each block report of the sandbox executor.
const executionBanner = ">>>>>>>> EXECUTING CODE BLOCK"

var (
	tagRe   = regexp.MustCompile(`<[^>]*>`)
	blankRe = regexp.MustCompile(`\n{3,}`)
)

var labels = strings.NewReplacer(
	"exitcode:", "**Exit code:**",
	"Code output:", "**Output:**",
)

// Message is one rendered delivery.
type Message struct {
	HTML  string
	Plain string
}

// Formatter converts markdown with a shared goldmark instance. It is safe for
// concurrent use.
type Formatter struct {
	md goldmark.Markdown
}

// New creates a Formatter with GitHub-flavoured markdown and hard line breaks.
func New() *Formatter {
	return &Formatter{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
		),
	}
}

// Render formats text under a bold role header. The plain body is always set, even
// when markdown conversion fails.
func (f *Formatter) Render(displayRole, text string) (Message, error) {
	plain := displayRole + "\n\n" + strings.TrimSpace(text)
	if displayRole == "" {
		plain = strings.TrimSpace(text)
	}
	msg := Message{Plain: plain}

	var buf bytes.Buffer
	if displayRole != "" {
		fmt.Fprintf(&buf, "<p><strong>%s</strong></p>\n", html.EscapeString(displayRole))
	}
	if err := f.md.Convert([]byte(RewriteExecution(text)), &buf); err != nil {
		return msg, fmt.Errorf("converting markdown: %w", err)
	}
	msg.HTML = buf.String()
	return msg, nil
}

// RewriteExecution replaces sandbox banners with markdown headings and labels. The
// banner's leading '>' would otherwise render as nested block quotes. Lines inside
// fenced code blocks are left as written.
func RewriteExecution(text string) string {
	lines := strings.Split(text, "\n")
	fenced := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			fenced = !fenced
			continue
		}
		if fenced {
			continue
		}
		if strings.HasPrefix(line, executionBanner) {
			lines[i] = "🔧 **Code execution**\n"
			continue
		}
		lines[i] = labels.Replace(line)
	}
	return strings.Join(lines, "\n")
}

// Plain strips tags from an HTML body and decodes entities.
func Plain(body string) string {
	body = strings.ReplaceAll(body, "<br>", "\n")
	body = strings.ReplaceAll(body, "<br />", "\n")
	body = tagRe.ReplaceAllString(body, "")
	body = html.UnescapeString(body)
	body = blankRe.ReplaceAllString(body, "\n\n")
	return strings.TrimSpace(body)
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
