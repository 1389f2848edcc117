// Package export renders a persisted support transcript as a standalone
// sanitized HTML document. Chat text is treated as markdown; system and raw
// lines are escaped verbatim.
package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/jobdam/agentdesk/internal/support"
)

// Renderer converts transcript lines to HTML.
type Renderer struct {
	md        goldmark.Markdown
	sanitizer *bluemonday.Policy
}

// Option configures the Renderer.
type Option func(*Renderer)

// WithHighlighting enables syntax highlighting with the specified style.
func WithHighlighting(style string) Option {
	return func(r *Renderer) {
		r.md = goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				highlighting.NewHighlighting(
					highlighting.WithStyle(style),
				),
			),
			goldmark.WithParserOptions(
				parser.WithAutoHeadingID(),
			),
			goldmark.WithRendererOptions(
				html.WithHardWraps(),
				html.WithXHTML(),
			),
		)
	}
}

// WithSanitization sets the HTML sanitization policy.
func WithSanitization(policy *bluemonday.Policy) Option {
	return func(r *Renderer) {
		r.sanitizer = policy
	}
}

// NewRenderer creates a Renderer with the given options.
func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
			),
			goldmark.WithParserOptions(
				parser.WithAutoHeadingID(),
			),
			goldmark.WithRendererOptions(
				html.WithHardWraps(),
				html.WithXHTML(),
			),
		),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefaultRenderer returns a renderer with highlighting and sanitization
// suitable for untrusted chat text.
func DefaultRenderer() *Renderer {
	return NewRenderer(
		WithHighlighting("monokai"),
		WithSanitization(createSanitizer()),
	)
}

// createSanitizer builds a bluemonday policy that keeps the markup goldmark
// emits while stripping anything a chat participant could inject.
func createSanitizer() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code", "pre", "span", "div")
	p.AllowDataAttributes()
	p.AllowAttrs("id").Matching(bluemonday.Paragraph).OnElements("h1", "h2", "h3", "h4", "h5", "h6")
	return p
}

// Document renders the full transcript as a standalone HTML page.
func (r *Renderer) Document(title string, lines []support.Line) (string, error) {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\"/>\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", EscapeHTML(title))
	b.WriteString("</head>\n<body>\n")
	fmt.Fprintf(&b, "<h1>%s</h1>\n", EscapeHTML(title))

	for _, line := range lines {
		block, err := r.renderLine(line)
		if err != nil {
			return "", err
		}
		b.WriteString(block)
	}

	b.WriteString("</body>\n</html>\n")
	return b.String(), nil
}

// renderLine converts one transcript line to an HTML block. Chat text goes
// through the markdown pipeline; everything else is escaped as-is.
func (r *Renderer) renderLine(line support.Line) (string, error) {
	label := labelFor(line.Role)
	switch line.Role {
	case support.RoleUser, support.RoleAgent:
		body, err := r.convert(line.Text)
		if err != nil {
			return "", fmt.Errorf("render %s line: %w", line.Role, err)
		}
		return fmt.Sprintf("<div class=\"line %s\"><span class=\"who\">%s</span>%s</div>\n",
			classFor(line.Role), label, body), nil
	default:
		return fmt.Sprintf("<div class=\"line %s\"><span class=\"who\">%s</span><pre>%s</pre></div>\n",
			classFor(line.Role), label, EscapeHTML(line.Text)), nil
	}
}

func (r *Renderer) convert(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	result := buf.String()
	if r.sanitizer != nil {
		result = r.sanitizer.Sanitize(result)
	}
	return result, nil
}

func labelFor(role support.Role) string {
	switch role {
	case support.RoleSystem:
		return "[SYS]"
	case support.RoleAgent:
		return "[me]"
	case support.RoleRaw:
		return "[RAW]"
	default:
		return "[" + string(role) + "]"
	}
}

func classFor(role support.Role) string {
	switch role {
	case support.RoleSystem:
		return "system"
	case support.RoleAgent:
		return "agent"
	case support.RoleUser:
		return "user"
	case support.RoleRaw:
		return "raw"
	default:
		return "other"
	}
}

// EscapeHTML escapes special HTML characters.
func EscapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}
