// Package render turns transcript messages into safe HTML.
package render

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/ashureev/tripmate/internal/domain"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	emoji "github.com/yuin/goldmark-emoji"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// Renderer converts model markdown to sanitized HTML. It is safe for
// concurrent use.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// New creates a Renderer with GitHub-flavored markdown and emoji shortcodes.
func New() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM, emoji.Emoji),
			goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
		),
		policy: bluemonday.UGCPolicy(),
	}
}

// Markdown renders src and strips anything the UGC policy disallows.
func (r *Renderer) Markdown(src string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return r.policy.Sanitize(buf.String()), nil
}

// Plain escapes user text and keeps its line breaks.
func Plain(text string) string {
	escaped := html.EscapeString(text)
	return strings.ReplaceAll(escaped, "\n", "<br>")
}

// Message renders one transcript entry. Assistant replies are markdown;
// everything else is shown verbatim. A markdown failure falls back to the
// escaped text.
func (r *Renderer) Message(m domain.Message) string {
	if m.Role != domain.RoleAssistant {
		return Plain(m.Content)
	}
	out, err := r.Markdown(m.Content)
	if err != nil {
		return Plain(m.Content)
	}
	return out
}
