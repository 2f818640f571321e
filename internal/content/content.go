package content

import (
	"bytes"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	policy = bluemonday.UGCPolicy()

	md = goldmark.New(
		goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
	)
)

// Sanitize removes unsafe HTML from the input string using a strict policy.
// It is applied to chat message content before it is stored or forwarded.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// Render converts message markdown to HTML and sanitizes the result.
// The output is what UI layers display; the raw content is kept as sent.
func Render(input string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(input), &buf); err != nil {
		// Fall back to the escaped plain text on conversion failure.
		return policy.Sanitize(input)
	}
	return strings.TrimSpace(policy.Sanitize(buf.String()))
}
