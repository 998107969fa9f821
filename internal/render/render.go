// Package render turns a content item into platform-ready post text.
package render

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// TagStyle controls which characters survive hashtag cleaning.
type TagStyle int

const (
	// TagAlphanumeric strips everything but letters and digits.
	TagAlphanumeric TagStyle = iota
	// TagAllowUnderscore additionally keeps underscores (Bluesky tags).
	TagAllowUnderscore
)

// Input is the content snapshot a template renders from.
type Input struct {
	Title       string
	URL         string
	PublishedAt time.Time
	Tags        []string
}

// Data is the variable set exposed to templates.
type Data struct {
	Title    string
	URL      string
	Date     string // ISO date of original publication
	Tags     []string
	Hashtags string // space-joined hashtag list
}

// Renderer renders post text from a default template with optional
// per-service overrides.
type Renderer struct {
	defaultTemplate string
}

// New creates a renderer with the given default template.
func New(defaultTemplate string) *Renderer {
	return &Renderer{defaultTemplate: defaultTemplate}
}

// Render produces normalized post text. The service template is tried
// first; if it is absent or fails to render, the default template is used.
// An error is returned only when neither template yields output.
func (r *Renderer) Render(in Input, serviceTemplate string, style TagStyle) (string, error) {
	data := Data{
		Title: in.Title,
		URL:   in.URL,
		Date:  in.PublishedAt.UTC().Format("2006-01-02"),
		Tags:  Hashtags(in.Tags, style),
	}
	data.Hashtags = strings.Join(data.Tags, " ")

	if serviceTemplate != "" {
		if out, err := execute(serviceTemplate, data); err == nil {
			return NormalizeNewlines(out), nil
		}
	}

	if r.defaultTemplate == "" {
		return "", fmt.Errorf("no template available for syndication")
	}
	out, err := execute(r.defaultTemplate, data)
	if err != nil {
		return "", fmt.Errorf("default template failed: %w", err)
	}
	return NormalizeNewlines(out), nil
}

func execute(tmpl string, data Data) (string, error) {
	t, err := template.New("post").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Hashtags cleans each tag and prefixes it with '#'. Tags that clean down
// to nothing are dropped.
func Hashtags(tags []string, style TagStyle) []string {
	var out []string
	for _, tag := range tags {
		cleaned := cleanTag(tag, style)
		if cleaned == "" {
			continue
		}
		out = append(out, "#"+cleaned)
	}
	return out
}

func cleanTag(tag string, style TagStyle) string {
	var b strings.Builder
	for _, r := range tag {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_' && style == TagAllowUnderscore:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeNewlines canonicalizes the newline structure of post text:
// literal "\n" sequences become real newlines, CRLF/CR become LF, runs of
// three or more newlines collapse to two, single newlines between
// non-blank lines double into paragraph breaks, and surrounding
// whitespace is trimmed. The pass is idempotent.
func NormalizeNewlines(content string) string {
	content = strings.ReplaceAll(content, `\n`, "\n")

	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	for strings.Contains(content, "\n\n\n") {
		content = strings.ReplaceAll(content, "\n\n\n", "\n\n")
	}

	content = doubleSingleNewlines(content)

	return strings.TrimSpace(content)
}

// doubleSingleNewlines rewrites "a\nb" to "a\n\nb" without touching
// newlines that are already doubled.
func doubleSingleNewlines(content string) string {
	var b strings.Builder
	b.Grow(len(content) + len(content)/8)
	runes := []byte(content)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		b.WriteByte(c)
		if c != '\n' {
			continue
		}
		prevOK := i > 0 && runes[i-1] != '\n'
		nextOK := i+1 < len(runes) && runes[i+1] != '\n'
		if prevOK && nextOK {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
