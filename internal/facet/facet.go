// Package facet extracts byte-range annotations (links, hashtags) from
// finalized post text, for platforms whose rich text is addressed by byte
// offset rather than rendered inline.
package facet

import (
	"net/url"
	"regexp"
	"strings"
)

// Kind discriminates facet annotations
type Kind string

const (
	KindLink    Kind = "link"
	KindHashtag Kind = "hashtag"
)

// Facet is a single annotation over [ByteStart, ByteEnd) of the exact
// byte string that will be transmitted.
type Facet struct {
	ByteStart int
	ByteEnd   int
	Kind      Kind
	Value     string // the URL, or the tag without its leading '#'
}

// urlPattern requires a scheme and stops before trailing sentence
// punctuation. A match must be preceded by start-of-line, whitespace, or
// an opening parenthesis so URLs embedded mid-word are skipped.
var urlPattern = regexp.MustCompile(`(?:^|\s|\()(https?://[-a-zA-Z0-9@:%._+~#=]{1,256}(?:\.[a-zA-Z0-9()]{1,6})?\b(?:[-a-zA-Z0-9()@:%_+.~#?&/=]*[-a-zA-Z0-9@%_+~#/=]))`)

// hashtagPattern matches '#' followed by word characters, anchored so the
// '#' never sits mid-word. RE2 has no lookbehind, so the anchor is a
// capture group whose width is subtracted from the reported offset.
var hashtagPattern = regexp.MustCompile(`(^|\s)(#([A-Za-z0-9_]+))`)

// Extract returns all link facets followed by all hashtag facets. Offsets
// are byte positions into text exactly as given.
func Extract(text string) []Facet {
	facets := Links(text)
	return append(facets, Hashtags(text)...)
}

// Links scans line by line, accumulating byte offsets across the consumed
// newlines, and emits a facet for every well-formed absolute URL.
func Links(text string) []Facet {
	var facets []Facet
	pos := 0
	for _, line := range strings.Split(text, "\n") {
		for _, m := range urlPattern.FindAllStringSubmatchIndex(line, -1) {
			start, end := m[2], m[3]
			candidate := line[start:end]
			if !validURL(candidate) {
				continue
			}
			facets = append(facets, Facet{
				ByteStart: pos + start,
				ByteEnd:   pos + end,
				Kind:      KindLink,
				Value:     candidate,
			})
		}
		pos += len(line) + 1
	}
	return facets
}

// Hashtags emits a facet per tag; the byte range covers the '#' while the
// value omits it.
func Hashtags(text string) []Facet {
	var facets []Facet
	for _, m := range hashtagPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[4], m[5]
		facets = append(facets, Facet{
			ByteStart: start,
			ByteEnd:   end,
			Kind:      KindHashtag,
			Value:     text[m[6]:m[7]],
		})
	}
	return facets
}

func validURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
