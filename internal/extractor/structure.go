package extractor

import (
	"context"
	"strings"

	"ferret/internal/dom"
)

// Heading is one document heading in document order.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Structure is a cheap structural outline of a page: what is there and
// roughly how much, without extracting any of it.
type Structure struct {
	URL      string         `json:"url"`
	Title    string         `json:"title"`
	Headings []Heading      `json:"headings"`
	Counts   map[string]int `json:"counts"`
}

// structureTags are the element populations worth counting up front.
var structureTags = []string{"a", "img", "table", "form", "input", "button", "ul", "ol"}

const maxHeadingsPerLevel = 20

// Structure surveys the document outline: title, headings by level, and
// counts of the interactive and structural element populations. A
// non-empty root selector scopes the outline to that subtree.
func (x *Extractor) Structure(ctx context.Context, d dom.DOM, root string) (*Structure, error) {
	title, err := d.Title(ctx)
	if err != nil {
		return nil, err
	}

	scope := func(tag string) string {
		if root == "" {
			return tag
		}
		return root + " " + tag
	}

	s := &Structure{
		URL:    d.URL(),
		Title:  title,
		Counts: make(map[string]int, len(structureTags)),
	}

	for level, tag := range []string{"h1", "h2", "h3"} {
		texts, err := d.Texts(ctx, scope(tag), maxHeadingsPerLevel)
		if err != nil {
			continue
		}
		for _, t := range texts {
			if t = strings.TrimSpace(t); t != "" {
				s.Headings = append(s.Headings, Heading{Level: level + 1, Text: clip(t, 200)})
			}
		}
	}

	for _, tag := range structureTags {
		n, err := d.Count(ctx, scope(tag))
		if err != nil {
			continue
		}
		s.Counts[tag] = n
	}
	return s, nil
}

// Preview is a bounded plain-text snapshot of a page. Words counts the
// full content, not just the clipped excerpt.
type Preview struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	Words     int    `json:"words"`
	Truncated bool   `json:"truncated"`
}

// Preview returns the page body text clipped to maxChars, preferring the
// main content region when the page marks one.
func (x *Extractor) Preview(ctx context.Context, d dom.DOM, maxChars int) (*Preview, error) {
	if maxChars <= 0 || maxChars > x.maxTextLength {
		maxChars = x.maxTextLength
	}

	title, err := d.Title(ctx)
	if err != nil {
		return nil, err
	}

	text := ""
	for _, sel := range []string{"main", "article", "body"} {
		if t, err := d.Text(ctx, sel); err == nil && strings.TrimSpace(t) != "" {
			text = t
			break
		}
	}

	truncated := len([]rune(text)) > maxChars
	return &Preview{
		URL:       d.URL(),
		Title:     title,
		Text:      clip(text, maxChars),
		Words:     len(strings.Fields(text)),
		Truncated: truncated,
	}, nil
}
