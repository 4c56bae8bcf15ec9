// Package nlq turns plain field names ("customer_rating", "product price")
// into resolver targets: a canonical logical name, an inferred field type
// and a ranked list of candidate selectors. Purely rule-based and
// deterministic; identical input always yields an identical target.
package nlq

import (
	"regexp"
	"sort"
	"strings"

	"ferret/internal/selector"
)

// FieldSpec carries per-field overrides from the task payload. All fields
// are optional; an empty spec means everything is inferred from the name.
type FieldSpec struct {
	Type      string   `json:"type,omitempty"`
	Selector  string   `json:"selector,omitempty"`
	Selectors []string `json:"selectors,omitempty"`
	Attribute string   `json:"attribute,omitempty"`
	TextHint  string   `json:"text_hint,omitempty"`
	Required  bool     `json:"required,omitempty"`
}

// Field is a parsed extraction field: the caller's name, the canonical
// logical name used for caching, the inferred type and the resolver target.
type Field struct {
	Name      string
	Canonical string
	Type      string
	Attribute string
	Required  bool
	Target    selector.Target
}

var stopWords = map[string]bool{
	"the": true, "of": true, "a": true, "an": true, "and": true,
	"for": true, "to": true, "in": true, "on": true, "with": true,
}

// synonyms maps field-name tokens onto canonical logical names, so
// "cost", "price" and "amount" all share one cache entry per site.
var synonyms = map[string]string{
	"price": "price", "cost": "price", "amount": "price", "fee": "price",
	"rating": "rating", "ratings": "rating", "stars": "rating", "score": "rating",
	"title": "title", "headline": "title", "heading": "title", "name": "title",
	"description": "description", "summary": "description", "overview": "description", "details": "description",
	"link": "link", "url": "link", "href": "link",
	"image": "image", "img": "image", "photo": "image", "picture": "image", "thumbnail": "image",
	"author": "author", "byline": "author", "creator": "author",
	"date": "date", "published": "date", "updated": "date",
	"availability": "availability", "stock": "availability", "instock": "availability",
}

var (
	numberHints  = []string{"price", "cost", "amount", "total", "score", "rating", "count", "number"}
	linkHints    = []string{"link", "url", "href"}
	buttonHints  = []string{"button", "cta", "submit", "buy"}
	tableHints   = []string{"table", "rows", "columns"}
	listHints    = []string{"list", "items", "results"}
	booleanHints = []string{"enabled", "available", "active", "checked"}
)

var splitRe = regexp.MustCompile(`[^a-z0-9]+`)

// Tokenize lowercases, splits on non-alphanumeric boundaries and strips
// stop-words, preserving order.
func Tokenize(fieldQuery string) []string {
	var out []string
	for _, tok := range splitRe.Split(strings.ToLower(fieldQuery), -1) {
		if tok == "" || stopWords[tok] {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// Canonical maps a field query to its canonical logical name: the first
// token that belongs to a synonym cluster wins; otherwise the stripped
// tokens joined by underscores.
func Canonical(fieldQuery string) string {
	tokens := Tokenize(fieldQuery)
	for _, tok := range tokens {
		if canon, ok := synonyms[tok]; ok {
			return canon
		}
	}
	if len(tokens) == 0 {
		return strings.ToLower(strings.TrimSpace(fieldQuery))
	}
	return strings.Join(tokens, "_")
}

// InferType guesses the field archetype from its tokens.
func InferType(fieldQuery string) string {
	name := strings.ToLower(fieldQuery)
	switch {
	case containsAny(name, tableHints):
		return "table"
	case containsAny(name, listHints):
		return "list"
	case containsAny(name, numberHints):
		return "number"
	case containsAny(name, booleanHints):
		return "boolean"
	case containsAny(name, linkHints):
		return "link"
	case containsAny(name, buttonHints):
		return "button"
	default:
		return "text"
	}
}

// Parse turns a bare field query into a Field with inferred everything.
func Parse(fieldQuery string) Field {
	return ParseField(fieldQuery, FieldSpec{})
}

// ParseField applies explicit overrides from the task payload on top of
// the inferred target.
func ParseField(fieldQuery string, spec FieldSpec) Field {
	canonical := Canonical(fieldQuery)

	fieldType := strings.ToLower(spec.Type)
	if fieldType == "" {
		fieldType = InferType(fieldQuery)
	}

	var sels []string
	sels = append(sels, spec.Selectors...)
	if spec.Selector != "" {
		sels = append(sels, spec.Selector)
	}
	sels = append(sels, buildSelectors(fieldQuery, canonical, fieldType)...)

	attribute := spec.Attribute
	if fieldType == "link" && attribute == "" {
		attribute = "href"
	}
	if fieldType == "image" && attribute == "" {
		attribute = "src"
	}

	textHint := spec.TextHint
	if textHint == "" {
		textHint = strings.Join(Tokenize(fieldQuery), " ")
	}

	return Field{
		Name:      fieldQuery,
		Canonical: canonical,
		Type:      fieldType,
		Attribute: attribute,
		Required:  spec.Required,
		Target: selector.Target{
			LogicalName:  canonical,
			Selectors:    uniqueOrdered(sels),
			TextHint:     textHint,
			SemanticHint: canonical + " " + fieldType,
		},
	}
}

// buildSelectors produces the candidate selector ladder: data attributes
// first (most intentional), then ids and classes, then type archetypes.
func buildSelectors(fieldQuery, canonical, fieldType string) []string {
	normalized := strings.Join(Tokenize(fieldQuery), "_")
	if normalized == "" {
		normalized = canonical
	}

	sels := []string{
		"[data-field='" + normalized + "']",
		"[data-testid*='" + normalized + "']",
		"[name*='" + normalized + "']",
		"#" + normalized,
		"." + normalized,
	}
	if canonical != normalized {
		sels = append(sels,
			"[data-field='"+canonical+"']",
			"#"+canonical,
			"."+canonical,
		)
	}

	switch fieldType {
	case "number":
		switch canonical {
		case "rating":
			sels = append(sels, "[itemprop='ratingValue']", ".rating", ".stars", ".score")
		default:
			sels = append(sels, "[data-price]", ".price", "[itemprop='price']", ".amount")
		}
	case "button":
		sels = append(sels, "button", "[role='button']", "input[type='submit']")
	case "link":
		sels = append(sels, "a[href]")
	case "image":
		sels = append(sels, "img[src]")
	case "table":
		sels = append(sels, "table", "[role='table']")
	case "list":
		sels = append(sels, "ul li", "ol li", "[role='listitem']")
	default:
		sels = append(sels, "h1", "h2", "h3", ".title", ".name", ".label", "p")
	}
	return sels
}

// ParseQuery parses every field of a query map deterministically (sorted
// by field name), so repeated runs over the same task are identical.
func ParseQuery(fields map[string]FieldSpec) []Field {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Field, 0, len(names))
	for _, name := range names {
		out = append(out, ParseField(name, fields[name]))
	}
	return out
}

func containsAny(s string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}

func uniqueOrdered(items []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, item := range items {
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
