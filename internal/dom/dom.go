// Package dom abstracts document access behind a small interface so the
// resolver, relevance filter and extractors run identically against a live
// rod page and a parsed HTML snapshot.
package dom

import "context"

// ElementInfo describes one element surveyed from a document. Selector is
// a short CSS path usable to re-locate the element.
type ElementInfo struct {
	Selector string `json:"selector"`
	Tag      string `json:"tag"`
	ID       string `json:"id"`
	Class    string `json:"class"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Text     string `json:"text"`
	Visible  bool   `json:"visible"`
	Depth    int    `json:"depth"`
	Index    int    `json:"index"`
}

// Block is a coarse content region (paragraph, heading, list item, ...)
// harvested for relevance filtering.
type Block struct {
	Selector string `json:"selector"`
	Tag      string `json:"tag"`
	Text     string `json:"text"`
	Index    int    `json:"index"`
}

// DOM is the read surface the extraction pipeline needs from a document.
// Selectors are CSS; implementations may additionally accept XPath
// (prefixed with "//") and should return ErrUnsupportedSelector otherwise.
type DOM interface {
	// URL returns the document location, used as the cache site key.
	URL() string

	// Count returns the number of visible nodes matching the selector.
	Count(ctx context.Context, selector string) (int, error)

	// Survey returns up to max elements in document order with locator
	// metadata, feeding the semantic strategy.
	Survey(ctx context.Context, max int) ([]ElementInfo, error)

	// FindByText returns the first visible element whose text contains the
	// hint (case-insensitive), or nil when none matches.
	FindByText(ctx context.Context, hint string) (*ElementInfo, error)

	// Text returns the normalized text of the first match.
	Text(ctx context.Context, selector string) (string, error)

	// Texts returns normalized text of up to max matches.
	Texts(ctx context.Context, selector string, max int) ([]string, error)

	// Attr returns the named attribute of the first match.
	Attr(ctx context.Context, selector, name string) (string, error)

	// HTML returns the outer HTML of all matches.
	HTML(ctx context.Context, selector string) ([]string, error)

	// Blocks harvests scoring candidates, skipping subtrees matched by the
	// exclude selectors.
	Blocks(ctx context.Context, exclude []string) ([]Block, error)

	// Title returns the document title.
	Title(ctx context.Context) (string, error)
}

// DefaultExcludes are subtrees skipped during block harvesting: chrome,
// consent and ad furniture that never carries extractable content.
var DefaultExcludes = []string{"nav", "footer", "aside", ".advert", ".cookie", ".newsletter", "script", "style"}
