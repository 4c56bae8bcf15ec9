package dom

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// ErrUnsupportedSelector is returned for selector syntaxes an
// implementation cannot evaluate (e.g. XPath against a static snapshot).
var ErrUnsupportedSelector = errors.New("dom: unsupported selector")

// Static is a DOM over a parsed HTML snapshot. It backs offline extraction
// and the resolver/relevance tests; no browser is involved.
type Static struct {
	url string
	doc *goquery.Document
}

// ParseStatic parses an HTML document fetched from url.
func ParseStatic(url, htmlSrc string) (*Static, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlSrc))
	if err != nil {
		return nil, fmt.Errorf("dom: parse html: %w", err)
	}
	return &Static{url: url, doc: doc}, nil
}

func (s *Static) URL() string { return s.url }

func (s *Static) find(selector string) (*goquery.Selection, error) {
	if strings.HasPrefix(selector, "//") || strings.HasPrefix(selector, "xpath=") {
		return nil, ErrUnsupportedSelector
	}
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("dom: selector %q: %w", selector, err)
	}
	return s.doc.FindMatcher(m), nil
}

func (s *Static) Count(_ context.Context, selector string) (int, error) {
	sel, err := s.find(selector)
	if err != nil {
		return 0, err
	}
	n := 0
	sel.Each(func(_ int, el *goquery.Selection) {
		if len(el.Nodes) > 0 && nodeVisible(el.Nodes[0]) {
			n++
		}
	})
	return n, nil
}

func (s *Static) Survey(_ context.Context, max int) ([]ElementInfo, error) {
	var out []ElementInfo
	index := 0
	s.doc.Find("body *").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		if index >= max {
			return false
		}
		n := el.Nodes[0]
		out = append(out, ElementInfo{
			Selector: cssPath(n),
			Tag:      n.Data,
			ID:       attr(n, "id"),
			Class:    attr(n, "class"),
			Name:     attr(n, "name"),
			Role:     attr(n, "role"),
			Text:     clip(normalizeSpace(el.Text()), 140),
			Visible:  nodeVisible(n),
			Depth:    nodeDepth(n),
			Index:    index,
		})
		index++
		return true
	})
	return out, nil
}

func (s *Static) FindByText(_ context.Context, hint string) (*ElementInfo, error) {
	hint = strings.ToLower(normalizeSpace(hint))
	if hint == "" {
		return nil, nil
	}

	// Prefer the deepest matching element: a body-wide container always
	// contains every string on the page.
	var found *ElementInfo
	index := 0
	s.doc.Find("body *").Each(func(_ int, el *goquery.Selection) {
		n := el.Nodes[0]
		idx := index
		index++
		if !nodeVisible(n) {
			return
		}
		text := strings.ToLower(normalizeSpace(el.Text()))
		if !strings.Contains(text, hint) {
			return
		}
		childMatches := false
		el.Children().Each(func(_ int, child *goquery.Selection) {
			if strings.Contains(strings.ToLower(normalizeSpace(child.Text())), hint) {
				childMatches = true
			}
		})
		if childMatches {
			return
		}
		if found == nil {
			found = &ElementInfo{
				Selector: cssPath(n),
				Tag:      n.Data,
				ID:       attr(n, "id"),
				Class:    attr(n, "class"),
				Name:     attr(n, "name"),
				Role:     attr(n, "role"),
				Text:     clip(normalizeSpace(el.Text()), 140),
				Visible:  true,
				Depth:    nodeDepth(n),
				Index:    idx,
			}
		}
	})
	return found, nil
}

func (s *Static) Text(_ context.Context, selector string) (string, error) {
	sel, err := s.find(selector)
	if err != nil {
		return "", err
	}
	return normalizeSpace(sel.First().Text()), nil
}

func (s *Static) Texts(_ context.Context, selector string, max int) ([]string, error) {
	sel, err := s.find(selector)
	if err != nil {
		return nil, err
	}
	var out []string
	sel.EachWithBreak(func(_ int, el *goquery.Selection) bool {
		if len(out) >= max {
			return false
		}
		if t := normalizeSpace(el.Text()); t != "" {
			out = append(out, t)
		}
		return true
	})
	return out, nil
}

func (s *Static) Attr(_ context.Context, selector, name string) (string, error) {
	sel, err := s.find(selector)
	if err != nil {
		return "", err
	}
	v, _ := sel.First().Attr(name)
	return v, nil
}

func (s *Static) HTML(_ context.Context, selector string) ([]string, error) {
	sel, err := s.find(selector)
	if err != nil {
		return nil, err
	}
	var out []string
	sel.Each(func(_ int, el *goquery.Selection) {
		if h, err := goquery.OuterHtml(el); err == nil {
			out = append(out, h)
		}
	})
	return out, nil
}

func (s *Static) Blocks(_ context.Context, exclude []string) ([]Block, error) {
	if len(exclude) == 0 {
		exclude = DefaultExcludes
	}
	matchers := make([]cascadia.Selector, 0, len(exclude))
	for _, ex := range exclude {
		if m, err := cascadia.Compile(ex); err == nil {
			matchers = append(matchers, m)
		}
	}

	var out []Block
	index := 0
	s.doc.Find("main, article, section, div, p, li, h1, h2, h3, table").Each(func(_ int, el *goquery.Selection) {
		n := el.Nodes[0]
		if !nodeVisible(n) || excluded(n, matchers) {
			return
		}
		text := normalizeSpace(el.Text())
		if len(text) < 20 {
			return
		}
		out = append(out, Block{
			Selector: cssPath(n),
			Tag:      n.Data,
			Text:     clip(text, 500),
			Index:    index,
		})
		index++
	})
	return out, nil
}

func (s *Static) Title(_ context.Context) (string, error) {
	return normalizeSpace(s.doc.Find("title").First().Text()), nil
}

func excluded(n *html.Node, matchers []cascadia.Selector) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		for _, m := range matchers {
			if m.Match(cur) {
				return true
			}
		}
	}
	return false
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

var hiddenTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "head": true,
	"meta": true, "link": true, "title": true, "template": true,
}

// nodeVisible approximates render visibility for a static snapshot: inline
// display:none / visibility:hidden, the hidden attribute, and non-rendered
// tags count as invisible.
func nodeVisible(n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		if hiddenTags[cur.Data] {
			return false
		}
		for _, a := range cur.Attr {
			if a.Key == "hidden" {
				return false
			}
			if a.Key == "style" {
				style := strings.ReplaceAll(strings.ToLower(a.Val), " ", "")
				if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
					return false
				}
			}
		}
	}
	return true
}

func nodeDepth(n *html.Node) int {
	d := 0
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode {
			d++
		}
	}
	return d
}

// cssPath builds a short, stable CSS path: stop at the first ancestor with
// an id, otherwise tag plus up to two classes, disambiguated by
// :nth-of-type. Mirrors the path built in the live page survey script.
func cssPath(n *html.Node) string {
	var segments []string
	for cur := n; cur != nil && cur.Type == html.ElementNode && len(segments) < 8; {
		part := cur.Data
		if id := attr(cur, "id"); id != "" {
			segments = append([]string{part + "#" + id}, segments...)
			break
		}
		classes := strings.Fields(attr(cur, "class"))
		if len(classes) > 2 {
			classes = classes[:2]
		}
		if len(classes) > 0 {
			part += "." + strings.Join(classes, ".")
		} else if cur.Parent != nil {
			nth, total := nthOfType(cur)
			if total > 1 {
				part += fmt.Sprintf(":nth-of-type(%d)", nth)
			}
		}
		segments = append([]string{part}, segments...)
		cur = parentElement(cur)
	}
	return strings.Join(segments, " > ")
}

func parentElement(n *html.Node) *html.Node {
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode {
			return cur
		}
	}
	return nil
}

func nthOfType(n *html.Node) (nth, total int) {
	if n.Parent == nil {
		return 1, 1
	}
	for sib := n.Parent.FirstChild; sib != nil; sib = sib.NextSibling {
		if sib.Type == html.ElementNode && sib.Data == n.Data {
			total++
			if sib == n {
				nth = total
			}
		}
	}
	return nth, total
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
