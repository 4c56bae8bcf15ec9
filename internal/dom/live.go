package dom

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
)

// Live is a DOM over a rod page. All surveys run as a single page
// evaluation returning stringified JSON, keeping round trips and page-side
// allocations low.
type Live struct {
	page *rod.Page
}

// NewLive wraps a rod page. The caller keeps ownership of the page.
func NewLive(page *rod.Page) *Live {
	return &Live{page: page}
}

func (l *Live) URL() string {
	info, err := l.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// jsLit encodes a Go value as a JavaScript literal.
func jsLit(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func isXPath(selector string) bool {
	return strings.HasPrefix(selector, "//") || strings.HasPrefix(selector, "xpath=")
}

func xpathExpr(selector string) string {
	return strings.TrimPrefix(selector, "xpath=")
}

func (l *Live) eval(ctx context.Context, js string) (string, error) {
	res, err := l.page.Context(ctx).Eval(js)
	if err != nil {
		return "", err
	}
	return l.page.MustObjectToJSON(res).String(), nil
}

func (l *Live) Count(ctx context.Context, selector string) (int, error) {
	if isXPath(selector) {
		els, err := l.page.Context(ctx).ElementsX(xpathExpr(selector))
		if err != nil {
			return 0, fmt.Errorf("dom: xpath %q: %w", selector, err)
		}
		n := 0
		for _, el := range els {
			if vis, err := el.Visible(); err == nil && vis {
				n++
			}
		}
		return n, nil
	}

	out, err := l.eval(ctx, fmt.Sprintf(`() => {
		const visible = (el) => {
			if (!(el instanceof HTMLElement)) return false;
			const rect = el.getBoundingClientRect();
			const style = window.getComputedStyle(el);
			return rect.width > 0 && rect.height > 0 && style.display !== 'none' && style.visibility !== 'hidden';
		};
		let nodes;
		try { nodes = document.querySelectorAll(%s); } catch { return "-1"; }
		return String(Array.from(nodes).filter(visible).length);
	}`, jsLit(selector)))
	if err != nil {
		return 0, fmt.Errorf("dom: count %q: %w", selector, err)
	}
	var n int
	if _, err := fmt.Sscanf(out, "%d", &n); err != nil {
		return 0, fmt.Errorf("dom: count %q: bad result %q", selector, out)
	}
	if n < 0 {
		return 0, fmt.Errorf("dom: selector %q: %w", selector, ErrUnsupportedSelector)
	}
	return n, nil
}

// surveyJS shares the css-path builder and visibility test across survey
// style evaluations.
const surveyHelpersJS = `
	function cssPath(node) {
		if (!(node instanceof Element)) return "";
		const segments = [];
		let current = node;
		while (current && current.nodeType === Node.ELEMENT_NODE && segments.length < 8) {
			let part = current.tagName.toLowerCase();
			if (current.id) {
				part += '#' + CSS.escape(current.id);
				segments.unshift(part);
				break;
			}
			const classes = Array.from(current.classList).slice(0, 2);
			if (classes.length) {
				part += classes.map((cls) => '.' + CSS.escape(cls)).join('');
			} else if (current.parentElement) {
				const siblings = Array.from(current.parentElement.children).filter((item) => item.tagName === current.tagName);
				if (siblings.length > 1) {
					part += ':nth-of-type(' + (siblings.indexOf(current) + 1) + ')';
				}
			}
			segments.unshift(part);
			current = current.parentElement;
		}
		return segments.join(' > ');
	}
	function visible(el) {
		if (!(el instanceof HTMLElement)) return false;
		const rect = el.getBoundingClientRect();
		const style = window.getComputedStyle(el);
		return rect.width > 0 && rect.height > 0 && style.display !== 'none' && style.visibility !== 'hidden';
	}
	function depth(el) {
		let d = 0;
		for (let cur = el.parentElement; cur; cur = cur.parentElement) d++;
		return d;
	}
`

func (l *Live) Survey(ctx context.Context, max int) ([]ElementInfo, error) {
	out, err := l.eval(ctx, fmt.Sprintf(`() => {
		%s
		const items = Array.from(document.querySelectorAll('body *')).slice(0, %d).map((el, index) => ({
			selector: cssPath(el),
			tag: el.tagName.toLowerCase(),
			id: el.id || '',
			class: (typeof el.className === 'string' ? el.className : '') || '',
			name: el.getAttribute('name') || '',
			role: el.getAttribute('role') || '',
			text: (el.textContent || '').replace(/\s+/g, ' ').trim().slice(0, 140),
			visible: visible(el),
			depth: depth(el),
			index: index
		}));
		return JSON.stringify(items);
	}`, surveyHelpersJS, max))
	if err != nil {
		return nil, fmt.Errorf("dom: survey: %w", err)
	}
	var infos []ElementInfo
	if err := json.Unmarshal([]byte(out), &infos); err != nil {
		return nil, fmt.Errorf("dom: survey decode: %w", err)
	}
	return infos, nil
}

func (l *Live) FindByText(ctx context.Context, hint string) (*ElementInfo, error) {
	hint = normalizeSpace(hint)
	if hint == "" {
		return nil, nil
	}
	out, err := l.eval(ctx, fmt.Sprintf(`() => {
		%s
		const hint = %s.toLowerCase();
		const all = Array.from(document.querySelectorAll('body *'));
		for (let index = 0; index < all.length; index++) {
			const el = all[index];
			if (!visible(el)) continue;
			const text = (el.textContent || '').replace(/\s+/g, ' ').trim().toLowerCase();
			if (!text.includes(hint)) continue;
			const childHas = Array.from(el.children).some((c) =>
				((c.textContent || '').replace(/\s+/g, ' ').trim().toLowerCase()).includes(hint));
			if (childHas) continue;
			return JSON.stringify({
				selector: cssPath(el),
				tag: el.tagName.toLowerCase(),
				id: el.id || '',
				class: (typeof el.className === 'string' ? el.className : '') || '',
				name: el.getAttribute('name') || '',
				role: el.getAttribute('role') || '',
				text: (el.textContent || '').replace(/\s+/g, ' ').trim().slice(0, 140),
				visible: true,
				depth: depth(el),
				index: index
			});
		}
		return "null";
	}`, surveyHelpersJS, jsLit(hint)))
	if err != nil {
		return nil, fmt.Errorf("dom: find by text: %w", err)
	}
	if out == "null" {
		return nil, nil
	}
	var info ElementInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		return nil, fmt.Errorf("dom: find by text decode: %w", err)
	}
	return &info, nil
}

func (l *Live) Text(ctx context.Context, selector string) (string, error) {
	if isXPath(selector) {
		els, err := l.page.Context(ctx).ElementsX(xpathExpr(selector))
		if err != nil || len(els) == 0 {
			return "", err
		}
		t, err := els[0].Text()
		if err != nil {
			return "", fmt.Errorf("dom: text: %w", err)
		}
		return normalizeSpace(t), nil
	}
	out, err := l.eval(ctx, fmt.Sprintf(`() => {
		const el = document.querySelector(%s);
		return el ? (el.innerText || el.textContent || '').replace(/\s+/g, ' ').trim() : '';
	}`, jsLit(selector)))
	if err != nil {
		return "", fmt.Errorf("dom: text %q: %w", selector, err)
	}
	return out, nil
}

func (l *Live) Texts(ctx context.Context, selector string, max int) ([]string, error) {
	out, err := l.eval(ctx, fmt.Sprintf(`() => {
		let nodes;
		try { nodes = document.querySelectorAll(%s); } catch { return "[]"; }
		const items = Array.from(nodes).slice(0, %d)
			.map((el) => (el.innerText || el.textContent || '').replace(/\s+/g, ' ').trim())
			.filter((t) => t.length > 0);
		return JSON.stringify(items);
	}`, jsLit(selector), max))
	if err != nil {
		return nil, fmt.Errorf("dom: texts %q: %w", selector, err)
	}
	var items []string
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		return nil, fmt.Errorf("dom: texts decode: %w", err)
	}
	return items, nil
}

func (l *Live) Attr(ctx context.Context, selector, name string) (string, error) {
	if isXPath(selector) {
		els, err := l.page.Context(ctx).ElementsX(xpathExpr(selector))
		if err != nil || len(els) == 0 {
			return "", err
		}
		v, err := els[0].Attribute(name)
		if err != nil || v == nil {
			return "", err
		}
		return *v, nil
	}
	out, err := l.eval(ctx, fmt.Sprintf(`() => {
		const el = document.querySelector(%s);
		return el ? (el.getAttribute(%s) || '') : '';
	}`, jsLit(selector), jsLit(name)))
	if err != nil {
		return "", fmt.Errorf("dom: attr %q: %w", selector, err)
	}
	return out, nil
}

func (l *Live) HTML(ctx context.Context, selector string) ([]string, error) {
	if isXPath(selector) {
		els, err := l.page.Context(ctx).ElementsX(xpathExpr(selector))
		if err != nil {
			return nil, fmt.Errorf("dom: xpath %q: %w", selector, err)
		}
		var out []string
		for _, el := range els {
			h, err := el.HTML()
			if err != nil {
				return nil, fmt.Errorf("dom: element html: %w", err)
			}
			out = append(out, h)
		}
		return out, nil
	}
	out, err := l.eval(ctx, fmt.Sprintf(`() => {
		let nodes;
		try { nodes = document.querySelectorAll(%s); } catch { return "[]"; }
		return JSON.stringify(Array.from(nodes).map((el) => el.outerHTML));
	}`, jsLit(selector)))
	if err != nil {
		return nil, fmt.Errorf("dom: html %q: %w", selector, err)
	}
	var items []string
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		return nil, fmt.Errorf("dom: html decode: %w", err)
	}
	return items, nil
}

func (l *Live) Blocks(ctx context.Context, exclude []string) ([]Block, error) {
	if len(exclude) == 0 {
		exclude = DefaultExcludes
	}
	out, err := l.eval(ctx, fmt.Sprintf(`() => {
		%s
		const excludes = %s;
		const candidates = Array.from(document.querySelectorAll('main, article, section, div, p, li, h1, h2, h3, table'));
		const items = candidates
			.filter((el) => {
				if (!visible(el)) return false;
				const text = (el.innerText || '').trim();
				if (text.length < 20) return false;
				return !excludes.some((sel) => {
					try { return el.matches(sel) || !!el.closest(sel); } catch { return false; }
				});
			})
			.slice(0, 800)
			.map((el, index) => ({
				selector: cssPath(el),
				tag: el.tagName.toLowerCase(),
				text: (el.innerText || '').replace(/\s+/g, ' ').trim().slice(0, 500),
				index: index
			}));
		return JSON.stringify(items);
	}`, surveyHelpersJS, jsLit(exclude)))
	if err != nil {
		return nil, fmt.Errorf("dom: blocks: %w", err)
	}
	var blocks []Block
	if err := json.Unmarshal([]byte(out), &blocks); err != nil {
		return nil, fmt.Errorf("dom: blocks decode: %w", err)
	}
	return blocks, nil
}

func (l *Live) Title(ctx context.Context) (string, error) {
	out, err := l.eval(ctx, `() => document.title`)
	if err != nil {
		return "", fmt.Errorf("dom: title: %w", err)
	}
	return out, nil
}
