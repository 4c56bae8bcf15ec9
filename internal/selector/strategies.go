package selector

import (
	"context"
	"strings"

	"ferret/internal/dom"
)

// directStrategy attempts the caller's raw selector hints verbatim. A hint
// that matches at least one visible node wins with full confidence.
type directStrategy struct{}

func (directStrategy) name() string { return "direct" }

func (directStrategy) attempt(ctx context.Context, d dom.DOM, t Target, _ *Resolver) (*Candidate, error) {
	for _, sel := range t.Selectors {
		if sel == "" {
			continue
		}
		n, err := d.Count(ctx, sel)
		if err != nil || n == 0 {
			continue
		}
		return &Candidate{Selector: sel, Strategy: "direct", Confidence: 1.0}, nil
	}
	return nil, nil
}

// cachedStrategy replays the last verified locator for this (site, logical
// name). Every hit is re-verified against the live document; a stale entry
// is invalidated so it cannot shadow the healing strategies again.
type cachedStrategy struct{}

func (cachedStrategy) name() string { return "cached" }

func (cachedStrategy) attempt(ctx context.Context, d dom.DOM, t Target, r *Resolver) (*Candidate, error) {
	site := SiteKey(d.URL())
	entry, err := r.cache.Get(site, t.LogicalName)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	n, err := d.Count(ctx, entry.Selector)
	if err != nil || n == 0 {
		_ = r.cache.Invalidate(site, t.LogicalName)
		return nil, nil
	}
	return &Candidate{
		Selector:   entry.Selector,
		Strategy:   "cached",
		Confidence: entry.Confidence,
		Depth:      entry.Depth,
	}, nil
}

// textStrategy searches visible text for the target's hint and derives a
// locator from the matched node. Confidence scales with the overlap
// between the logical name's tokens and the matched element's metadata.
type textStrategy struct{}

func (textStrategy) name() string { return "text" }

func (textStrategy) attempt(ctx context.Context, d dom.DOM, t Target, _ *Resolver) (*Candidate, error) {
	hint := t.TextHint
	if hint == "" {
		hint = strings.ReplaceAll(t.LogicalName, "_", " ")
	}

	info, err := d.FindByText(ctx, hint)
	if err != nil {
		return nil, err
	}
	if info == nil || info.Selector == "" {
		return nil, nil
	}

	// Verify the derived locator independently resolves; a css path that
	// does not round-trip is useless to cache.
	n, err := d.Count(ctx, info.Selector)
	if err != nil || n == 0 {
		return nil, nil
	}

	tokens := tokenize(t.LogicalName, t.SemanticHint)
	conf := tokenOverlap(tokens, info)
	return &Candidate{
		Selector:   info.Selector,
		Strategy:   "text",
		Confidence: conf,
		Depth:      info.Depth,
	}, nil
}

// tokenOverlap is the ratio of target tokens found in the element's
// metadata or text, floored so a pure text match still carries signal.
func tokenOverlap(tokens []string, info *dom.ElementInfo) float64 {
	if len(tokens) == 0 {
		return 0.5
	}
	haystack := strings.ToLower(strings.Join([]string{
		info.ID, info.Class, info.Name, info.Role, info.Tag, info.Text,
	}, " "))
	matched := 0
	for _, tok := range tokens {
		if strings.Contains(haystack, tok) {
			matched++
		}
	}
	ratio := float64(matched) / float64(len(tokens))
	if ratio < 0.25 {
		ratio = 0.25
	}
	return ratio
}

// semanticStrategy surveys the page and scores every element against the
// target's tokens, roles and archetypes. Lowest confidence tier; used only
// when everything else yielded nothing.
type semanticStrategy struct{}

func (semanticStrategy) name() string { return "semantic" }

// Field weights mirror how selector authors encode meaning: ids carry the
// most signal, then classes, names, roles and tag archetypes.
const (
	weightID    = 3.5
	weightClass = 2.2
	weightName  = 1.5
	weightRole  = 1.0
	weightTag   = 1.2
	weightText  = 3.0
	weightVis   = 0.8
)

func (semanticStrategy) attempt(ctx context.Context, d dom.DOM, t Target, r *Resolver) (*Candidate, error) {
	hint := t.SemanticHint
	if hint == "" {
		hint = t.LogicalName
	}
	tokens := tokenize(append([]string{t.LogicalName, hint}, t.Selectors...)...)
	textHint := strings.ToLower(strings.TrimSpace(t.TextHint))

	infos, err := d.Survey(ctx, r.opts.MaxCandidates)
	if err != nil {
		return nil, err
	}

	// Depth of the previous winner anchors the tie-break: under markup
	// drift the replacement node tends to live at a similar depth.
	anchorDepth := -1
	if r.cache != nil {
		if prev, err := r.cache.Get(SiteKey(d.URL()), t.LogicalName); err == nil && prev != nil {
			anchorDepth = prev.Depth
		}
	}

	var best *dom.ElementInfo
	bestScore := 0.0
	for i := range infos {
		info := &infos[i]
		if info.Selector == "" {
			continue
		}
		score := scoreElement(info, tokens, textHint)
		if score < r.opts.SimilarityThreshold {
			continue
		}
		if best == nil || better(score, info, bestScore, best, anchorDepth) {
			best = info
			bestScore = score
		}
	}
	if best == nil {
		return nil, nil
	}

	n, err := d.Count(ctx, best.Selector)
	if err != nil || n == 0 {
		return nil, nil
	}

	conf := bestScore / 10.0
	if conf > 1.0 {
		conf = 1.0
	}
	return &Candidate{
		Selector:   best.Selector,
		Strategy:   "semantic",
		Confidence: conf,
		Depth:      best.Depth,
	}, nil
}

// better applies the deterministic tie-break: higher score, then smaller
// depth delta from the previously cached winner, then document order
// (survey order already is document order, so the incumbent wins ties).
func better(score float64, info *dom.ElementInfo, bestScore float64, best *dom.ElementInfo, anchorDepth int) bool {
	if score != bestScore {
		return score > bestScore
	}
	if anchorDepth >= 0 {
		d1 := absInt(info.Depth - anchorDepth)
		d2 := absInt(best.Depth - anchorDepth)
		if d1 != d2 {
			return d1 < d2
		}
	}
	return false
}

func scoreElement(info *dom.ElementInfo, tokens []string, textHint string) float64 {
	id := strings.ToLower(info.ID)
	class := strings.ToLower(info.Class)
	name := strings.ToLower(info.Name)
	role := strings.ToLower(info.Role)
	tag := strings.ToLower(info.Tag)
	text := strings.ToLower(info.Text)

	score := 0.0
	for _, tok := range tokens {
		if strings.Contains(id, tok) {
			score += weightID
		}
		if strings.Contains(class, tok) {
			score += weightClass
		}
		if strings.Contains(name, tok) {
			score += weightName
		}
		if strings.Contains(role, tok) {
			score += weightRole
		}
		if tok == tag {
			score += weightTag
		}
	}
	if textHint != "" && strings.Contains(text, textHint) {
		score += weightText
	}
	if info.Visible {
		score += weightVis
	}
	return score
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
