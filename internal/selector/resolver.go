package selector

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"ferret/internal/dom"
)

// Target is a caller's request for one piece of content: a logical name
// plus optional raw selector, free-text and semantic hints. Immutable for
// the duration of a resolution attempt.
type Target struct {
	LogicalName  string
	Selectors    []string // raw selector hints, highest priority first
	TextHint     string
	SemanticHint string
}

// ResolutionFailure is returned when every strategy was exhausted for a
// target. It is reported to the caller, never silently substituted with
// empty output.
type ResolutionFailure struct {
	LogicalName string
	Attempted   []string
}

func (e *ResolutionFailure) Error() string {
	return fmt.Sprintf("selector: no strategy resolved %q (attempted %s)",
		e.LogicalName, strings.Join(e.Attempted, ", "))
}

// Options tunes the resolver.
type Options struct {
	// Enabled toggles the fallback chain. When false only the first raw
	// selector hint is attempted.
	Enabled bool
	// Strategies orders the chain. Valid names: direct, cached, text,
	// semantic. Empty means the full default chain.
	Strategies []string
	// MaxCandidates bounds the page survey for the semantic strategy.
	MaxCandidates int
	// SimilarityThreshold is the minimum semantic score accepted.
	SimilarityThreshold float64
	Logger              *zap.Logger
}

// Resolver turns logical targets into verified locators, healing broken
// selectors through its fallback chain and remembering winners in the
// cache so later calls start from the cached strategy.
type Resolver struct {
	cache      *Cache
	opts       Options
	strategies []strategy
	log        *zap.Logger
}

type strategy interface {
	name() string
	attempt(ctx context.Context, d dom.DOM, t Target, r *Resolver) (*Candidate, error)
}

// NewResolver builds a resolver over the given cache. cache may be nil,
// which disables the cached strategy and write-back.
func NewResolver(cache *Cache, opts Options) *Resolver {
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = 1800
	}
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = 3.5
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	names := opts.Strategies
	if len(names) == 0 {
		names = []string{"direct", "cached", "text", "semantic"}
	}

	r := &Resolver{cache: cache, opts: opts, log: opts.Logger.With(zap.String("component", "resolver"))}
	for _, n := range names {
		switch n {
		case "direct":
			r.strategies = append(r.strategies, directStrategy{})
		case "cached", "cache":
			if cache != nil {
				r.strategies = append(r.strategies, cachedStrategy{})
			}
		case "text":
			r.strategies = append(r.strategies, textStrategy{})
		case "semantic":
			r.strategies = append(r.strategies, semanticStrategy{})
		}
	}
	return r
}

// Resolve runs the fallback chain against the document and returns the
// first verified candidate. Winners are written back to the cache unless
// the context was cancelled mid-flight (an aborted resolution must not
// commit). Fails with *ResolutionFailure only when every strategy is
// exhausted.
func (r *Resolver) Resolve(ctx context.Context, d dom.DOM, t Target) (Candidate, error) {
	site := SiteKey(d.URL())

	if !r.opts.Enabled {
		if len(t.Selectors) == 0 {
			return Candidate{}, &ResolutionFailure{LogicalName: t.LogicalName}
		}
		n, err := d.Count(ctx, t.Selectors[0])
		if err != nil || n == 0 {
			return Candidate{}, &ResolutionFailure{LogicalName: t.LogicalName, Attempted: []string{"direct"}}
		}
		return Candidate{Selector: t.Selectors[0], Strategy: "direct", Confidence: 1.0}, nil
	}

	var attempted []string
	for _, s := range r.strategies {
		if err := ctx.Err(); err != nil {
			return Candidate{}, err
		}
		attempted = append(attempted, s.name())

		cand, err := s.attempt(ctx, d, t, r)
		if err != nil {
			// Strategy-level failures are recovered locally: log and fall
			// through to the next strategy.
			r.log.Debug("strategy failed",
				zap.String("strategy", s.name()),
				zap.String("logical_name", t.LogicalName),
				zap.Error(err))
			continue
		}
		if cand == nil {
			continue
		}

		if r.cache != nil && ctx.Err() == nil {
			if err := r.cache.Put(site, t.LogicalName, *cand); err != nil {
				r.log.Warn("cache write failed", zap.String("logical_name", t.LogicalName), zap.Error(err))
			}
		}
		return *cand, nil
	}

	return Candidate{}, &ResolutionFailure{LogicalName: t.LogicalName, Attempted: attempted}
}

// SiteKey reduces a page URL to the cache's site identifier (the host).
// Selectors learned on one page of a site usually hold across the site.
func SiteKey(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return pageURL
	}
	return u.Host
}

var tokenSplit = regexp.MustCompile(`[^a-z0-9]+`)

// tokenize lowercases and splits on non-alphanumeric boundaries, dropping
// single-character fragments.
func tokenize(parts ...string) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range parts {
		for _, tok := range tokenSplit.Split(strings.ToLower(p), -1) {
			if len(tok) > 1 && !seen[tok] {
				seen[tok] = true
				out = append(out, tok)
			}
		}
	}
	sort.Strings(out)
	return out
}
