// Package agent wires the browser, page pool, selector cache and
// extractors into the operation surface the task executor dispatches to.
// Every operation acquires a pooled tab, works on it, and releases it on
// the way out; tabs are never held across operations.
package agent

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"go.uber.org/zap"

	"ferret/internal/browser"
	"ferret/internal/config"
	"ferret/internal/dom"
	"ferret/internal/extractor"
	"ferret/internal/netlog"
	"ferret/internal/nlq"
	"ferret/internal/pool"
	"ferret/internal/relevance"
	"ferret/internal/selector"
	"ferret/internal/session"
	"ferret/internal/stream"
)

const netlogCapacity = 500

// tab is one pooled page with its live DOM adapter and network log.
type tab struct {
	id   string
	page *rod.Page
	dom  *dom.Live
	net  *netlog.Log
}

func (t *tab) Close() error { return t.page.Close() }

// Agent owns the long-lived extraction machinery for one process.
type Agent struct {
	cfg      *config.Config
	browser  *browser.Browser
	pool     *pool.Pool
	cache    *selector.Cache
	resolver *selector.Resolver
	extr     *extractor.Extractor
	sessions *session.Store
	log      *zap.Logger
}

// New builds an agent from configuration: launches the browser, opens the
// selector cache (degrading to uncached resolution if it cannot open) and
// prepares the tab pool.
func New(cfg *config.Config, logger *zap.Logger) (*Agent, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.With(zap.String("component", "agent"))

	br, err := browser.New(browser.Config{
		Headless:            cfg.Browser.Headless,
		ProxyURL:            cfg.Browser.ProxyURL,
		RemoteURL:           cfg.Browser.RemoteURL,
		Stealth:             true,
		EnableBlocking:      cfg.Performance.EnableRequestBlocking,
		BlockResourceTypes:  cfg.Performance.BlockResourceTypes,
		BlockAdDomains:      cfg.Performance.BlockAdDomains,
		NavigationTimeout:   cfg.Browser.NavigationTimeout(),
		WaitAfterNavigation: cfg.Performance.WaitAfterNavigation(),
		Logger:              logger,
	})
	if err != nil {
		return nil, err
	}

	var cache *selector.Cache
	if cfg.SelfHealing.Enabled {
		cache, err = selector.OpenCache(cfg.SelfHealing.CachePath, cfg.SelfHealing.CacheTTL())
		if err != nil {
			// Resolution still works without persistence; it just re-heals
			// every run.
			log.Warn("selector cache unavailable", zap.Error(err))
			cache = nil
		}
	}

	resolver := selector.NewResolver(cache, selector.Options{
		Enabled:             cfg.SelfHealing.Enabled,
		Strategies:          cfg.SelfHealing.Strategies,
		MaxCandidates:       cfg.SelfHealing.MaxCandidates,
		SimilarityThreshold: cfg.SelfHealing.SimilarityThreshold,
		Logger:              logger,
	})

	sessions, err := session.NewStore(cfg.Sessions.Directory)
	if err != nil {
		br.Close()
		return nil, err
	}

	a := &Agent{
		cfg:      cfg,
		browser:  br,
		cache:    cache,
		resolver: resolver,
		extr:     extractor.New(resolver, cfg.Extraction.MaxTextLength, cfg.Extraction.MaxTableRows, logger),
		sessions: sessions,
		log:      log,
	}
	a.pool = pool.New(cfg.Browser.MaxTabs, a.openTab, logger)
	return a, nil
}

// openTab is the pool factory: a fresh stealth page with its network log
// already attached.
func (a *Agent) openTab(ctx context.Context) (pool.Page, error) {
	page, err := a.browser.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	net := netlog.NewLog(netlogCapacity)
	net.Attach(page)
	return &tab{page: page, dom: dom.NewLive(page), net: net}, nil
}

// withTab runs fn against the pooled tab for tabID, releasing it on
// return even when fn fails.
func (a *Agent) withTab(ctx context.Context, tabID string, fn func(t *tab) error) error {
	if tabID == "" {
		tabID = "default"
	}
	p, err := a.pool.Acquire(ctx, tabID)
	if err != nil {
		return err
	}
	defer a.pool.Release(tabID)

	t, ok := p.(*tab)
	if !ok {
		return fmt.Errorf("agent: unexpected page type %T", p)
	}
	t.id = tabID
	return fn(t)
}

// NavResult reports where a navigation landed.
type NavResult struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	TabID string `json:"tab_id"`
}

// Navigate loads url in the tab and reports the landing state.
func (a *Agent) Navigate(ctx context.Context, tabID, url string) (*NavResult, error) {
	var res *NavResult
	err := a.withTab(ctx, tabID, func(t *tab) error {
		if err := a.browser.Navigate(ctx, t.page, url); err != nil {
			return err
		}
		title, err := t.dom.Title(ctx)
		if err != nil {
			title = ""
		}
		res = &NavResult{URL: t.dom.URL(), Title: title, TabID: t.id}
		return nil
	})
	return res, err
}

// Extract parses the field queries and extracts them from the tab's
// current page. url is optional; when set the tab navigates first.
func (a *Agent) Extract(ctx context.Context, tabID, url string, fields map[string]nlq.FieldSpec) (map[string]extractor.FieldResult, error) {
	var out map[string]extractor.FieldResult
	err := a.withTab(ctx, tabID, func(t *tab) error {
		if url != "" {
			if err := a.browser.Navigate(ctx, t.page, url); err != nil {
				return err
			}
		}
		parsed := nlq.ParseQuery(fields)
		results, err := a.extr.Fields(ctx, t.dom, parsed)
		out = results
		return err
	})
	return out, err
}

// ExtractTables pulls structured rows from every table matching the
// selector (or all tables when the selector is empty).
func (a *Agent) ExtractTables(ctx context.Context, tabID, sel string) ([]extractor.Table, error) {
	if sel == "" {
		sel = "table"
	}
	var tables []extractor.Table
	err := a.withTab(ctx, tabID, func(t *tab) error {
		fragments, err := t.dom.HTML(ctx, sel)
		if err != nil {
			return err
		}
		tables, err = extractor.ParseTables(fragments, a.cfg.Extraction.MaxTableRows)
		return err
	})
	return tables, err
}

// CaptureStructure returns the page outline for selector debugging,
// optionally scoped to the subtree matching root.
func (a *Agent) CaptureStructure(ctx context.Context, tabID, root string) (*extractor.Structure, error) {
	var s *extractor.Structure
	err := a.withTab(ctx, tabID, func(t *tab) error {
		var err error
		s, err = a.extr.Structure(ctx, t.dom, root)
		return err
	})
	return s, err
}

// Preview returns a bounded plain-text snapshot of the page.
func (a *Agent) Preview(ctx context.Context, tabID string, maxChars int) (*extractor.Preview, error) {
	var p *extractor.Preview
	err := a.withTab(ctx, tabID, func(t *tab) error {
		var err error
		p, err = a.extr.Preview(ctx, t.dom, maxChars)
		return err
	})
	return p, err
}

// FilterRelevant harvests the page's content blocks and keeps those
// relevant to the keywords.
func (a *Agent) FilterRelevant(ctx context.Context, tabID string, keywords []string, minScore float64, maxItems int) ([]relevance.Scored, error) {
	var out []relevance.Scored
	err := a.withTab(ctx, tabID, func(t *tab) error {
		blocks, err := t.dom.Blocks(ctx, nil)
		if err != nil {
			return err
		}
		out = relevance.Filter(blocks, keywords, minScore, maxItems)
		return nil
	})
	return out, err
}

// StreamResult carries the chunks of one streaming extraction plus its
// budget accounting.
type StreamResult struct {
	Chunks    []stream.Chunk `json:"chunks"`
	Truncated bool           `json:"truncated"`
	Tokens    int            `json:"tokens"`
}

// StreamExtract resolves the selector, converts the matched subtree to
// markdown and streams it under the token budget. The chunk count is
// additionally capped by max_stream_chunks so one task cannot monopolize
// the output channel.
func (a *Agent) StreamExtract(ctx context.Context, tabID, logicalName string, spec nlq.FieldSpec, maxTokens int) (*StreamResult, error) {
	var out *StreamResult
	err := a.withTab(ctx, tabID, func(t *tab) error {
		field := nlq.ParseField(logicalName, spec)
		cand, err := a.resolver.Resolve(ctx, t.dom, field.Target)
		if err != nil {
			return err
		}

		fragments, err := t.dom.HTML(ctx, cand.Selector)
		if err != nil {
			return err
		}
		source := ""
		if len(fragments) > 0 {
			if mdText, mdErr := extractor.ToMarkdown(fragments[0]); mdErr == nil {
				source = mdText
			}
		}
		if source == "" {
			if source, err = t.dom.Text(ctx, cand.Selector); err != nil {
				return err
			}
		}

		s := stream.New(source, stream.Options{
			MaxTokens:  maxTokens,
			ChunkChars: a.cfg.Extraction.StreamChunkChars,
		})
		counter := stream.NewCounter(a.cfg.Extraction.TokenEncoding, 4.0)

		res := &StreamResult{}
		for len(res.Chunks) < a.cfg.Extraction.MaxStreamChunks {
			chunk, ok := s.Next()
			if !ok {
				break
			}
			res.Chunks = append(res.Chunks, *chunk)
			if chunk.IsFinal {
				break
			}
		}
		res.Truncated = s.Truncated() || len(res.Chunks) == a.cfg.Extraction.MaxStreamChunks
		emitted := ""
		for _, c := range res.Chunks {
			emitted += c.Content
		}
		res.Tokens = counter.Count(emitted)
		out = res
		return nil
	})
	return out, err
}

// NetworkCalls returns the most recent captured network events of a tab.
func (a *Agent) NetworkCalls(ctx context.Context, tabID string, limit int) ([]netlog.Event, error) {
	var events []netlog.Event
	err := a.withTab(ctx, tabID, func(t *tab) error {
		events = t.net.Recent(limit)
		return nil
	})
	return events, err
}

// ParallelExtract runs the same field extraction against every URL with
// bounded concurrency. Each URL gets its own pooled tab; one URL failing
// never aborts its siblings.
func (a *Agent) ParallelExtract(ctx context.Context, urls []string, fields map[string]nlq.FieldSpec, maxConcurrent int) []pool.Outcome {
	if maxConcurrent <= 0 || maxConcurrent > a.cfg.Browser.MaxTabs {
		maxConcurrent = a.cfg.Browser.MaxTabs
	}
	return pool.RunParallel(ctx, urls, maxConcurrent, func(ctx context.Context, url string, slot int) (any, error) {
		tabID := fmt.Sprintf("parallel-%d", slot)
		return a.Extract(ctx, tabID, url, fields)
	})
}

// SaveSession captures the browser cookie state under name.
func (a *Agent) SaveSession(name string) (string, error) {
	blob, err := a.browser.CookiesJSON()
	if err != nil {
		return "", err
	}
	return a.sessions.Save(name, blob)
}

// LoadSession restores a previously saved cookie state.
func (a *Agent) LoadSession(name string) error {
	blob, err := a.sessions.Load(name)
	if err != nil {
		return err
	}
	return a.browser.RestoreCookies(blob)
}

// CloseTab closes the pooled tab for tabID, if any.
func (a *Agent) CloseTab(tabID string) error {
	return a.pool.CloseTab(tabID)
}

// Close releases every tab, the browser and the cache.
func (a *Agent) Close() error {
	var firstErr error
	if err := a.pool.Close(); err != nil {
		firstErr = err
	}
	if err := a.browser.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
