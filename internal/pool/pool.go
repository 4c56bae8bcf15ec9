// Package pool bounds concurrent browser pages. Pages are keyed by tab id,
// reused across tasks, and evicted least-recently-used when the cap is
// reached. A page is owned exclusively by the pool; callers hold it only
// between Acquire and Release.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrPoolExhausted is returned when Acquire gave up waiting for a free
// page. Retryable: the caller may back off and try again.
var ErrPoolExhausted = errors.New("pool: no page available")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("pool: closed")

// Page is anything the pool can open and close. The live implementation
// wraps a rod page; tests use fakes.
type Page interface {
	Close() error
}

// Factory opens a fresh page.
type Factory func(ctx context.Context) (Page, error)

type state int

const (
	stateIdle state = iota
	stateActive
	stateClosing
)

type entry struct {
	page     Page
	state    state
	lastUsed time.Time
}

// Pool is the tab orchestrator. Invariant: pages in idle or active state
// never exceed maxTabs; an active page is never evicted.
type Pool struct {
	mu      sync.Mutex
	pages   map[string]*entry
	signal  chan struct{} // closed and replaced on every release/eviction
	maxTabs int
	factory Factory
	now     func() time.Time
	closed  bool
	log     *zap.Logger
}

// New creates a pool of at most maxTabs pages.
func New(maxTabs int, factory Factory, logger *zap.Logger) *Pool {
	if maxTabs < 1 {
		maxTabs = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		pages:   make(map[string]*entry),
		signal:  make(chan struct{}),
		maxTabs: maxTabs,
		factory: factory,
		now:     time.Now,
		log:     logger.With(zap.String("component", "page_pool")),
	}
}

// Acquire returns the page bound to tabID, creating it if needed. When the
// pool is full it evicts the least-recently-used idle page; when every
// page is active it blocks until one is released or the context expires
// (bounded wait, never a busy poll).
func (p *Pool) Acquire(ctx context.Context, tabID string) (Page, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}

		if e, ok := p.pages[tabID]; ok {
			if e.state == stateIdle {
				e.state = stateActive
				e.lastUsed = p.now()
				p.mu.Unlock()
				return e.page, nil
			}
			// Same tab busy or closing: wait for it. In-page work is
			// sequential; two tasks never touch one page concurrently.
			wait := p.signal
			p.mu.Unlock()
			if err := waitSignal(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		if len(p.pages) < p.maxTabs {
			// Reserve the slot before the (slow) page open so concurrent
			// acquires cannot overshoot maxTabs.
			e := &entry{state: stateActive, lastUsed: p.now()}
			p.pages[tabID] = e
			p.mu.Unlock()
			return p.open(ctx, tabID, e)
		}

		victim := p.lruIdleLocked()
		if victim == "" {
			// All pages active: wait for a release.
			wait := p.signal
			p.mu.Unlock()
			if err := waitSignal(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		// Destroy-and-replace: the evicted page leaves the map before its
		// slow Close so the slot frees immediately.
		ev := p.pages[victim]
		ev.state = stateClosing
		delete(p.pages, victim)
		e := &entry{state: stateActive, lastUsed: p.now()}
		p.pages[tabID] = e
		p.broadcastLocked()
		p.mu.Unlock()

		p.log.Debug("evicting idle page", zap.String("evicted", victim), zap.String("for", tabID))
		if err := ev.page.Close(); err != nil {
			p.log.Warn("close evicted page", zap.String("tab_id", victim), zap.Error(err))
		}
		return p.open(ctx, tabID, e)
	}
}

func (p *Pool) open(ctx context.Context, tabID string, e *entry) (Page, error) {
	page, err := p.factory(ctx)
	if err != nil {
		p.mu.Lock()
		delete(p.pages, tabID)
		p.broadcastLocked()
		p.mu.Unlock()
		return nil, fmt.Errorf("pool: open page %q: %w", tabID, err)
	}
	p.mu.Lock()
	e.page = page
	p.mu.Unlock()
	return page, nil
}

// Release returns the page to idle state. Safe to call from deferred
// cleanup on aborted tasks: a page is never leaked in active state.
func (p *Pool) Release(tabID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.pages[tabID]
	if !ok || e.state != stateActive {
		return
	}
	e.state = stateIdle
	e.lastUsed = p.now()
	p.broadcastLocked()
}

// CloseTab closes and removes the page bound to tabID.
func (p *Pool) CloseTab(tabID string) error {
	p.mu.Lock()
	e, ok := p.pages[tabID]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	e.state = stateClosing
	delete(p.pages, tabID)
	p.broadcastLocked()
	p.mu.Unlock()

	if e.page != nil {
		return e.page.Close()
	}
	return nil
}

// Close shuts down every page and rejects further acquires.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	pages := make([]Page, 0, len(p.pages))
	for _, e := range p.pages {
		if e.page != nil {
			pages = append(pages, e.page)
		}
	}
	p.pages = make(map[string]*entry)
	p.broadcastLocked()
	p.mu.Unlock()

	var firstErr error
	for _, page := range pages {
		if err := page.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stats reports current idle and active counts.
func (p *Pool) Stats() (idle, active int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.pages {
		switch e.state {
		case stateIdle:
			idle++
		case stateActive:
			active++
		}
	}
	return idle, active
}

// Has reports whether tabID currently maps to a pooled page.
func (p *Pool) Has(tabID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pages[tabID]
	return ok
}

func (p *Pool) lruIdleLocked() string {
	var victim string
	var oldest time.Time
	for id, e := range p.pages {
		if e.state != stateIdle {
			continue
		}
		if victim == "" || e.lastUsed.Before(oldest) {
			victim = id
			oldest = e.lastUsed
		}
	}
	return victim
}

func (p *Pool) broadcastLocked() {
	close(p.signal)
	p.signal = make(chan struct{})
}

func waitSignal(ctx context.Context, ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrPoolExhausted, ctx.Err())
	}
}

// Outcome is one URL's result from RunParallel. Partial success is the
// normal case: each URL succeeds or fails independently.
type Outcome struct {
	URL    string `json:"url"`
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// RunParallel runs work against every URL with at most maxConcurrent units
// in flight. One URL's failure never cancels its siblings; exactly
// len(urls) outcomes are returned, keyed by URL in input order.
func RunParallel(ctx context.Context, urls []string, maxConcurrent int, work func(ctx context.Context, url string, slot int) (any, error)) []Outcome {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	sem := semaphore.NewWeighted(int64(maxConcurrent))
	outcomes := make([]Outcome, len(urls))

	var wg sync.WaitGroup
	for i, u := range urls {
		outcomes[i] = Outcome{URL: u}
		if err := sem.Acquire(ctx, 1); err != nil {
			outcomes[i].Error = err.Error()
			continue
		}
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			defer sem.Release(1)
			res, err := work(ctx, u, i)
			if err != nil {
				outcomes[i].Error = err.Error()
				return
			}
			outcomes[i].OK = true
			outcomes[i].Result = res
		}(i, u)
	}
	wg.Wait()
	return outcomes
}
