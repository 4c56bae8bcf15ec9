// Package browser wraps the rod Chromium connection: launch or remote
// attach, stealth page creation, resource/ad-domain blocking, and cookie
// state capture for session persistence.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
)

// Config configures the browser connection and per-page behavior.
type Config struct {
	// Headless disables the UI. Headful is only useful for debugging.
	Headless bool
	// ProxyURL routes traffic through a proxy when set.
	ProxyURL string
	// RemoteURL attaches to an existing Chromium via its WebSocket URL
	// instead of launching a local one.
	RemoteURL string
	// Stealth applies anti-automation patches to every new page.
	Stealth bool

	// EnableBlocking installs request interception on new pages.
	EnableBlocking     bool
	BlockResourceTypes []string
	BlockAdDomains     []string

	NavigationTimeout   time.Duration
	WaitAfterNavigation time.Duration

	Logger *zap.Logger
}

func (c *Config) defaults() {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 45 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Browser owns the rod connection and the launcher process.
type Browser struct {
	cfg     Config
	browser *rod.Browser
	lnch    *launcher.Launcher
	log     *zap.Logger
}

// New launches a local Chromium (or connects to cfg.RemoteURL) and
// returns a connected Browser.
func New(cfg Config) (*Browser, error) {
	cfg.defaults()
	log := cfg.Logger.With(zap.String("component", "browser"))

	var wsURL string
	var lnch *launcher.Launcher

	if cfg.RemoteURL != "" {
		wsURL = cfg.RemoteURL
		log.Info("connecting to remote browser", zap.String("url", wsURL))
	} else {
		l := launcher.New().Headless(cfg.Headless)
		if cfg.ProxyURL != "" {
			l = l.Proxy(cfg.ProxyURL)
		}
		// The stealth page patches cover the rest of the fingerprint.
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		lnch = l
		log.Info("launched local browser", zap.Bool("headless", cfg.Headless))
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if lnch != nil {
			lnch.Kill()
		}
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	return &Browser{cfg: cfg, browser: b, lnch: lnch, log: log}, nil
}

// NewPage opens a fresh page with stealth and blocking applied. The page
// is blank; callers navigate it.
func (b *Browser) NewPage(ctx context.Context) (*rod.Page, error) {
	var page *rod.Page
	var err error

	if b.cfg.Stealth {
		page, err = stealth.Page(b.browser)
	} else {
		page, err = b.browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}

	if b.cfg.EnableBlocking && (len(b.cfg.BlockResourceTypes) > 0 || len(b.cfg.BlockAdDomains) > 0) {
		if err := applyBlocking(page, b.cfg.BlockResourceTypes, b.cfg.BlockAdDomains); err != nil {
			b.log.Warn("request blocking failed", zap.Error(err))
		}
	}

	return page.Context(ctx), nil
}

// NavigationError wraps a failed page load with the URL that caused it.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("browser: navigate %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// Navigate loads url in the page and waits for the load event plus the
// configured settle delay.
func (b *Browser) Navigate(ctx context.Context, page *rod.Page, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, b.cfg.NavigationTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(url); err != nil {
		return &NavigationError{URL: url, Err: err}
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		b.log.Warn("wait load timed out", zap.String("url", url), zap.Error(err))
	}
	if b.cfg.WaitAfterNavigation > 0 {
		select {
		case <-time.After(b.cfg.WaitAfterNavigation):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// CookiesJSON serializes the browser's cookie jar as an opaque blob for
// the session store.
func (b *Browser) CookiesJSON() ([]byte, error) {
	cookies, err := b.browser.GetCookies()
	if err != nil {
		return nil, fmt.Errorf("browser: get cookies: %w", err)
	}
	blob, err := json.Marshal(cookies)
	if err != nil {
		return nil, fmt.Errorf("browser: encode cookies: %w", err)
	}
	return blob, nil
}

// RestoreCookies loads a blob produced by CookiesJSON back into the
// browser.
func (b *Browser) RestoreCookies(blob []byte) error {
	var cookies []*proto.NetworkCookie
	if err := json.Unmarshal(blob, &cookies); err != nil {
		return fmt.Errorf("browser: decode cookies: %w", err)
	}
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: c.SameSite,
			Expires:  c.Expires,
		})
	}
	if err := b.browser.SetCookies(params); err != nil {
		return fmt.Errorf("browser: set cookies: %w", err)
	}
	return nil
}

// Close shuts down the browser and its launcher process.
func (b *Browser) Close() error {
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			return fmt.Errorf("browser: close: %w", err)
		}
	}
	if b.lnch != nil {
		b.lnch.Kill()
	}
	return nil
}

// applyBlocking intercepts requests and fails those matching a blocked
// resource type or ad domain. Types match both singular and plural config
// spellings ("image" and "images").
func applyBlocking(page *rod.Page, types, domains []string) error {
	blockType := make(map[string]bool, len(types)*2)
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		blockType[t] = true
		blockType[strings.TrimSuffix(t, "s")] = true
	}
	blockDomains := make([]string, 0, len(domains))
	for _, d := range domains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			blockDomains = append(blockDomains, d)
		}
	}

	router := page.HijackRequests()
	err := router.Add("*", "", func(ctx *rod.Hijack) {
		resType := strings.ToLower(string(ctx.Request.Type()))
		if blockType[resType] {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		reqURL := strings.ToLower(ctx.Request.URL().String())
		for _, d := range blockDomains {
			if strings.Contains(reqURL, d) {
				ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
				return
			}
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		return fmt.Errorf("browser: hijack: %w", err)
	}
	go router.Run()
	return nil
}
