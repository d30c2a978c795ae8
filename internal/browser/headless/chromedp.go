// Package headless drives a real Chrome through chromedp so listing pages
// render their JavaScript before they are read.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobs-crawler/internal/crawler"
)

const (
	defaultNavTimeout   = 45 * time.Second
	defaultReadyTimeout = 15 * time.Second
	defaultPollInterval = 250 * time.Millisecond
	// actionTimeout bounds a single in-page script evaluation.
	actionTimeout = 10 * time.Second
)

var errStale = errors.New("stale element handle")

// Config controls the behavior of the headless browser.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
	ReadyTimeout      time.Duration
	PollInterval      time.Duration
	// ShowWindow runs Chrome with a visible window.
	ShowWindow bool
}

// Browser implements crawler.Browser on a single Chrome tab.
type Browser struct {
	cfg         Config
	logger      *zap.Logger
	allocCancel context.CancelFunc
	tab         context.Context
	tabCancel   context.CancelFunc
	meta        *responseMeta
	startOnce   sync.Once
	startErr    error
}

var _ crawler.Browser = (*Browser)(nil)

// NewChromedp creates a browser backed by chromedp. Chrome itself starts on
// the first call that needs it.
func NewChromedp(cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.NavigationTimeout < 0 || cfg.ReadyTimeout < 0 || cfg.PollInterval < 0 {
		return nil, fmt.Errorf("timeouts must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headlessFlag(cfg.ShowWindow)),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(1366, 900),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tab, tabCancel := chromedp.NewContext(allocCtx)

	b := &Browser{
		cfg:         cfg,
		logger:      logger,
		allocCancel: allocCancel,
		tab:         tab,
		tabCancel:   tabCancel,
		meta:        newResponseMeta(),
	}
	chromedp.ListenTarget(tab, b.meta.captureEvent)
	return b, nil
}

func headlessFlag(show bool) any {
	if show {
		return false
	}
	return "new"
}

// Close shuts the tab and the browser process.
func (b *Browser) Close() {
	b.tabCancel()
	b.allocCancel()
}

// Navigate loads url and waits for its load event. HTTP error statuses on
// the main document are reported as errors.
func (b *Browser) Navigate(ctx context.Context, url string) error {
	b.meta.reset()
	if err := b.run(ctx, b.navTimeout(), chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if status, _ := b.meta.snapshot(); status >= http.StatusBadRequest {
		return fmt.Errorf("navigate %s: status %d", url, status)
	}
	return nil
}

// WaitReady polls until locator matches, a pending click navigation has
// replaced the page or changed its URL, and the document has parsed. A click
// that rewrites the page in place without touching the URL (plain XHR) never
// settles and ends in ErrWaitTimeout.
func (b *Browser) WaitReady(ctx context.Context, locator string) error {
	timeout := b.readyTimeout()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(b.pollInterval())
	defer ticker.Stop()

	for {
		var ready bool
		err := b.run(ctx, actionTimeout, chromedp.Evaluate(readyScript(locator), &ready))
		switch {
		case err == nil && ready:
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			// The execution context is replaced mid-navigation; keep polling.
			b.logger.Debug("readiness probe failed", zap.String("locator", locator), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: %s not ready after %s", crawler.ErrWaitTimeout, locator, timeout)
		case <-ticker.C:
		}
	}
}

// FindAll returns every match of locator in document order.
func (b *Browser) FindAll(ctx context.Context, locator string) ([]crawler.Element, error) {
	return b.lookup(ctx, 0, locator, 0)
}

// FindOne returns the first match of locator.
func (b *Browser) FindOne(ctx context.Context, locator string) (crawler.Element, error) {
	return b.first(ctx, 0, locator)
}

func (b *Browser) first(ctx context.Context, root int64, locator string) (crawler.Element, error) {
	elements, err := b.lookup(ctx, root, locator, 1)
	if err != nil {
		return nil, err
	}
	if len(elements) == 0 {
		return nil, fmt.Errorf("%w: %s", crawler.ErrNotFound, locator)
	}
	return elements[0], nil
}

func (b *Browser) lookup(ctx context.Context, root int64, locator string, limit int) ([]crawler.Element, error) {
	var res lookupResult
	if err := b.run(ctx, actionTimeout, chromedp.Evaluate(lookupScript(root, locator, limit), &res)); err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", locator, err)
	}
	return b.elements(res, locator)
}

func (b *Browser) elements(res lookupResult, locator string) ([]crawler.Element, error) {
	if res.Stale {
		return nil, fmt.Errorf("%s: %w", locator, errStale)
	}
	out := make([]crawler.Element, 0, len(res.IDs))
	for _, id := range res.IDs {
		out = append(out, &element{browser: b, id: id})
	}
	return out, nil
}

// value evaluates an element script returning a valueResult.
func (b *Browser) value(ctx context.Context, script string) (valueResult, error) {
	var res valueResult
	if err := b.run(ctx, actionTimeout, chromedp.Evaluate(script, &res)); err != nil {
		return valueResult{}, err
	}
	if res.Stale {
		return valueResult{}, errStale
	}
	return res, nil
}

// run executes actions on the tab under timeout, aborting early when ctx is
// done. The tab itself survives an aborted action.
func (b *Browser) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := b.start(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(b.tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// start launches Chrome on the tab context itself; a first Run on a derived
// context would tie the browser's lifetime to that context.
func (b *Browser) start() error {
	b.startOnce.Do(func() {
		if err := chromedp.Run(b.tab, b.networkSetupAction()); err != nil {
			b.startErr = fmt.Errorf("start chrome: %w", err)
		}
	})
	return b.startErr
}

func (b *Browser) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (b *Browser) navTimeout() time.Duration {
	if b.cfg.NavigationTimeout > 0 {
		return b.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}

func (b *Browser) readyTimeout() time.Duration {
	if b.cfg.ReadyTimeout > 0 {
		return b.cfg.ReadyTimeout
	}
	return defaultReadyTimeout
}

func (b *Browser) pollInterval() time.Duration {
	if b.cfg.PollInterval > 0 {
		return b.cfg.PollInterval
	}
	return defaultPollInterval
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// The first document after a reset is the main frame; iframes follow.
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	m.status = 0
	m.url = ""
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() (int, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.url
}
