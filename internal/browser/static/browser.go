// Package static implements crawler.Browser over plain HTTP with colly and
// evaluates locators as XPath on the parsed document. It runs no JavaScript:
// Click follows the href of the clicked anchor.
package static

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/JakeFAU/jobs-crawler/internal/crawler"
)

const defaultTimeout = 15 * time.Second

var errStale = errors.New("stale element: page was replaced")

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	Headers       http.Header
}

// Browser holds the most recently loaded document.
type Browser struct {
	cfg           Config
	logger        *zap.Logger
	baseCollector *colly.Collector

	mu   sync.RWMutex
	doc  *html.Node
	page *url.URL
	gen  uint64
}

var _ crawler.Browser = (*Browser)(nil)

// New builds a Browser.
func New(cfg Config, logger *zap.Logger) *Browser {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	return &Browser{
		cfg:           cfg,
		logger:        logger,
		baseCollector: c,
	}
}

// Navigate fetches rawURL and replaces the current document.
func (b *Browser) Navigate(ctx context.Context, rawURL string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	body, final, err := b.fetch(ctx, rawURL)
	if err != nil {
		return err
	}
	doc, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("parse %s: %w", rawURL, err)
	}

	b.mu.Lock()
	b.doc = doc
	b.page = final
	b.gen++
	b.mu.Unlock()
	b.logger.Debug("page loaded", zap.String("url", final.String()), zap.Int("bytes", len(body)))
	return nil
}

// WaitReady checks locator once; a static document never changes after load.
func (b *Browser) WaitReady(_ context.Context, locator string) error {
	doc, _, _, err := b.current()
	if err != nil {
		return err
	}
	node, err := htmlquery.Query(doc, locator)
	if err != nil {
		return fmt.Errorf("evaluate %s: %w", locator, err)
	}
	if node == nil {
		return fmt.Errorf("%w: %s not present", crawler.ErrWaitTimeout, locator)
	}
	return nil
}

// FindAll returns every match of locator in document order.
func (b *Browser) FindAll(_ context.Context, locator string) ([]crawler.Element, error) {
	doc, _, gen, err := b.current()
	if err != nil {
		return nil, err
	}
	return b.queryAll(doc, gen, locator)
}

// FindOne returns the first match of locator.
func (b *Browser) FindOne(_ context.Context, locator string) (crawler.Element, error) {
	doc, _, gen, err := b.current()
	if err != nil {
		return nil, err
	}
	return b.queryOne(doc, gen, locator)
}

func (b *Browser) current() (*html.Node, *url.URL, uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.doc == nil {
		return nil, nil, 0, fmt.Errorf("no page loaded")
	}
	return b.doc, b.page, b.gen, nil
}

func (b *Browser) generation() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.gen
}

func (b *Browser) queryAll(root *html.Node, gen uint64, locator string) ([]crawler.Element, error) {
	nodes, err := htmlquery.QueryAll(root, locator)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", locator, err)
	}
	out := make([]crawler.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &element{browser: b, node: n, gen: gen})
	}
	return out, nil
}

func (b *Browser) queryOne(root *html.Node, gen uint64, locator string) (crawler.Element, error) {
	node, err := htmlquery.Query(root, locator)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", locator, err)
	}
	if node == nil {
		return nil, fmt.Errorf("%w: %s", crawler.ErrNotFound, locator)
	}
	return &element{browser: b, node: node, gen: gen}, nil
}

func (b *Browser) fetch(ctx context.Context, rawURL string) ([]byte, *url.URL, error) {
	var (
		body     []byte
		final    *url.URL
		fetchErr error
	)
	collector := b.buildCollector()
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
		final = r.Request.URL
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			err = fmt.Errorf("status %d: %w", r.StatusCode, err)
		}
		fetchErr = err
	})

	if err := runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if final == nil {
		return nil, nil, fmt.Errorf("fetch %s: no response", rawURL)
	}
	return body, final, nil
}

func (b *Browser) buildCollector() *colly.Collector {
	collector := b.baseCollector.Clone()
	if b.cfg.UserAgent != "" {
		collector.UserAgent = b.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !b.cfg.RespectRobots
	timeout := b.cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	collector.SetRequestTimeout(timeout)
	if len(b.cfg.Headers) > 0 {
		collector.OnRequest(func(r *colly.Request) {
			for key, values := range b.cfg.Headers {
				for _, v := range values {
					r.Headers.Add(key, v)
				}
			}
		})
	}
	return collector
}

func runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

// followable reports whether href leads to another document.
func followable(href string) bool {
	h := strings.TrimSpace(href)
	switch {
	case h == "", strings.HasPrefix(h, "#"):
		return false
	case strings.HasPrefix(strings.ToLower(h), "javascript:"):
		return false
	}
	return true
}
