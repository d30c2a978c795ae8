package crawler

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// DefaultGroupCount is the number of category group containers read from the root page.
const DefaultGroupCount = 2

// CategoryDiscovery enumerates category URLs from the root listing page.
type CategoryDiscovery struct {
	browser    Browser
	locators   Locators
	rootURL    string
	groupCount int
	dedupe     bool
	logger     *zap.Logger
}

// NewCategoryDiscovery builds a discovery step. groupCount of zero reads every
// group found; dedupe drops repeated URLs keeping the first occurrence.
func NewCategoryDiscovery(
	browser Browser,
	locators Locators,
	rootURL string,
	groupCount int,
	dedupe bool,
	logger *zap.Logger,
) *CategoryDiscovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CategoryDiscovery{
		browser:    browser,
		locators:   locators,
		rootURL:    rootURL,
		groupCount: groupCount,
		dedupe:     dedupe,
		logger:     logger,
	}
}

// Discover returns category URLs in document order across all groups. Any
// error wraps ErrDiscovery.
func (d *CategoryDiscovery) Discover(ctx context.Context) ([]string, error) {
	if err := d.browser.Navigate(ctx, d.rootURL); err != nil {
		return nil, fmt.Errorf("%w: open root %s: %w", ErrDiscovery, d.rootURL, err)
	}
	if err := d.browser.WaitReady(ctx, d.locators.CategoryGroups); err != nil {
		return nil, fmt.Errorf("%w: wait for category groups: %w", ErrDiscovery, err)
	}
	groups, err := d.browser.FindAll(ctx, d.locators.CategoryGroups)
	if err != nil {
		return nil, fmt.Errorf("%w: locate category groups: %w", ErrDiscovery, err)
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("%w: no category groups on %s", ErrDiscovery, d.rootURL)
	}
	if d.groupCount > 0 && len(groups) > d.groupCount {
		groups = groups[:d.groupCount]
	}

	var (
		urls []string
		seen = make(map[string]struct{})
	)
	for i, group := range groups {
		anchors, err := group.FindAll(ctx, d.locators.CategoryLink)
		if err != nil {
			d.logger.Warn("category group unreadable", zap.Int("group", i+1), zap.Error(err))
			continue
		}
		for _, anchor := range anchors {
			href, err := anchor.Attribute(ctx, "href")
			href = strings.TrimSpace(href)
			if err != nil || href == "" {
				d.logger.Warn("category anchor without href", zap.Int("group", i+1), zap.Error(err))
				continue
			}
			if d.dedupe {
				if _, ok := seen[href]; ok {
					continue
				}
				seen[href] = struct{}{}
			}
			urls = append(urls, href)
		}
		d.logger.Info("found categories", zap.Int("group", i+1), zap.Int("total", len(urls)))
	}
	return urls, nil
}
