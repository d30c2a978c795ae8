package headless

import (
	"context"
	"fmt"

	"github.com/JakeFAU/jobs-crawler/internal/crawler"
)

// element is a handle into the page's node registry.
type element struct {
	browser *Browser
	id      int64
}

var _ crawler.Element = (*element)(nil)

func (e *element) FindOne(ctx context.Context, locator string) (crawler.Element, error) {
	return e.browser.first(ctx, e.id, locator)
}

func (e *element) FindAll(ctx context.Context, locator string) ([]crawler.Element, error) {
	return e.browser.lookup(ctx, e.id, locator, 0)
}

func (e *element) Attribute(ctx context.Context, name string) (string, error) {
	res, err := e.browser.value(ctx, attributeScript(e.id, name))
	if err != nil {
		return "", fmt.Errorf("attribute %s: %w", name, err)
	}
	if !res.OK {
		return "", fmt.Errorf("%w: attribute %s", crawler.ErrNotFound, name)
	}
	return res.Value, nil
}

func (e *element) Text(ctx context.Context) (string, error) {
	res, err := e.browser.value(ctx, textScript(e.id))
	if err != nil {
		return "", fmt.Errorf("text: %w", err)
	}
	return res.Value, nil
}

func (e *element) Click(ctx context.Context) error {
	if _, err := e.browser.value(ctx, clickScript(e.id)); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

func (e *element) ScrollIntoView(ctx context.Context) error {
	if _, err := e.browser.value(ctx, scrollScript(e.id)); err != nil {
		return fmt.Errorf("scroll into view: %w", err)
	}
	return nil
}
