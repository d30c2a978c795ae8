package static

import (
	"context"
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/jobs-crawler/internal/crawler"
)

type element struct {
	browser *Browser
	node    *html.Node
	gen     uint64
}

var _ crawler.Element = (*element)(nil)

func (e *element) live() error {
	if e.browser.generation() != e.gen {
		return errStale
	}
	return nil
}

// FindOne evaluates locator relative to the element. An absolute locator
// searches the whole document, as XPath evaluation in a browser does.
func (e *element) FindOne(_ context.Context, locator string) (crawler.Element, error) {
	root, err := e.scope(locator)
	if err != nil {
		return nil, err
	}
	return e.browser.queryOne(root, e.gen, locator)
}

func (e *element) FindAll(_ context.Context, locator string) ([]crawler.Element, error) {
	root, err := e.scope(locator)
	if err != nil {
		return nil, err
	}
	return e.browser.queryAll(root, e.gen, locator)
}

// scope returns the node locator is evaluated from. htmlquery roots its
// navigator at the node it is given, so "//" from a card would stay inside it.
func (e *element) scope(locator string) (*html.Node, error) {
	if err := e.live(); err != nil {
		return nil, err
	}
	if !absolute(locator) {
		return e.node, nil
	}
	doc, _, gen, err := e.browser.current()
	if err != nil {
		return nil, err
	}
	if gen != e.gen {
		return nil, errStale
	}
	return doc, nil
}

func absolute(locator string) bool {
	return strings.HasPrefix(strings.TrimLeft(strings.TrimSpace(locator), "( "), "/")
}

// Attribute returns the named attribute. href is resolved against the page
// URL, as a browser would report it.
func (e *element) Attribute(_ context.Context, name string) (string, error) {
	if err := e.live(); err != nil {
		return "", err
	}
	value, ok := attr(e.node, name)
	if !ok {
		return "", fmt.Errorf("%w: attribute %s", crawler.ErrNotFound, name)
	}
	if strings.EqualFold(name, "href") && strings.TrimSpace(value) != "" {
		return e.resolve(value), nil
	}
	return value, nil
}

func (e *element) Text(context.Context) (string, error) {
	if err := e.live(); err != nil {
		return "", err
	}
	return htmlquery.InnerText(e.node), nil
}

// Click navigates to the href of the element or its nearest enclosing anchor.
func (e *element) Click(ctx context.Context) error {
	if err := e.live(); err != nil {
		return err
	}
	for n := e.node; n != nil; n = n.Parent {
		if n.Type != html.ElementNode || n.Data != "a" {
			continue
		}
		href, ok := attr(n, "href")
		if !ok || !followable(href) {
			return fmt.Errorf("click: anchor has no followable href %q", href)
		}
		return e.browser.Navigate(ctx, e.resolve(href))
	}
	return fmt.Errorf("click: element is not inside a link")
}

func (e *element) ScrollIntoView(context.Context) error {
	return e.live()
}

func (e *element) resolve(href string) string {
	_, page, _, err := e.browser.current()
	if err != nil || page == nil {
		return href
	}
	u, err := page.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return u.String()
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}
