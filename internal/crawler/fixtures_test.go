package crawler

import (
	"context"
	"fmt"
	"time"
)

// fakeElement is a fixture DOM node whose children are keyed by locator.
type fakeElement struct {
	text      string
	textErr   error
	attrs     map[string]string
	children  map[string][]*fakeElement
	lookupErr map[string]error
	onClick   func() error
	clicks    int
	scrolls   int
}

func newElement() *fakeElement {
	return &fakeElement{
		attrs:     map[string]string{},
		children:  map[string][]*fakeElement{},
		lookupErr: map[string]error{},
	}
}

func textElement(text string) *fakeElement {
	el := newElement()
	el.text = text
	return el
}

func (e *fakeElement) add(locator string, kids ...*fakeElement) *fakeElement {
	e.children[locator] = append(e.children[locator], kids...)
	return e
}

func (e *fakeElement) FindOne(_ context.Context, locator string) (Element, error) {
	if err := e.lookupErr[locator]; err != nil {
		return nil, err
	}
	kids := e.children[locator]
	if len(kids) == 0 {
		return nil, fmt.Errorf("locator %q: %w", locator, ErrNotFound)
	}
	return kids[0], nil
}

func (e *fakeElement) FindAll(_ context.Context, locator string) ([]Element, error) {
	if err := e.lookupErr[locator]; err != nil {
		return nil, err
	}
	out := make([]Element, 0, len(e.children[locator]))
	for _, kid := range e.children[locator] {
		out = append(out, kid)
	}
	return out, nil
}

func (e *fakeElement) Attribute(_ context.Context, name string) (string, error) {
	v, ok := e.attrs[name]
	if !ok {
		return "", fmt.Errorf("attribute %q: %w", name, ErrNotFound)
	}
	return v, nil
}

func (e *fakeElement) Text(context.Context) (string, error) {
	return e.text, e.textErr
}

func (e *fakeElement) Click(context.Context) error {
	e.clicks++
	if e.onClick != nil {
		return e.onClick()
	}
	return nil
}

func (e *fakeElement) ScrollIntoView(context.Context) error {
	e.scrolls++
	return nil
}

// fakeBrowser serves a sequence of fixture pages per URL; clicking a next
// control built by nextControl advances to the following page.
type fakeBrowser struct {
	sites     map[string][]*fakeElement
	navErr    map[string]error
	pages     []*fakeElement
	index     int
	navigated []string
	waits     int
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		sites:  map[string][]*fakeElement{},
		navErr: map[string]error{},
	}
}

func (b *fakeBrowser) addSite(url string, pages ...*fakeElement) {
	b.sites[url] = pages
}

func (b *fakeBrowser) current() *fakeElement {
	if b.index >= len(b.pages) {
		return newElement()
	}
	return b.pages[b.index]
}

func (b *fakeBrowser) Navigate(_ context.Context, url string) error {
	b.navigated = append(b.navigated, url)
	if err := b.navErr[url]; err != nil {
		return err
	}
	pages, ok := b.sites[url]
	if !ok {
		return fmt.Errorf("no fixture for %s", url)
	}
	b.pages = pages
	b.index = 0
	return nil
}

func (b *fakeBrowser) FindAll(ctx context.Context, locator string) ([]Element, error) {
	return b.current().FindAll(ctx, locator)
}

func (b *fakeBrowser) FindOne(ctx context.Context, locator string) (Element, error) {
	return b.current().FindOne(ctx, locator)
}

func (b *fakeBrowser) WaitReady(_ context.Context, locator string) error {
	b.waits++
	if len(b.current().children[locator]) == 0 {
		return fmt.Errorf("locator %q: %w", locator, ErrWaitTimeout)
	}
	return nil
}

// nextControl returns a forward control that advances b by one page.
func (b *fakeBrowser) nextControl() *fakeElement {
	el := newElement()
	el.onClick = func() error {
		b.index++
		return nil
	}
	return el
}

func testLocators() Locators {
	return Locators{
		Card:              "card",
		Title:             "title",
		Salary:            "salary",
		Country:           "country",
		Experience:        "experience",
		JobStatus:         "job_status",
		PublishedDate:     "published_date",
		Description:       "description",
		Badge:             "badge",
		ParentNextControl: "next_disabled",
		NextControl:       "next",
		CategoryGroups:    "groups",
		CategoryLink:      "link",
		Ready:             "ready",
	}
}

// newPage returns a ready page root holding cards.
func newPage(cards ...*fakeElement) *fakeElement {
	page := newElement()
	page.add("ready", newElement())
	page.add("card", cards...)
	return page
}

// newCard builds a fully populated card for url.
func newCard(url string) *fakeElement {
	title := textElement("  Senior Go Developer ")
	title.attrs["href"] = url

	card := newElement()
	card.add("title", title)
	card.add("salary", textElement("$5000"))
	card.add("country", textElement("Poland"))
	card.add("experience", textElement("5 years"))
	card.add("job_status", textElement("Active search"))
	card.add("published_date", textElement("Poland. Remote. 12 March"))
	card.add("description", textElement("Builds crawlers."))
	card.add("badge", textElement("Go"), textElement(" Kubernetes "))
	return card
}

// fakeStore records every committed batch.
type fakeStore struct {
	batches        [][]JobRecord
	connectErr     error
	storeErrs      []error
	connects       int
	sessionsOpened int
	sessionsClosed int
	resets         []bool
}

func (s *fakeStore) Connect(context.Context) (Session, error) {
	s.connects++
	if s.connectErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, s.connectErr)
	}
	s.sessionsOpened++
	return &fakeSession{store: s}, nil
}

func (s *fakeStore) CreateSchema(_ context.Context, reset bool) error {
	s.resets = append(s.resets, reset)
	return nil
}

func (s *fakeStore) persisted() int {
	total := 0
	for _, b := range s.batches {
		total += len(b)
	}
	return total
}

type fakeSession struct {
	store *fakeStore
}

func (f *fakeSession) StoreBatch(_ context.Context, records []JobRecord) error {
	if len(f.store.storeErrs) > 0 {
		err := f.store.storeErrs[0]
		f.store.storeErrs = f.store.storeErrs[1:]
		if err != nil {
			return err
		}
	}
	f.store.batches = append(f.store.batches, append([]JobRecord(nil), records...))
	return nil
}

func (f *fakeSession) Close(context.Context) error {
	f.store.sessionsClosed++
	return nil
}

type seqIDs struct {
	n   int
	err error
}

func (g *seqIDs) NewID() (string, error) {
	if g.err != nil {
		return "", g.err
	}
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

// retryN allows n attempts in total without waiting.
type retryN int

func (r retryN) ShouldRetry(err error, attempt int) bool { return err != nil && attempt < int(r) }

func (retryN) Backoff(int) time.Duration { return 0 }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }
