package crawler

import (
	"context"
	"time"
)

// Browser is the page-level view of the DOM collaborator. Lookups that match
// nothing return an error wrapping ErrNotFound.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	FindAll(ctx context.Context, locator string) ([]Element, error)
	FindOne(ctx context.Context, locator string) (Element, error)
	// WaitReady blocks until locator matches or the implementation's bounded
	// timeout elapses, in which case the error wraps ErrWaitTimeout.
	WaitReady(ctx context.Context, locator string) error
}

// Element is one node of the current page. Locators passed to an Element are
// evaluated relative to it.
type Element interface {
	FindOne(ctx context.Context, locator string) (Element, error)
	FindAll(ctx context.Context, locator string) ([]Element, error)
	Attribute(ctx context.Context, name string) (string, error)
	Text(ctx context.Context) (string, error)
	Click(ctx context.Context) error
	ScrollIntoView(ctx context.Context) error
}

// Store is the persistence collaborator.
type Store interface {
	// Connect acquires a session. Errors wrap ErrConnection.
	Connect(ctx context.Context) (Session, error)
	// CreateSchema creates the jobs table, dropping it first when reset is set.
	CreateSchema(ctx context.Context, reset bool) error
}

// Session is a scoped unit of work against the store.
type Session interface {
	// StoreBatch bulk-inserts records and commits. Success is per call.
	StoreBatch(ctx context.Context, records []JobRecord) error
	// Close releases the session; it is safe to call after a commit.
	Close(ctx context.Context) error
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// RetryPolicy decides whether a failed continuation lookup is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Observer receives crawl milestones, typically to update metrics.
type Observer interface {
	PageLoaded(category string)
	CardExtracted()
	CardSkipped()
	Flushed(records int, err error)
	RecordsDropped(records int)
	CategoryFinished(category string, state PageState)
}

type nopObserver struct{}

func (nopObserver) PageLoaded(string)                  {}
func (nopObserver) CardExtracted()                     {}
func (nopObserver) CardSkipped()                       {}
func (nopObserver) Flushed(int, error)                 {}
func (nopObserver) RecordsDropped(int)                 {}
func (nopObserver) CategoryFinished(string, PageState) {}
