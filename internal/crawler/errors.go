package crawler

import "errors"

var (
	// ErrNotFound reports a locator that matched nothing.
	ErrNotFound = errors.New("element not found")
	// ErrWaitTimeout reports a readiness wait that exceeded its bound.
	ErrWaitTimeout = errors.New("wait for readiness timed out")
	// ErrRequiredField marks a card skipped because its job URL could not be read.
	ErrRequiredField = errors.New("required field missing")
	// ErrNavigation aborts the remaining pagination of a category.
	ErrNavigation = errors.New("navigation failed")
	// ErrContinuation reports a continuation probe that kept faulting.
	ErrContinuation = errors.New("continuation probe failed")
	// ErrDiscovery is fatal to a run: there are no categories to crawl.
	ErrDiscovery = errors.New("category discovery failed")
	// ErrConnection reports an unreachable or misconfigured store.
	ErrConnection = errors.New("store connection failed")
	// ErrPersistence reports a failed bulk insert.
	ErrPersistence = errors.New("store batch failed")
)
