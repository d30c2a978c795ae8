package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CardVisitor receives each listing card in document order.
type CardVisitor func(ctx context.Context, card Element)

// PaginationController walks the result pages of a single category.
type PaginationController struct {
	browser  Browser
	locators Locators
	retry    RetryPolicy
	maxPages int
	observer Observer
	logger   *zap.Logger
}

// NewPaginationController builds a controller. maxPages of zero means no cap.
func NewPaginationController(
	browser Browser,
	locators Locators,
	retry RetryPolicy,
	maxPages int,
	observer Observer,
	logger *zap.Logger,
) *PaginationController {
	if retry == nil {
		retry = NoRetry{}
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaginationController{
		browser:  browser,
		locators: locators,
		retry:    retry,
		maxPages: maxPages,
		observer: observer,
		logger:   logger,
	}
}

// Traverse loads categoryURL and every following page, handing each card to
// visit. The returned error wraps ErrNavigation or ErrContinuation when the
// category ended in the Error state; cards visited before that still count.
func (p *PaginationController) Traverse(ctx context.Context, categoryURL string, visit CardVisitor) (PageStats, error) {
	logger := p.logger.With(zap.String("category", categoryURL))
	stats := PageStats{}
	state := StateLoadingPage
	var (
		control Element
		runErr  error
	)

	for {
		switch state {
		case StateLoadingPage:
			if err := p.loadPage(ctx, categoryURL, control, stats.PagesLoaded); err != nil {
				runErr = err
				state = StateError
				continue
			}
			control = nil
			stats.PagesLoaded++
			p.observer.PageLoaded(categoryURL)
			logger.Debug("page loaded", zap.Int("page", stats.PagesLoaded))
			state = StateHarvestingCards

		case StateHarvestingCards:
			cards, err := p.browser.FindAll(ctx, p.locators.Card)
			if err != nil && !errors.Is(err, ErrNotFound) {
				logger.Warn("card lookup failed", zap.Int("page", stats.PagesLoaded), zap.Error(err))
			}
			for _, card := range cards {
				visit(ctx, card)
			}
			stats.CardsSeen += len(cards)
			state = StateCheckingContinuation

		case StateCheckingContinuation:
			if p.maxPages > 0 && stats.PagesLoaded >= p.maxPages {
				logger.Info("page cap reached", zap.Int("max_pages", p.maxPages))
				state = StateExhausted
				continue
			}
			next, err := p.Probe(ctx)
			if err != nil {
				runErr = err
				state = StateError
				continue
			}
			switch next.Kind {
			case ControlActive:
				logger.Info("moving to next page", zap.Int("page", stats.PagesLoaded+1))
				control = next.Control
				state = StateLoadingPage
			default:
				logger.Info("no more pages", zap.String("control", next.Kind.String()))
				state = StateExhausted
			}

		case StateExhausted, StateError:
			stats.EndState = state
			p.observer.CategoryFinished(categoryURL, state)
			return stats, runErr
		}
	}
}

// loadPage navigates to url on the first page and follows control afterwards,
// then waits for the page to become ready.
func (p *PaginationController) loadPage(ctx context.Context, url string, control Element, loaded int) error {
	if loaded == 0 {
		if err := p.browser.Navigate(ctx, url); err != nil {
			return fmt.Errorf("%w: open %s: %w", ErrNavigation, url, err)
		}
	} else {
		if control == nil {
			return fmt.Errorf("%w: no forward control to follow", ErrNavigation)
		}
		if err := control.ScrollIntoView(ctx); err != nil {
			p.logger.Debug("scroll to forward control failed", zap.Error(err))
		}
		if err := control.Click(ctx); err != nil {
			return fmt.Errorf("%w: click forward control on page %d: %w", ErrNavigation, loaded, err)
		}
	}
	if err := p.browser.WaitReady(ctx, p.locators.Ready); err != nil {
		return fmt.Errorf("%w: wait for page %d: %w", ErrNavigation, loaded+1, err)
	}
	return nil
}

// Probe inspects the pagination region. A disabled marker wins over an
// active control; lookup faults are retried per the retry policy and
// reported as ErrContinuation once the budget is spent.
func (p *PaginationController) Probe(ctx context.Context) (Continuation, error) {
	for attempt := 0; ; attempt++ {
		next, err := p.probeOnce(ctx)
		if err == nil {
			return next, nil
		}
		if !p.retry.ShouldRetry(err, attempt+1) {
			return Continuation{}, fmt.Errorf("%w after %d attempt(s): %w", ErrContinuation, attempt+1, err)
		}
		p.logger.Warn("continuation probe failed, retrying", zap.Int("attempt", attempt+1), zap.Error(err))
		if err := sleepCtx(ctx, p.retry.Backoff(attempt)); err != nil {
			return Continuation{}, fmt.Errorf("%w: %w", ErrContinuation, err)
		}
	}
}

func (p *PaginationController) probeOnce(ctx context.Context) (Continuation, error) {
	_, err := p.browser.FindOne(ctx, p.locators.ParentNextControl)
	switch {
	case err == nil:
		return Continuation{Kind: ControlDisabled}, nil
	case !errors.Is(err, ErrNotFound):
		return Continuation{}, fmt.Errorf("disabled marker lookup: %w", err)
	}

	control, err := p.browser.FindOne(ctx, p.locators.NextControl)
	switch {
	case err == nil:
		return Continuation{Kind: ControlActive, Control: control}, nil
	case errors.Is(err, ErrNotFound):
		return Continuation{Kind: ControlAbsent}, nil
	default:
		return Continuation{}, fmt.Errorf("forward control lookup: %w", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
