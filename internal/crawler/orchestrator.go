package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config carries the knobs shared by the pipeline components.
type Config struct {
	RootURL       string
	Locators      Locators
	GroupCount    int
	Dedupe        bool
	MaxPages      int
	DateSeparator string
	BatchSize     int
	FailurePolicy FailurePolicy
	MaxRetained   int
}

// Orchestrator runs discovery, then pagination, extraction and batching for
// each category in turn.
type Orchestrator struct {
	discovery *CategoryDiscovery
	pager     *PaginationController
	extractor *RecordExtractor
	batch     *BatchWriter
	observer  Observer
	clock     Clock
	logger    *zap.Logger

	mu    sync.RWMutex
	stats RunStats
}

// NewOrchestrator wires the pipeline. Every collaborator is injected so tests
// can substitute fixture browsers and fake stores.
func NewOrchestrator(
	cfg Config,
	browser Browser,
	store Store,
	ids IDGenerator,
	retry RetryPolicy,
	observer Observer,
	clock Clock,
	logger *zap.Logger,
) *Orchestrator {
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		discovery: NewCategoryDiscovery(browser, cfg.Locators, cfg.RootURL, cfg.GroupCount, cfg.Dedupe, logger.Named("discovery")),
		pager:     NewPaginationController(browser, cfg.Locators, retry, cfg.MaxPages, observer, logger.Named("pagination")),
		extractor: NewRecordExtractor(cfg.Locators, cfg.DateSeparator, logger.Named("extractor")),
		batch:     NewBatchWriter(store, ids, cfg.BatchSize, cfg.FailurePolicy, cfg.MaxRetained, observer, logger.Named("batch")),
		observer:  observer,
		clock:     clock,
		logger:    logger,
	}
}

// Run executes one crawl. It returns an error only when discovery fails or
// ctx is cancelled; per-card and per-category failures are logged and counted.
func (o *Orchestrator) Run(ctx context.Context) (RunStats, error) {
	o.update(func(s *RunStats) {
		*s = RunStats{StartedAt: o.now()}
	})

	categories, err := o.discovery.Discover(ctx)
	if err != nil {
		return o.finish(), err
	}
	o.update(func(s *RunStats) { s.Categories = len(categories) })
	o.logger.Info("found categories", zap.Int("count", len(categories)))

	for _, category := range categories {
		if err := ctx.Err(); err != nil {
			return o.finish(), fmt.Errorf("crawl interrupted: %w", err)
		}
		o.crawlCategory(ctx, category)
	}

	if pending := o.batch.Len(); pending > 0 {
		o.logger.Error("records left unpersisted after final flush", zap.Int("records", pending))
	}
	if err := ctx.Err(); err != nil {
		return o.finish(), fmt.Errorf("crawl interrupted: %w", err)
	}
	o.logger.Info("crawl finished")
	return o.finish(), nil
}

// Stats returns a snapshot of the current run counters.
func (o *Orchestrator) Stats() RunStats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := o.stats
	if o.stats.FinishedAt != nil {
		finished := *o.stats.FinishedAt
		out.FinishedAt = &finished
	}
	return out
}

func (o *Orchestrator) crawlCategory(ctx context.Context, category string) {
	logger := o.logger.With(zap.String("category", category))
	logger.Info("navigating to category")

	pageStats, err := o.pager.Traverse(ctx, category, func(ctx context.Context, card Element) {
		o.handleCard(ctx, logger, card)
	})
	o.update(func(s *RunStats) { s.PagesLoaded += pageStats.PagesLoaded })
	if err != nil {
		o.update(func(s *RunStats) { s.CategoriesFailed++ })
		logger.Error("category crawl aborted", zap.Int("pages_loaded", pageStats.PagesLoaded), zap.Error(err))
	}

	// The remainder is flushed even if ctx was cancelled mid-category.
	flushCtx := context.WithoutCancel(ctx)
	result, err := o.batch.FlushRemaining(flushCtx)
	o.recordFlush(result, err)
	if err != nil {
		logger.Error("flush remaining records failed", zap.Error(err))
	}
	logger.Info("category done",
		zap.Int("pages", pageStats.PagesLoaded),
		zap.Int("cards", pageStats.CardsSeen),
		zap.String("end_state", string(pageStats.EndState)),
	)
}

func (o *Orchestrator) handleCard(ctx context.Context, logger *zap.Logger, card Element) {
	record, err := o.extractor.Extract(ctx, card)
	if err != nil {
		o.observer.CardSkipped()
		o.update(func(s *RunStats) { s.CardsSkipped++ })
		logger.Error("skipping card", zap.Bool("required_field", errors.Is(err, ErrRequiredField)), zap.Error(err))
		return
	}
	o.observer.CardExtracted()
	o.update(func(s *RunStats) { s.CardsExtracted++ })
	logger.Debug("card extracted", zap.String("job_url", record.JobURL))

	o.batch.Append(record)
	result, err := o.batch.MaybeFlush(ctx)
	o.recordFlush(result, err)
	if err != nil {
		logger.Error("error writing batch to store", zap.Error(err))
	}
}

func (o *Orchestrator) recordFlush(result FlushResult, err error) {
	if !result.Attempted {
		return
	}
	o.update(func(s *RunStats) {
		s.Flushes++
		if err != nil {
			s.FlushFailures++
		}
		s.RecordsPersisted += result.Persisted
		s.RecordsDropped += result.Dropped
	})
}

func (o *Orchestrator) update(fn func(*RunStats)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(&o.stats)
}

func (o *Orchestrator) finish() RunStats {
	o.update(func(s *RunStats) {
		finished := o.now()
		s.FinishedAt = &finished
		s.RecordsUnpersisted = o.batch.Len()
	})
	return o.Stats()
}

func (o *Orchestrator) now() time.Time {
	if o.clock == nil {
		return time.Now().UTC()
	}
	return o.clock.Now()
}
