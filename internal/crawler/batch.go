package crawler

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// DefaultBatchSize is the flush threshold used when none is configured.
const DefaultBatchSize = 10

// FlushResult describes one flush attempt.
type FlushResult struct {
	// Attempted is false when the buffer was empty and no session was opened.
	Attempted bool
	Persisted int
	Dropped   int
}

// BatchWriter buffers records and flushes them to the store in bulk.
type BatchWriter struct {
	store       Store
	ids         IDGenerator
	threshold   int
	policy      FailurePolicy
	maxRetained int
	observer    Observer
	logger      *zap.Logger
	buffer      []JobRecord
	// retryAt is the buffer length at which MaybeFlush retries a retained
	// batch; zero means the plain threshold applies.
	retryAt int
}

// NewBatchWriter builds a writer. threshold below one uses DefaultBatchSize;
// maxRetained of zero leaves a retained buffer unbounded.
func NewBatchWriter(
	store Store,
	ids IDGenerator,
	threshold int,
	policy FailurePolicy,
	maxRetained int,
	observer Observer,
	logger *zap.Logger,
) *BatchWriter {
	if threshold < 1 {
		threshold = DefaultBatchSize
	}
	if policy == "" {
		policy = FailurePolicyRetain
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchWriter{
		store:       store,
		ids:         ids,
		threshold:   threshold,
		policy:      policy,
		maxRetained: maxRetained,
		observer:    observer,
		logger:      logger,
		buffer:      make([]JobRecord, 0, threshold),
	}
}

// Append adds a record to the buffer.
func (w *BatchWriter) Append(record JobRecord) {
	w.buffer = append(w.buffer, record)
}

// Len returns the number of buffered records.
func (w *BatchWriter) Len() int {
	return len(w.buffer)
}

// MaybeFlush flushes when the buffer has reached the threshold. After a
// failed flush under the retain policy, the next attempt waits until another
// threshold's worth of records has been appended, so an unreachable store is
// contacted once per threshold rather than once per card.
func (w *BatchWriter) MaybeFlush(ctx context.Context) (FlushResult, error) {
	if len(w.buffer) < max(w.threshold, w.retryAt) {
		return FlushResult{}, nil
	}
	return w.flush(ctx)
}

// FlushRemaining flushes whatever is buffered.
func (w *BatchWriter) FlushRemaining(ctx context.Context) (FlushResult, error) {
	return w.flush(ctx)
}

func (w *BatchWriter) flush(ctx context.Context) (FlushResult, error) {
	if len(w.buffer) == 0 {
		return FlushResult{}, nil
	}
	result := FlushResult{Attempted: true}
	err := w.persist(ctx)
	w.observer.Flushed(len(w.buffer), err)
	if err == nil {
		result.Persisted = len(w.buffer)
		w.logger.Info("batch stored", zap.Int("records", result.Persisted))
		w.reset()
		return result, nil
	}

	switch {
	case w.policy == FailurePolicyDrop:
		result.Dropped = len(w.buffer)
		w.logger.Error("batch store failed, dropping records", zap.Int("records", result.Dropped), zap.Error(err))
		w.reset()
	case w.maxRetained > 0 && len(w.buffer) > w.maxRetained:
		result.Dropped = len(w.buffer)
		w.logger.Error("batch store failed and retained buffer is full, dropping records",
			zap.Int("records", result.Dropped),
			zap.Int("max_retained", w.maxRetained),
			zap.Error(err),
		)
		w.reset()
	default:
		w.retryAt = len(w.buffer) + w.threshold
		w.logger.Warn("batch store failed, retaining records for retry",
			zap.Int("records", len(w.buffer)),
			zap.Int("retry_at", w.retryAt),
			zap.Error(err),
		)
	}
	if result.Dropped > 0 {
		w.observer.RecordsDropped(result.Dropped)
	}
	return result, err
}

// persist runs one scoped session: connect, assign ids, bulk insert, release.
// A record keeps the id it was first given, so retrying a batch whose commit
// outcome was unknown cannot insert it twice under different keys.
func (w *BatchWriter) persist(ctx context.Context) error {
	session, err := w.store.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect store: %w", err)
	}
	defer func() {
		if cerr := session.Close(ctx); cerr != nil {
			w.logger.Warn("release store session", zap.Error(cerr))
		}
	}()

	for i := range w.buffer {
		if w.buffer[i].ID != "" {
			continue
		}
		id, err := w.ids.NewID()
		if err != nil {
			return fmt.Errorf("assign record id: %w", err)
		}
		w.buffer[i].ID = id
	}
	if err := session.StoreBatch(ctx, w.buffer); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

func (w *BatchWriter) reset() {
	w.buffer = make([]JobRecord, 0, w.threshold)
	w.retryAt = 0
}
