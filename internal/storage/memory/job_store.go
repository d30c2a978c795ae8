// Package memory keeps job records in-memory for dry runs and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/jobs-crawler/internal/crawler"
)

var errSessionClosed = errors.New("session already finished")

// JobStore provides an in-memory crawler.Store. A batch is committed as a
// whole or not at all.
type JobStore struct {
	mu      sync.RWMutex
	ids     map[string]struct{}
	records []crawler.JobRecord
}

var _ crawler.Store = (*JobStore)(nil)

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{ids: make(map[string]struct{})}
}

// CreateSchema clears stored records when reset is set.
func (s *JobStore) CreateSchema(_ context.Context, reset bool) error {
	if !reset {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(map[string]struct{})
	s.records = nil
	return nil
}

// Connect opens a session. It only fails when ctx is already done.
func (s *JobStore) Connect(ctx context.Context) (crawler.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", crawler.ErrConnection, err)
	}
	return &session{store: s}, nil
}

// Records returns a copy of everything committed so far, in commit order.
func (s *JobStore) Records() []crawler.JobRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.JobRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Len reports the number of committed records.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *JobStore) commit(records []crawler.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("record id is required (job_url %q)", r.JobURL)
		}
		if _, dup := s.ids[r.ID]; dup {
			return fmt.Errorf("duplicate id %q", r.ID)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("duplicate id %q in batch", r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	for _, r := range records {
		s.ids[r.ID] = struct{}{}
		r.Badges = append([]string{}, r.Badges...)
		s.records = append(s.records, r)
	}
	return nil
}

type session struct {
	store *JobStore
	done  bool
}

func (s *session) StoreBatch(_ context.Context, records []crawler.JobRecord) error {
	if s.done {
		return errSessionClosed
	}
	if err := s.store.commit(records); err != nil {
		return err
	}
	s.done = true
	return nil
}

func (s *session) Close(context.Context) error {
	s.done = true
	return nil
}
