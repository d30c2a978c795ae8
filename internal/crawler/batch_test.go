package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockStore is a mock implementation of the Store interface.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Connect(ctx context.Context) (Session, error) {
	args := m.Called(ctx)
	session, _ := args.Get(0).(Session)
	return session, args.Error(1)
}

func (m *MockStore) CreateSchema(ctx context.Context, reset bool) error {
	args := m.Called(ctx, reset)
	return args.Error(0)
}

// MockSession is a mock implementation of the Session interface.
type MockSession struct {
	mock.Mock
}

func (m *MockSession) StoreBatch(ctx context.Context, records []JobRecord) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

func (m *MockSession) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func record(url string) JobRecord {
	return JobRecord{JobURL: url, Badges: []string{}}
}

func TestMaybeFlushBelowThresholdLeavesBuffer(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	w := NewBatchWriter(store, &seqIDs{}, 3, FailurePolicyRetain, 0, nil, nil)
	w.Append(record("u1"))
	w.Append(record("u2"))

	result, err := w.MaybeFlush(context.Background())
	require.NoError(t, err)
	require.False(t, result.Attempted)
	require.Equal(t, 2, w.Len())
	require.Zero(t, store.sessionsOpened)
}

func TestMaybeFlushAtThresholdEmptiesBuffer(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	w := NewBatchWriter(store, &seqIDs{}, 3, FailurePolicyRetain, 0, nil, nil)
	for i := 0; i < 3; i++ {
		w.Append(record(fmt.Sprintf("u%d", i)))
	}

	result, err := w.MaybeFlush(context.Background())
	require.NoError(t, err)
	require.True(t, result.Attempted)
	require.Equal(t, 3, result.Persisted)
	require.Zero(t, w.Len())
	require.Len(t, store.batches, 1)
	require.Equal(t, 1, store.sessionsOpened)
	require.Equal(t, 1, store.sessionsClosed)

	ids := map[string]struct{}{}
	for _, rec := range store.batches[0] {
		require.NotEmpty(t, rec.ID)
		ids[rec.ID] = struct{}{}
	}
	require.Len(t, ids, 3, "each record gets a fresh id")
}

func TestFlushCountIsCeilOfCardsOverThreshold(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct{ n, threshold, flushes int }{
		{0, 10, 0},
		{1, 10, 1},
		{9, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{12, 10, 2},
		{20, 10, 2},
		{25, 10, 3},
		{7, 1, 7},
	} {
		t.Run(fmt.Sprintf("n=%d,t=%d", tc.n, tc.threshold), func(t *testing.T) {
			t.Parallel()
			store := &fakeStore{}
			w := NewBatchWriter(store, &seqIDs{}, tc.threshold, FailurePolicyRetain, 0, nil, nil)
			for i := 0; i < tc.n; i++ {
				w.Append(record(fmt.Sprintf("u%d", i)))
				_, err := w.MaybeFlush(context.Background())
				require.NoError(t, err)
			}
			_, err := w.FlushRemaining(context.Background())
			require.NoError(t, err)

			require.Len(t, store.batches, tc.flushes)
			require.Equal(t, tc.n, store.persisted())
			require.Equal(t, store.sessionsOpened, store.sessionsClosed)
		})
	}
}

// The default policy retains a failed batch: its length is unchanged after
// the failed flush and the next flush persists it.
func TestFailedFlushRetainsBufferByDefault(t *testing.T) {
	t.Parallel()

	store := &fakeStore{storeErrs: []error{errors.New("deadlock detected")}}
	w := NewBatchWriter(store, &seqIDs{}, 2, "", 0, nil, nil)
	w.Append(record("u1"))
	w.Append(record("u2"))

	result, err := w.MaybeFlush(context.Background())
	require.ErrorIs(t, err, ErrPersistence)
	require.Zero(t, result.Dropped)
	require.Equal(t, 2, w.Len())
	require.Equal(t, 1, store.sessionsClosed, "session released on failure")

	w.Append(record("u3"))
	result, err = w.MaybeFlush(context.Background())
	require.NoError(t, err)
	require.False(t, result.Attempted, "retry waits for another threshold of records")

	w.Append(record("u4"))
	result, err = w.MaybeFlush(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, result.Persisted)
	require.Zero(t, w.Len())
	require.Equal(t, []string{"u1", "u2", "u3", "u4"}, urlsOf(store.batches[0]))
}

func TestRetainedBatchKeepsIDsAcrossRetries(t *testing.T) {
	t.Parallel()

	store := &fakeStore{storeErrs: []error{errors.New("commit outcome unknown")}}
	w := NewBatchWriter(store, &seqIDs{}, 2, FailurePolicyRetain, 0, nil, nil)
	w.Append(record("u1"))
	w.Append(record("u2"))

	_, err := w.MaybeFlush(context.Background())
	require.ErrorIs(t, err, ErrPersistence)

	w.Append(record("u3"))
	result, err := w.FlushRemaining(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, result.Persisted)

	got := make([]string, 0, 3)
	for _, r := range store.batches[0] {
		got = append(got, r.ID)
	}
	require.Equal(t, []string{"id-1", "id-2", "id-3"}, got)
}

func TestRetainedBufferRetriesOncePerThreshold(t *testing.T) {
	t.Parallel()

	store := &fakeStore{connectErr: errors.New("connection refused")}
	w := NewBatchWriter(store, &seqIDs{}, 3, FailurePolicyRetain, 0, nil, nil)
	for i := 0; i < 9; i++ {
		w.Append(record(fmt.Sprintf("u%d", i)))
		_, _ = w.MaybeFlush(context.Background())
	}
	require.Equal(t, 3, store.connects, "attempts at 3, 6 and 9 records")
	require.Equal(t, 9, w.Len())

	store.connectErr = nil
	result, err := w.FlushRemaining(context.Background())
	require.NoError(t, err)
	require.Equal(t, 9, result.Persisted)

	w.Append(record("u9"))
	w.Append(record("u10"))
	w.Append(record("u11"))
	result, err = w.MaybeFlush(context.Background())
	require.NoError(t, err)
	require.True(t, result.Attempted, "a successful flush restores the plain threshold")
}

func TestFailedFlushDropPolicyClearsBuffer(t *testing.T) {
	t.Parallel()

	store := &fakeStore{storeErrs: []error{errors.New("lost connection")}}
	w := NewBatchWriter(store, &seqIDs{}, 2, FailurePolicyDrop, 0, nil, nil)
	w.Append(record("u1"))
	w.Append(record("u2"))

	result, err := w.MaybeFlush(context.Background())
	require.Error(t, err)
	require.Equal(t, 2, result.Dropped)
	require.Zero(t, w.Len())
}

func TestRetainedBufferOverflowDrops(t *testing.T) {
	t.Parallel()

	store := &fakeStore{connectErr: errors.New("connection refused")}
	w := NewBatchWriter(store, &seqIDs{}, 2, FailurePolicyRetain, 3, nil, nil)
	w.Append(record("u1"))
	w.Append(record("u2"))
	_, err := w.MaybeFlush(context.Background())
	require.ErrorIs(t, err, ErrConnection)
	require.Equal(t, 2, w.Len())

	w.Append(record("u3"))
	w.Append(record("u4"))
	result, err := w.MaybeFlush(context.Background())
	require.ErrorIs(t, err, ErrConnection)
	require.Equal(t, 4, result.Dropped)
	require.Zero(t, w.Len())
}

func TestFlushRemainingOnEmptyBufferOpensNoSession(t *testing.T) {
	t.Parallel()

	store := new(MockStore)
	w := NewBatchWriter(store, &seqIDs{}, 10, FailurePolicyRetain, 0, nil, nil)

	result, err := w.FlushRemaining(context.Background())
	require.NoError(t, err)
	require.False(t, result.Attempted)
	store.AssertNotCalled(t, "Connect", mock.Anything)
}

func TestFlushReleasesSessionWhenIDGenerationFails(t *testing.T) {
	t.Parallel()

	session := new(MockSession)
	session.On("Close", mock.Anything).Return(nil).Once()
	store := new(MockStore)
	store.On("Connect", mock.Anything).Return(session, nil).Once()

	w := NewBatchWriter(store, &seqIDs{err: errors.New("entropy exhausted")}, 1, FailurePolicyRetain, 0, nil, nil)
	w.Append(record("u1"))
	_, err := w.MaybeFlush(context.Background())
	require.Error(t, err)
	require.Equal(t, 1, w.Len())

	store.AssertExpectations(t)
	session.AssertExpectations(t)
	session.AssertNotCalled(t, "StoreBatch", mock.Anything, mock.Anything)
}

func TestFlushSubmitsBufferAsOneBulkOperation(t *testing.T) {
	t.Parallel()

	session := new(MockSession)
	session.On("StoreBatch", mock.Anything, mock.MatchedBy(func(records []JobRecord) bool {
		return len(records) == 2 && records[0].ID == "id-1" && records[1].ID == "id-2"
	})).Return(nil).Once()
	session.On("Close", mock.Anything).Return(nil).Once()
	store := new(MockStore)
	store.On("Connect", mock.Anything).Return(session, nil).Once()

	w := NewBatchWriter(store, &seqIDs{}, 2, FailurePolicyRetain, 0, nil, nil)
	w.Append(record("u1"))
	w.Append(record("u2"))
	_, err := w.MaybeFlush(context.Background())
	require.NoError(t, err)

	store.AssertExpectations(t)
	session.AssertExpectations(t)
}

func TestParseFailurePolicy(t *testing.T) {
	t.Parallel()

	p, err := ParseFailurePolicy("")
	require.NoError(t, err)
	require.Equal(t, FailurePolicyRetain, p)
	p, err = ParseFailurePolicy("drop")
	require.NoError(t, err)
	require.Equal(t, FailurePolicyDrop, p)
	_, err = ParseFailurePolicy("ignore")
	require.Error(t, err)
}

func urlsOf(records []JobRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.JobURL)
	}
	return out
}
