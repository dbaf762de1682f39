package recorder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/umputun/cronner/app/recorder/mocks"
	"github.com/umputun/cronner/app/store"
)

func TestJobID(t *testing.T) {
	id := JobID("/usr/bin/backup --all")
	assert.Len(t, id, 64)
	assert.Equal(t, id, JobID("/usr/bin/backup --all"))
	assert.NotEqual(t, id, JobID("/usr/bin/backup"))
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", JobID(""))
}

func TestRecorder_Register(t *testing.T) {
	st := prepStore(t)
	rec := Recorder{Store: st}
	ctx := context.Background()

	created, err := rec.Register(ctx, store.Job{ID: "abc", Description: "nightly backup", NextRun: ptr(1700000000.0)})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = rec.Register(ctx, store.Job{ID: "abc", Description: "changed"})
	require.NoError(t, err)
	assert.False(t, created)

	job, err := st.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, store.Job{ID: "abc", Description: "nightly backup", NextRun: ptr(1700000000.0)}, job)
}

func TestRecorder_RegisterInsertedConcurrently(t *testing.T) {
	st := mocks.NewStore(t)
	st.On("Exists", mock.Anything, "abc").Return(false, nil).Once()
	st.On("Insert", mock.Anything, store.Job{ID: "abc", Description: "test"}).
		Return(fmt.Errorf("insert job abc: %w", store.ErrDuplicateKey)).Once()

	rec := Recorder{Store: st}
	created, err := rec.Register(context.Background(), store.Job{ID: "abc", Description: "test"})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestRecorder_RegisterFailed(t *testing.T) {
	t.Run("exists", func(t *testing.T) {
		st := mocks.NewStore(t)
		st.On("Exists", mock.Anything, "abc").Return(false, store.ErrUnavailable).Once()
		rec := Recorder{Store: st}
		_, err := rec.Register(context.Background(), store.Job{ID: "abc", Description: "test"})
		require.Error(t, err)
		assert.ErrorIs(t, err, store.ErrUnavailable)
	})

	t.Run("insert", func(t *testing.T) {
		st := mocks.NewStore(t)
		st.On("Exists", mock.Anything, "abc").Return(false, nil).Once()
		st.On("Insert", mock.Anything, mock.Anything).Return(store.ErrWriteFailure).Once()
		rec := Recorder{Store: st}
		created, err := rec.Register(context.Background(), store.Job{ID: "abc", Description: "test"})
		require.Error(t, err)
		assert.ErrorIs(t, err, store.ErrWriteFailure)
		assert.False(t, created)
	})
}

func TestRecorder_Complete(t *testing.T) {
	st := prepStore(t)
	rec := Recorder{Store: st, Repeater: repeater.New(&strategy.Once{})}
	ctx := context.Background()

	// unknown job registered on the first run
	err := rec.Complete(ctx, Run{ID: "abc", Description: "nightly backup", Time: 1700000500.0,
		NextRun: ptr(1700086900.0), Result: 0})
	require.NoError(t, err)

	job, err := st.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, store.Job{ID: "abc", Description: "nightly backup", LastRun: ptr(1700000500.0),
		NextRun: ptr(1700086900.0), LastRunResult: ptr(0)}, job)

	// description taken from the store
	err = rec.Complete(ctx, Run{ID: "abc", Time: 1700086900.0, NextRun: ptr(1700173300.0), Result: 2})
	require.NoError(t, err)

	job, err = st.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, store.Job{ID: "abc", Description: "nightly backup", LastRun: ptr(1700086900.0),
		NextRun: ptr(1700173300.0), LastRunResult: ptr(2)}, job)

	hist, err := st.History(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, []store.HistoryEntry{
		{ID: "abc", Description: "nightly backup", Time: 1700000500.0, Result: 0},
		{ID: "abc", Description: "nightly backup", Time: 1700086900.0, Result: 2},
	}, hist)
}

func TestRecorder_CompleteEmptyID(t *testing.T) {
	rec := Recorder{Store: mocks.NewStore(t)}
	err := rec.Complete(context.Background(), Run{Time: 1, Result: 0})
	require.EqualError(t, err, "empty job id")
}

func TestRecorder_CompleteRetry(t *testing.T) {
	run := Run{ID: "abc", Description: "test", Time: 100, Result: 1}
	expJob := store.Job{ID: "abc", Description: "test", LastRun: ptr(100.0), LastRunResult: ptr(1)}
	expEntry := store.HistoryEntry{ID: "abc", Description: "test", Time: 100, Result: 1}
	rptr := func() Repeater {
		return repeater.New(&strategy.FixedDelay{Repeats: 3, Delay: time.Millisecond})
	}

	t.Run("transient errors retried", func(t *testing.T) {
		st := mocks.NewStore(t)
		st.On("Exists", mock.Anything, "abc").Return(true, nil).Once()
		st.On("RecordRun", mock.Anything, expJob, expEntry).Return(fmt.Errorf("commit: %w", store.ErrWriteFailure)).Once()
		st.On("RecordRun", mock.Anything, expJob, expEntry).Return(fmt.Errorf("begin: %w", store.ErrLocked)).Once()
		st.On("RecordRun", mock.Anything, expJob, expEntry).Return(nil).Once()

		rec := Recorder{Store: st, Repeater: rptr()}
		require.NoError(t, rec.Complete(context.Background(), run))
		st.AssertNumberOfCalls(t, "RecordRun", 3)
	})

	t.Run("permanent error not retried", func(t *testing.T) {
		st := mocks.NewStore(t)
		st.On("Exists", mock.Anything, "abc").Return(true, nil).Once()
		st.On("RecordRun", mock.Anything, expJob, expEntry).Return(fmt.Errorf("job abc: %w", store.ErrNotFound)).Once()

		rec := Recorder{Store: st, Repeater: rptr()}
		err := rec.Complete(context.Background(), run)
		require.Error(t, err)
		assert.ErrorIs(t, err, store.ErrNotFound)
		st.AssertNumberOfCalls(t, "RecordRun", 1)
	})

	t.Run("attempts exhausted", func(t *testing.T) {
		st := mocks.NewStore(t)
		st.On("Exists", mock.Anything, "abc").Return(true, nil).Once()
		st.On("RecordRun", mock.Anything, expJob, expEntry).Return(fmt.Errorf("begin: %w", store.ErrLocked)).Times(3)

		rec := Recorder{Store: st, Repeater: rptr()}
		err := rec.Complete(context.Background(), run)
		require.Error(t, err)
		assert.ErrorIs(t, err, store.ErrLocked)
	})

	t.Run("no repeater", func(t *testing.T) {
		st := mocks.NewStore(t)
		st.On("Exists", mock.Anything, "abc").Return(true, nil).Once()
		st.On("RecordRun", mock.Anything, expJob, expEntry).Return(store.ErrWriteFailure).Once()

		rec := Recorder{Store: st}
		err := rec.Complete(context.Background(), run)
		require.Error(t, err)
		assert.ErrorIs(t, err, store.ErrWriteFailure)
	})
}

func TestRecorder_CompleteGetFailed(t *testing.T) {
	st := mocks.NewStore(t)
	st.On("Get", mock.Anything, "abc").Return(store.Job{}, errors.New("disk error")).Once()

	rec := Recorder{Store: st}
	err := rec.Complete(context.Background(), Run{ID: "abc", Time: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk error")
}

func prepStore(t *testing.T) *store.JobStore {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, st.Close()) })
	return st
}

func ptr[T any](v T) *T { return &v }
