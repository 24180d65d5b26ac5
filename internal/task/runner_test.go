package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type doneEvent struct {
	name string
	err  error
}

func TestRunner_RunsSubmittedTask(t *testing.T) {
	events := make(chan doneEvent, 1)
	r := NewRunner(1, 4, zap.NewNop(), WithOnDone(func(name string, err error, d time.Duration) {
		events <- doneEvent{name: name, err: err}
	}))
	defer func() { _ = r.Stop(context.Background()) }()

	var ran atomic.Bool
	ok := r.Submit("consolidate", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	require.True(t, ok)

	select {
	case ev := <-events:
		assert.Equal(t, "consolidate", ev.name)
		assert.NoError(t, ev.err)
	case <-time.After(time.Second):
		t.Fatal("task did not complete")
	}
	assert.True(t, ran.Load())
}

func TestRunner_RecoversPanic(t *testing.T) {
	events := make(chan doneEvent, 2)
	r := NewRunner(1, 4, zap.NewNop(), WithOnDone(func(name string, err error, d time.Duration) {
		events <- doneEvent{name: name, err: err}
	}))
	defer func() { _ = r.Stop(context.Background()) }()

	require.True(t, r.Submit("explode", func(ctx context.Context) error {
		panic("boom")
	}))

	select {
	case ev := <-events:
		require.Error(t, ev.err)
		assert.Contains(t, ev.err.Error(), "panicked")
	case <-time.After(time.Second):
		t.Fatal("panicked task was not reported")
	}

	// The worker survives the panic.
	require.True(t, r.Submit("after", func(ctx context.Context) error { return nil }))
	select {
	case ev := <-events:
		assert.Equal(t, "after", ev.name)
		assert.NoError(t, ev.err)
	case <-time.After(time.Second):
		t.Fatal("worker died after panic")
	}
}

func TestRunner_ReportsErrors(t *testing.T) {
	events := make(chan doneEvent, 1)
	r := NewRunner(1, 4, zap.NewNop(), WithOnDone(func(name string, err error, d time.Duration) {
		events <- doneEvent{name: name, err: err}
	}))
	defer func() { _ = r.Stop(context.Background()) }()

	sentinel := errors.New("task error")
	require.True(t, r.Submit("failing", func(ctx context.Context) error { return sentinel }))

	select {
	case ev := <-events:
		assert.ErrorIs(t, ev.err, sentinel)
	case <-time.After(time.Second):
		t.Fatal("failing task was not reported")
	}
}

func TestRunner_RejectsWhenFull(t *testing.T) {
	r := NewRunner(1, 1, zap.NewNop())

	gate := make(chan struct{})
	require.True(t, r.Submit("blocker", func(ctx context.Context) error {
		<-gate
		return nil
	}))

	// Wait for the worker to pick up the blocker so the queue is empty,
	// then fill it.
	require.Eventually(t, func() bool {
		return r.Submit("queued", func(ctx context.Context) error { return nil })
	}, time.Second, 5*time.Millisecond)

	assert.False(t, r.Submit("overflow", func(ctx context.Context) error { return nil }))

	close(gate)
	require.NoError(t, r.Stop(context.Background()))
}

func TestRunner_StopDrainsQueue(t *testing.T) {
	var count atomic.Int32
	r := NewRunner(2, 16, zap.NewNop())

	for i := 0; i < 10; i++ {
		require.True(t, r.Submit("count", func(ctx context.Context) error {
			count.Add(1)
			return nil
		}))
	}

	require.NoError(t, r.Stop(context.Background()))
	assert.Equal(t, int32(10), count.Load())
}

func TestRunner_SubmitAfterStop(t *testing.T) {
	r := NewRunner(1, 4, zap.NewNop())
	require.NoError(t, r.Stop(context.Background()))

	assert.False(t, r.Submit("late", func(ctx context.Context) error { return nil }))
	assert.NoError(t, r.Stop(context.Background()), "second stop is a no-op")
}

func TestRunner_StopCancelsSlowTasks(t *testing.T) {
	r := NewRunner(1, 4, zap.NewNop())

	started := make(chan struct{})
	require.True(t, r.Submit("slow", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := r.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
