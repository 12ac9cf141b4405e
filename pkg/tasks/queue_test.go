package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRunsTasks(t *testing.T) {
	q := New(4, 16)
	defer q.Close()

	var n atomic.Int32
	for range 10 {
		require.True(t, q.Submit("count", func(context.Context) error {
			n.Add(1)
			return nil
		}))
	}
	q.Wait()
	assert.Equal(t, int32(10), n.Load())
}

func TestFailuresReachErrorChannel(t *testing.T) {
	q := New(1, 4)
	defer q.Close()

	boom := errors.New("disk full")
	q.Submit("cache_store", func(context.Context) error { return boom })
	q.Submit("panicky", func(context.Context) error { panic("oops") })
	q.Wait()

	var got []Failure
	for len(got) < 2 {
		select {
		case f := <-q.Errors():
			got = append(got, f)
		case <-time.After(time.Second):
			t.Fatal("expected two failures")
		}
	}
	assert.Equal(t, "cache_store", got[0].Name)
	assert.ErrorIs(t, got[0].Err, boom)
	assert.Contains(t, got[1].Error(), "panic: oops")
}

func TestSubmitDoesNotBlockWhenFull(t *testing.T) {
	q := New(1, 1)
	release := make(chan struct{})
	started := make(chan struct{})
	q.Submit("block", func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started
	require.True(t, q.Submit("buffered", func(context.Context) error { return nil }))

	done := make(chan bool)
	go func() { done <- q.Submit("dropped", func(context.Context) error { return nil }) }()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full queue")
	}

	f := <-q.Errors()
	assert.ErrorIs(t, f.Err, ErrQueueFull)
	close(release)
	q.Close()
}

func TestTaskTimeout(t *testing.T) {
	q := New(1, 1, WithTimeout(10*time.Millisecond))
	defer q.Close()
	q.Submit("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	q.Wait()
	f := <-q.Errors()
	assert.ErrorIs(t, f.Err, context.DeadlineExceeded)
}

func TestCloseDrainsAndRejects(t *testing.T) {
	q := New(2, 8)
	var n atomic.Int32
	for range 5 {
		q.Submit("work", func(context.Context) error {
			n.Add(1)
			return nil
		})
	}
	q.Close()
	assert.Equal(t, int32(5), n.Load())
	assert.False(t, q.Submit("late", func(context.Context) error { return nil }))
	q.Close()

	_, open := <-q.Errors()
	assert.False(t, open)
}
