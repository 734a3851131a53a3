package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRunsInOrder(t *testing.T) {
	q := NewQueue(0)
	defer q.Close()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, q.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	require.NoError(t, q.Do(context.Background(), func() {}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestQueueSerializesConcurrentCallers(t *testing.T) {
	q := NewQueue(0)
	defer q.Close()

	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Do(context.Background(), func() {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxActive)
}

func TestQueueDoContextCancelled(t *testing.T) {
	q := NewQueue(0)
	defer q.Close()

	release := make(chan struct{})
	require.NoError(t, q.Post(func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := make(chan struct{}, 1)
	err := q.Do(ctx, func() { ran <- struct{}{} })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)

	require.NoError(t, q.Do(context.Background(), func() {}))
	select {
	case <-ran:
		t.Fatal("abandoned task ran after its caller gave up")
	default:
	}
}

func TestQueueDoWaitsForStartedTask(t *testing.T) {
	q := NewQueue(0)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	finished := false
	go func() {
		<-started
		cancel()
	}()
	err := q.Do(ctx, func() {
		close(started)
		time.Sleep(20 * time.Millisecond)
		finished = true
	})
	assert.NoError(t, err)
	assert.True(t, finished)
}

func TestQueueClosed(t *testing.T) {
	q := NewQueue(0)
	ran := make(chan struct{})
	require.NoError(t, q.Post(func() { close(ran) }))
	q.Close()

	select {
	case <-ran:
	default:
		t.Fatal("backlog not drained on close")
	}

	assert.ErrorIs(t, q.Post(func() {}), ErrClosed)
	assert.ErrorIs(t, q.Do(context.Background(), func() {}), ErrClosed)
	q.Close()
}
