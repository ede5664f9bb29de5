package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/fleet-alert-relay/internal/config"
	"github.com/smartdevs17/fleet-alert-relay/internal/metrics"
)

func testConfig() config.QueueConfig {
	return config.QueueConfig{
		Workers:        4,
		BufferSize:     16,
		MaxAttempts:    3,
		RetryDelay:     time.Millisecond,
		MaxRetryDelay:  5 * time.Millisecond,
		DeadLetterSize: 2,
	}
}

func TestQueuePreservesOrderPerKey(t *testing.T) {
	q := New(testConfig(), metrics.NewPrometheusMetrics(prometheus.NewRegistry()))
	q.Start()
	defer q.Stop()

	var mu sync.Mutex
	seen := map[string][]int{}
	for i := 0; i < 50; i++ {
		for _, key := range []string{"result-a", "result-b", "result-c"} {
			i, key := i, key
			require.NoError(t, q.Submit(context.Background(), Task{
				Name: "append",
				Key:  key,
				Run: func(ctx context.Context) error {
					mu.Lock()
					seen[key] = append(seen[key], i)
					mu.Unlock()
					return nil
				},
			}))
		}
	}
	q.Wait()

	for key, order := range seen {
		require.Len(t, order, 50, key)
		for i := range order {
			assert.Equal(t, i, order[i], "key %s out of order", key)
		}
	}
	assert.Equal(t, int64(150), q.GetStats().Succeeded)
	assert.Equal(t, int64(0), q.GetStats().Pending)
}

func TestQueueRetriesThenSucceeds(t *testing.T) {
	q := New(testConfig(), nil)
	q.Start()
	defer q.Stop()

	var calls atomic.Int32
	require.NoError(t, q.Submit(context.Background(), Task{
		Name: "flaky",
		Key:  "k",
		Run: func(ctx context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		},
	}))
	q.Wait()

	assert.Equal(t, int32(3), calls.Load())
	assert.Empty(t, q.DeadLetters())
	assert.Equal(t, int64(2), q.GetStats().Retried)
}

func TestQueueDeadLettersAfterMaxAttempts(t *testing.T) {
	q := New(testConfig(), nil)
	q.Start()
	defer q.Stop()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Submit(context.Background(), Task{
			Name:        fmt.Sprintf("broken-%d", i),
			MaxAttempts: 2,
			Run:         func(ctx context.Context) error { return errors.New("downstream unavailable") },
		}))
	}
	q.Wait()

	dead := q.DeadLetters()
	assert.Len(t, dead, 2, "dead-letter list is bounded")
	for _, d := range dead {
		assert.Equal(t, 2, d.Attempts)
		assert.Equal(t, "downstream unavailable", d.Error)
	}
	assert.Equal(t, int64(3), q.GetStats().DeadLetters)
}

func TestQueueRunsDeadLetterHook(t *testing.T) {
	q := New(testConfig(), nil)
	q.Start()
	defer q.Stop()

	var hookErr error
	var hookCalls int
	require.NoError(t, q.Submit(context.Background(), Task{
		Name:        "evaluate",
		Key:         "alert:a1",
		MaxAttempts: 2,
		Run:         func(ctx context.Context) error { return errors.New("pipeline down") },
		OnDeadLetter: func(ctx context.Context, err error) {
			hookCalls++
			hookErr = err
		},
	}))
	q.Wait()

	assert.Equal(t, 1, hookCalls)
	require.Error(t, hookErr)
	assert.Contains(t, hookErr.Error(), "pipeline down")
}

func TestQueueRecoversPanics(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 1
	q := New(cfg, nil)
	q.Start()
	defer q.Stop()

	require.NoError(t, q.Submit(context.Background(), Task{
		Name: "panics",
		Run:  func(ctx context.Context) error { panic("boom") },
	}))
	q.Wait()

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "INTERNAL_ERROR: task panicked (boom)", dead[0].Error)
}

type ctxKey struct{}

func TestQueueDetachesCancellationButKeepsValues(t *testing.T) {
	q := New(testConfig(), nil)
	q.Start()
	defer q.Stop()

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "trace-1"))
	var got atomic.Value
	release := make(chan struct{})
	require.NoError(t, q.Submit(ctx, Task{
		Name: "detached",
		Run: func(ctx context.Context) error {
			<-release
			got.Store(ctx.Value(ctxKey{}))
			return ctx.Err()
		},
	}))
	cancel()
	close(release)
	q.Wait()

	assert.Equal(t, "trace-1", got.Load())
	assert.Empty(t, q.DeadLetters())
}

func TestQueueNestedSubmitsGrowPastBuffer(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1
	cfg.BufferSize = 2
	q := New(cfg, nil)
	q.Start()
	defer q.Stop()

	var ran atomic.Int32
	var order []int
	var mu sync.Mutex
	require.NoError(t, q.Submit(context.Background(), Task{
		Name: "fan-out",
		Key:  "alert-1",
		Run: func(ctx context.Context) error {
			for i := 0; i < 20; i++ {
				i := i
				if err := q.Submit(ctx, Task{
					Name: "follow-up",
					Key:  "alert-1",
					Run: func(ctx context.Context) error {
						mu.Lock()
						order = append(order, i)
						mu.Unlock()
						ran.Add(1)
						return nil
					},
				}); err != nil {
					return err
				}
			}
			return nil
		},
	}))

	done := make(chan struct{})
	go func() {
		q.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("queue did not drain nested submissions")
	}

	assert.Equal(t, int32(20), ran.Load())
	for i := range order {
		assert.Equal(t, i, order[i])
	}
	assert.Empty(t, q.DeadLetters())
}

func TestQueueOutsideSubmitWaitsForSpace(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1
	cfg.BufferSize = 1
	q := New(cfg, nil)
	q.Start()
	defer q.Stop()

	started := make(chan struct{})
	release := make(chan struct{})
	noop := func(ctx context.Context) error { return nil }
	require.NoError(t, q.Submit(context.Background(), Task{
		Name: "slow",
		Run: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
	}))
	<-started
	require.NoError(t, q.Submit(context.Background(), Task{Name: "buffered", Run: noop}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Submit(ctx, Task{Name: "overflow", Run: noop})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	submitted := make(chan error, 1)
	go func() {
		submitted <- q.Submit(context.Background(), Task{Name: "waiting", Run: noop})
	}()
	close(release)
	select {
	case err := <-submitted:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("submit did not resume after space freed")
	}
	q.Wait()
	assert.Equal(t, int64(3), q.GetStats().Succeeded)
}

func TestQueueRejectsAfterStop(t *testing.T) {
	q := New(testConfig(), nil)
	q.Start()
	q.Stop()

	err := q.Submit(context.Background(), Task{Name: "late", Run: func(ctx context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestCalculateRetryDelay(t *testing.T) {
	q := New(config.QueueConfig{RetryDelay: time.Second, MaxRetryDelay: 5 * time.Second}, nil)
	assert.Equal(t, time.Second, q.calculateRetryDelay(2))
	assert.Equal(t, 2*time.Second, q.calculateRetryDelay(3))
	assert.Equal(t, 4*time.Second, q.calculateRetryDelay(4))
	assert.Equal(t, 5*time.Second, q.calculateRetryDelay(5))
}
