package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"storefront-checkout/internal/metrics"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startMemoryQueue(t *testing.T, handler Handler, m *metrics.Metrics, buffer int) *MemoryQueue {
	t.Helper()

	q := NewMemoryQueue(handler, MemoryOptions{
		Workers:    2,
		BufferSize: buffer,
		Logger:     discardLogger(),
		Recorder:   m,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return q
}

func TestMemoryQueue_DeliversTask(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	received := make(chan Task, 1)
	q := startMemoryQueue(t, HandlerFunc(func(ctx context.Context, task Task) error {
		received <- task
		return nil
	}), m, 8)

	require.NoError(t, q.Enqueue(context.Background(), OrderConfirmation("order-1"), 3, time.Minute))

	select {
	case task := <-received:
		assert.Equal(t, KindOrderConfirmation, task.Kind)
		assert.Equal(t, "order-1", task.OrderID)
		assert.Len(t, task.ID, 26)
		assert.Equal(t, 3, task.MaxRetries)
		assert.Equal(t, 0, task.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("task was not delivered")
	}

	assert.Eventually(t, func() bool {
		return promtest.ToFloat64(m.Notifications.WithLabelValues("order_confirmation", "sent")) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryQueue_GivesUpAfterMaxRetries(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	var calls atomic.Int32
	q := startMemoryQueue(t, HandlerFunc(func(ctx context.Context, task Task) error {
		calls.Add(1)
		return errors.New("smtp unavailable")
	}), m, 8)

	require.NoError(t, q.Enqueue(context.Background(), PaymentFailed("payment-1"), 3, 5*time.Millisecond))

	require.Eventually(t, func() bool {
		return promtest.ToFloat64(m.Notifications.WithLabelValues("payment_failed", "dropped")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// first attempt plus three retries
	assert.EqualValues(t, 4, calls.Load())
	assert.Equal(t, 3.0, promtest.ToFloat64(m.Notifications.WithLabelValues("payment_failed", "retried")))

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 4, calls.Load())
}

func TestMemoryQueue_RetrySucceeds(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	var calls atomic.Int32
	q := startMemoryQueue(t, HandlerFunc(func(ctx context.Context, task Task) error {
		if calls.Add(1) == 1 {
			return errors.New("temporary")
		}
		return nil
	}), m, 8)

	require.NoError(t, q.Enqueue(context.Background(), OrderStatusUpdate("order-2", "shipped"), 3, 5*time.Millisecond))

	require.Eventually(t, func() bool {
		return promtest.ToFloat64(m.Notifications.WithLabelValues("order_status_update", "sent")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 2, calls.Load())
}

func TestMemoryQueue_RecoversHandlerPanic(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	q := startMemoryQueue(t, HandlerFunc(func(ctx context.Context, task Task) error {
		panic("boom")
	}), m, 8)

	require.NoError(t, q.Enqueue(context.Background(), OrderConfirmation("order-3"), 0, time.Millisecond))

	require.Eventually(t, func() bool {
		return promtest.ToFloat64(m.Notifications.WithLabelValues("order_confirmation", "dropped")) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMemoryQueue_FullAndClosed(t *testing.T) {
	q := NewMemoryQueue(HandlerFunc(func(ctx context.Context, task Task) error { return nil }), MemoryOptions{
		Workers:        1,
		BufferSize:     1,
		EnqueueTimeout: 20 * time.Millisecond,
		Logger:         discardLogger(),
	})

	require.NoError(t, q.Enqueue(context.Background(), OrderConfirmation("a"), 3, time.Minute))
	assert.ErrorIs(t, q.Enqueue(context.Background(), OrderConfirmation("b"), 3, time.Minute), ErrQueueFull)

	cancelled, cancelEnqueue := context.WithCancel(context.Background())
	cancelEnqueue()
	assert.ErrorIs(t, q.Enqueue(cancelled, OrderConfirmation("b"), 3, time.Minute), context.Canceled)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, q.Run(ctx))

	assert.ErrorIs(t, q.Enqueue(context.Background(), OrderConfirmation("c"), 3, time.Minute), ErrQueueClosed)
}

func TestMemoryQueue_EnqueueWaitsForRoom(t *testing.T) {
	release := make(chan struct{})
	var handled atomic.Int32
	q := NewMemoryQueue(HandlerFunc(func(ctx context.Context, task Task) error {
		<-release
		handled.Add(1)
		return nil
	}), MemoryOptions{
		Workers:        1,
		BufferSize:     1,
		EnqueueTimeout: 2 * time.Second,
		Logger:         discardLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// one task held by the worker, one filling the buffer
	require.NoError(t, q.Enqueue(context.Background(), OrderConfirmation("a"), 0, time.Minute))
	require.Eventually(t, func() bool { return len(q.tasks) == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), OrderConfirmation("b"), 0, time.Minute))

	result := make(chan error, 1)
	go func() {
		result <- q.Enqueue(context.Background(), OrderConfirmation("c"), 0, time.Minute)
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue did not return")
	}
	require.Eventually(t, func() bool { return handled.Load() == 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestNotifier_UsesRetryPolicy(t *testing.T) {
	received := make(chan Task, 1)
	q := startMemoryQueue(t, HandlerFunc(func(ctx context.Context, task Task) error {
		received <- task
		return nil
	}), nil, 8)

	n := NewNotifier(q, 3, time.Minute, discardLogger())
	n.Notify(context.Background(), PaymentConfirmation("payment-9"))

	select {
	case task := <-received:
		assert.Equal(t, 3, task.MaxRetries)
		assert.Equal(t, time.Minute, task.Backoff)
		assert.Equal(t, "payment-9", task.PaymentID)
	case <-time.After(2 * time.Second):
		t.Fatal("task was not delivered")
	}
}
