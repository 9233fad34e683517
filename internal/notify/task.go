// Package notify delivers customer emails about orders and payments off the
// request path. Delivery is at-least-once with a fixed retry budget.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

type Kind string

const (
	KindOrderConfirmation   Kind = "order_confirmation"
	KindOrderStatusUpdate   Kind = "order_status_update"
	KindPaymentConfirmation Kind = "payment_confirmation"
	KindPaymentFailed       Kind = "payment_failed"
)

var (
	ErrQueueFull   = errors.New("notification queue is full")
	ErrQueueClosed = errors.New("notification queue is closed")
)

type Task struct {
	ID         string        `json:"id"`
	Kind       Kind          `json:"kind"`
	OrderID    string        `json:"order_id,omitempty"`
	PaymentID  string        `json:"payment_id,omitempty"`
	Status     string        `json:"status,omitempty"`
	Attempt    int           `json:"attempt"` // retries used so far
	MaxRetries int           `json:"max_retries"`
	Backoff    time.Duration `json:"backoff"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
}

func OrderConfirmation(orderID string) Task {
	return Task{Kind: KindOrderConfirmation, OrderID: orderID}
}

func OrderStatusUpdate(orderID, status string) Task {
	return Task{Kind: KindOrderStatusUpdate, OrderID: orderID, Status: status}
}

func PaymentConfirmation(paymentID string) Task {
	return Task{Kind: KindPaymentConfirmation, PaymentID: paymentID}
}

func PaymentFailed(paymentID string) Task {
	return Task{Kind: KindPaymentFailed, PaymentID: paymentID}
}

type Handler interface {
	Handle(ctx context.Context, task Task) error
}

type HandlerFunc func(ctx context.Context, task Task) error

func (f HandlerFunc) Handle(ctx context.Context, task Task) error {
	return f(ctx, task)
}

// Recorder counts delivery attempts by result: sent, retried, dropped.
type Recorder interface {
	ObserveNotification(kind, result string)
}

type Queue interface {
	Enqueue(ctx context.Context, task Task, maxRetries int, backoff time.Duration) error
	// Run processes tasks until ctx is cancelled.
	Run(ctx context.Context) error
}

func prepare(task *Task, maxRetries int, backoff time.Duration) {
	if task.ID == "" {
		task.ID = ulid.Make().String()
	}
	task.MaxRetries = maxRetries
	task.Backoff = backoff
	task.EnqueuedAt = time.Now().UTC()
}

// attempt runs the handler once and reports whether the task should be
// scheduled again.
func attempt(ctx context.Context, handler Handler, task Task, logger *slog.Logger, recorder Recorder) bool {
	err := safeHandle(ctx, handler, task)
	if err == nil {
		record(recorder, task.Kind, "sent")
		return false
	}

	if task.Attempt < task.MaxRetries {
		logger.Warn("notification failed, will retry",
			slog.String("task_id", task.ID),
			slog.String("kind", string(task.Kind)),
			slog.Int("attempt", task.Attempt+1),
			slog.Duration("backoff", task.Backoff),
			slog.String("error", err.Error()))
		record(recorder, task.Kind, "retried")
		return true
	}

	logger.Error("notification dropped after retries",
		slog.String("task_id", task.ID),
		slog.String("kind", string(task.Kind)),
		slog.String("order_id", task.OrderID),
		slog.String("payment_id", task.PaymentID),
		slog.Int("retries", task.Attempt),
		slog.String("error", err.Error()))
	record(recorder, task.Kind, "dropped")
	return false
}

func safeHandle(ctx context.Context, handler Handler, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("notification handler panicked")
		}
	}()
	return handler.Handle(ctx, task)
}

func record(recorder Recorder, kind Kind, result string) {
	if recorder != nil {
		recorder.ObserveNotification(string(kind), result)
	}
}

// Notifier is the enqueue-and-forget surface used by the checkout services.
type Notifier interface {
	Notify(ctx context.Context, task Task)
}

type queueNotifier struct {
	queue      Queue
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

func NewNotifier(queue Queue, maxRetries int, backoff time.Duration, logger *slog.Logger) Notifier {
	return &queueNotifier{
		queue:      queue,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
	}
}

func (n *queueNotifier) Notify(ctx context.Context, task Task) {
	if err := n.queue.Enqueue(ctx, task, n.maxRetries, n.backoff); err != nil {
		n.logger.Error("failed to enqueue notification",
			slog.String("kind", string(task.Kind)),
			slog.String("order_id", task.OrderID),
			slog.String("payment_id", task.PaymentID),
			slog.String("error", err.Error()))
	}
}

type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, Task) {}
