package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"storefront-checkout/internal/config"
	"storefront-checkout/internal/model"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type EventType string

const (
	EventTypeOrderCreated       EventType = "order.created"
	EventTypeOrderStatusChanged EventType = "order.status_changed"
	EventTypePaymentCompleted   EventType = "payment.completed"
	EventTypePaymentFailed      EventType = "payment.failed"

	// a gateway charge landed on a payment that was already failed or cancelled
	EventTypePaymentReconcileRequired EventType = "payment.reconcile_required"
)

type CheckoutEvent struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	OrderID   string          `json:"order_id"`
	UserID    uint            `json:"user_id"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Publisher announces committed checkout changes to other services.
// Publishing is best effort and never part of a database transaction.
type Publisher interface {
	PublishOrderCreated(ctx context.Context, order *model.Order) error
	PublishOrderStatusChanged(ctx context.Context, order *model.Order, previous model.OrderStatus) error
	PublishPaymentCompleted(ctx context.Context, payment *model.Payment, userID uint) error
	PublishPaymentFailed(ctx context.Context, payment *model.Payment, userID uint) error
	PublishPaymentReconcileRequired(ctx context.Context, payment *model.Payment, userID uint) error
	Close() error
}

var _ Publisher = (*KafkaPublisher)(nil)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	logger *slog.Logger
}

func NewKafkaPublisher(cfg config.Kafka, logger *slog.Logger) *KafkaPublisher {
	logger = logger.With(slog.String("component", "kafka-publisher"))

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("failed to deliver events",
					slog.Int("count", len(messages)),
					slog.String("error", err.Error()))
			}
		},
	}

	return newKafkaPublisher(writer, logger)
}

func newKafkaPublisher(writer messageWriter, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: writer,
		logger: logger,
	}
}

func (p *KafkaPublisher) PublishOrderCreated(ctx context.Context, order *model.Order) error {
	return p.publish(ctx, EventTypeOrderCreated, order.OrderID, order.UserID, order)
}

func (p *KafkaPublisher) PublishOrderStatusChanged(ctx context.Context, order *model.Order, previous model.OrderStatus) error {
	payload := struct {
		Order          *model.Order      `json:"order"`
		PreviousStatus model.OrderStatus `json:"previous_status"`
		NewStatus      model.OrderStatus `json:"new_status"`
	}{
		Order:          order,
		PreviousStatus: previous,
		NewStatus:      order.Status,
	}

	return p.publish(ctx, EventTypeOrderStatusChanged, order.OrderID, order.UserID, payload)
}

func (p *KafkaPublisher) PublishPaymentCompleted(ctx context.Context, payment *model.Payment, userID uint) error {
	return p.publish(ctx, EventTypePaymentCompleted, payment.OrderID, userID, payment)
}

func (p *KafkaPublisher) PublishPaymentFailed(ctx context.Context, payment *model.Payment, userID uint) error {
	return p.publish(ctx, EventTypePaymentFailed, payment.OrderID, userID, payment)
}

func (p *KafkaPublisher) PublishPaymentReconcileRequired(ctx context.Context, payment *model.Payment, userID uint) error {
	return p.publish(ctx, EventTypePaymentReconcileRequired, payment.OrderID, userID, payment)
}

func (p *KafkaPublisher) publish(ctx context.Context, eventType EventType, orderID string, userID uint, payload any) error {
	event, err := NewEvent(eventType, orderID, userID, payload)
	if err != nil {
		return err
	}

	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: eventData,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish event",
			slog.String("event_id", event.ID),
			slog.String("event_type", string(event.Type)),
			slog.String("order_id", event.OrderID),
			slog.String("error", err.Error()))
		return err
	}

	p.logger.Debug("event published",
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.Type)),
		slog.String("order_id", event.OrderID))

	return nil
}

func (p *KafkaPublisher) Close() error {
	p.logger.Info("closing kafka publisher")
	return p.writer.Close()
}

func NewEvent(eventType EventType, orderID string, userID uint, payload any) (*CheckoutEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}

	return &CheckoutEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		OrderID:   orderID,
		UserID:    userID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NoopPublisher is used when no brokers are configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishOrderCreated(context.Context, *model.Order) error { return nil }
func (NoopPublisher) PublishOrderStatusChanged(context.Context, *model.Order, model.OrderStatus) error {
	return nil
}
func (NoopPublisher) PublishPaymentCompleted(context.Context, *model.Payment, uint) error { return nil }
func (NoopPublisher) PublishPaymentFailed(context.Context, *model.Payment, uint) error { return nil }
func (NoopPublisher) PublishPaymentReconcileRequired(context.Context, *model.Payment, uint) error {
	return nil
}
func (NoopPublisher) Close() error { return nil }

// RecordingPublisher keeps published events in memory, for tests.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []*CheckoutEvent
}

func (r *RecordingPublisher) PublishOrderCreated(ctx context.Context, order *model.Order) error {
	return r.record(EventTypeOrderCreated, order.OrderID, order.UserID, order)
}

func (r *RecordingPublisher) PublishOrderStatusChanged(ctx context.Context, order *model.Order, previous model.OrderStatus) error {
	return r.record(EventTypeOrderStatusChanged, order.OrderID, order.UserID, order)
}

func (r *RecordingPublisher) PublishPaymentCompleted(ctx context.Context, payment *model.Payment, userID uint) error {
	return r.record(EventTypePaymentCompleted, payment.OrderID, userID, payment)
}

func (r *RecordingPublisher) PublishPaymentFailed(ctx context.Context, payment *model.Payment, userID uint) error {
	return r.record(EventTypePaymentFailed, payment.OrderID, userID, payment)
}

func (r *RecordingPublisher) PublishPaymentReconcileRequired(ctx context.Context, payment *model.Payment, userID uint) error {
	return r.record(EventTypePaymentReconcileRequired, payment.OrderID, userID, payment)
}

func (r *RecordingPublisher) Close() error { return nil }

func (r *RecordingPublisher) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	types := make([]EventType, 0, len(r.events))
	for _, event := range r.events {
		types = append(types, event.Type)
	}
	return types
}

func (r *RecordingPublisher) record(eventType EventType, orderID string, userID uint, payload any) error {
	event, err := NewEvent(eventType, orderID, userID, payload)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}
