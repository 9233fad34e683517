package service

import (
	"context"
	"log/slog"
	"storefront-checkout/internal/cache"
	"storefront-checkout/internal/events"
	"storefront-checkout/internal/metrics"
	"storefront-checkout/internal/notify"
)

// Hooks are the side effects that run after a checkout transaction commits.
// None of them can fail the operation that triggered them.
type Hooks struct {
	Notifier    notify.Notifier
	Publisher   events.Publisher
	Invalidator cache.Invalidator
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

func (h Hooks) withDefaults() Hooks {
	if h.Notifier == nil {
		h.Notifier = notify.NoopNotifier{}
	}
	if h.Publisher == nil {
		h.Publisher = events.NoopPublisher{}
	}
	if h.Invalidator == nil {
		h.Invalidator = cache.NoopInvalidator{}
	}
	if h.Logger == nil {
		h.Logger = slog.Default()
	}
	return h
}

func (h Hooks) invalidateProducts(ctx context.Context) {
	err := h.Invalidator.InvalidateProducts(ctx)
	h.Metrics.CacheInvalidated(err)
	if err != nil {
		h.Logger.Warn("product cache invalidation failed", slog.String("error", err.Error()))
	}
}

func (h Hooks) published(err error, eventType events.EventType, orderID string) {
	if err != nil {
		h.Logger.Warn("event not published",
			slog.String("event_type", string(eventType)),
			slog.String("order_id", orderID),
			slog.String("error", err.Error()))
	}
}
