package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/repository"

	"gorm.io/gorm"
)

var errUnknownKind = errors.New("unknown notification kind")

// Dispatcher turns a task into an email. Tasks whose order, payment or
// customer no longer exists complete without being retried.
type Dispatcher struct {
	orders    repository.OrderRepository
	payments  repository.PaymentRepository
	users     repository.UserRepository
	addresses repository.AddressRepository
	mailer    Mailer
	from      string
	currency  string
	logger    *slog.Logger
}

func NewDispatcher(
	orders repository.OrderRepository,
	payments repository.PaymentRepository,
	users repository.UserRepository,
	addresses repository.AddressRepository,
	mailer Mailer,
	from string,
	currency string,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		orders:    orders,
		payments:  payments,
		users:     users,
		addresses: addresses,
		mailer:    mailer,
		from:      from,
		currency:  currency,
		logger:    logger.With(slog.String("component", "notify-dispatcher")),
	}
}

func (d *Dispatcher) Handle(ctx context.Context, task Task) error {
	data, err := d.load(ctx, task)
	if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, errUnknownKind) {
		d.logger.Warn("discarding notification",
			slog.String("task_id", task.ID),
			slog.String("kind", string(task.Kind)),
			slog.String("order_id", task.OrderID),
			slog.String("payment_id", task.PaymentID),
			slog.String("reason", err.Error()))
		return nil
	}
	if err != nil {
		return err
	}

	subject, body, err := render(task.Kind, data.emailData)
	if err != nil {
		return err
	}

	return d.mailer.Send(ctx, &Email{
		From:    d.from,
		To:      data.email,
		Subject: subject,
		Body:    body,
	})
}

type loaded struct {
	*emailData
	email string
}

func (d *Dispatcher) load(ctx context.Context, task Task) (*loaded, error) {
	data := &emailData{Currency: d.currency}

	switch task.Kind {
	case KindOrderConfirmation, KindOrderStatusUpdate:
		order, err := d.orders.FindByOrderID(ctx, task.OrderID)
		if err != nil {
			return nil, err
		}
		data.Order = order
		data.Status = order.Status
		if task.Status != "" {
			data.Status = model.OrderStatus(task.Status)
		}

	case KindPaymentConfirmation, KindPaymentFailed:
		payment, err := d.payments.FindByPaymentID(ctx, task.PaymentID)
		if err != nil {
			return nil, err
		}
		order, err := d.orders.FindByOrderID(ctx, payment.OrderID)
		if err != nil {
			return nil, err
		}
		data.Payment = payment
		data.Order = order
		data.Status = order.Status

	default:
		return nil, fmt.Errorf("%w %q", errUnknownKind, task.Kind)
	}

	user, err := d.users.FindByID(ctx, data.Order.UserID)
	if err != nil {
		return nil, err
	}
	data.Name = user.DisplayName()

	if task.Kind == KindOrderConfirmation || task.Kind == KindPaymentConfirmation {
		address, err := d.addresses.FindByID(ctx, data.Order.ShippingAddressID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("load shipping address: %w", err)
		}
		data.Address = address
	}

	return &loaded{emailData: data, email: user.Email}, nil
}
