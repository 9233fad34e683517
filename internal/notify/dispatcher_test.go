package notify

import (
	"context"
	"errors"
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/repository"
	"storefront-checkout/internal/testutil"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingMailer struct {
	sent []*Email
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, email *Email) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, email)
	return nil
}

type dispatcherFixture struct {
	db         *gorm.DB
	mailer     *recordingMailer
	dispatcher *Dispatcher
	order      *model.Order
	payment    *model.Payment
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()

	db := testutil.NewDB(t)
	user := testutil.CreateUser(t, db, "selam", false)
	address := testutil.CreateAddress(t, db, user.ID)

	order := &model.Order{
		OrderID:           uuid.NewString(),
		UserID:            user.ID,
		Status:            model.OrderStatusConfirmed,
		Subtotal:          testutil.Money("900.00"),
		DiscountAmount:    testutil.Money("90.00"),
		Total:             testutil.Money("810.00"),
		ShippingAddressID: address.ID,
		BillingAddressID:  address.ID,
	}
	require.NoError(t, db.Create(order).Error)

	paidAt := time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)
	payment := &model.Payment{
		PaymentID:     uuid.NewString(),
		OrderID:       order.OrderID,
		TransactionID: "TXN-4F2A9C1B7E3D",
		Amount:        testutil.Money("810.00"),
		Currency:      "ETB",
		Status:        model.PaymentStatusCompleted,
		PaymentMethod: "telebirr",
		PaymentDate:   &paidAt,
	}
	require.NoError(t, db.Create(payment).Error)

	mailer := &recordingMailer{}
	dispatcher := NewDispatcher(
		repository.NewOrderRepository(db),
		repository.NewPaymentRepository(db),
		repository.NewUserRepository(db),
		repository.NewAddressRepository(db),
		mailer,
		"noreply@storefront.test",
		"ETB",
		discardLogger(),
	)

	return &dispatcherFixture{db: db, mailer: mailer, dispatcher: dispatcher, order: order, payment: payment}
}

func TestDispatcher_OrderConfirmation(t *testing.T) {
	f := newDispatcherFixture(t)

	require.NoError(t, f.dispatcher.Handle(context.Background(), OrderConfirmation(f.order.OrderID)))

	require.Len(t, f.mailer.sent, 1)
	email := f.mailer.sent[0]
	assert.Equal(t, "noreply@storefront.test", email.From)
	assert.Equal(t, "selam@example.com", email.To)
	assert.Equal(t, "Order Confirmation - Order #"+f.order.OrderID, email.Subject)
	assert.Contains(t, email.Body, "Hello Test selam,")
	assert.Contains(t, email.Body, "- Discount: 90.00 ETB")
	assert.Contains(t, email.Body, "- Total: 810.00 ETB")
	assert.Contains(t, email.Body, "Bole Road 12")
	assert.Contains(t, email.Body, "Best regards,\nStorefront Team")
}

func TestDispatcher_OrderStatusUpdate(t *testing.T) {
	f := newDispatcherFixture(t)

	task := OrderStatusUpdate(f.order.OrderID, string(model.OrderStatusShipped))
	require.NoError(t, f.dispatcher.Handle(context.Background(), task))

	require.Len(t, f.mailer.sent, 1)
	email := f.mailer.sent[0]
	assert.Equal(t, "Order Status Update - Order #"+f.order.OrderID, email.Subject)
	assert.Contains(t, email.Body, "Your order has been shipped!")
	assert.Contains(t, email.Body, "- New Status: Shipped")
	assert.NotContains(t, email.Body, "Shipping Address:")
}

func TestDispatcher_PaymentConfirmation(t *testing.T) {
	f := newDispatcherFixture(t)

	require.NoError(t, f.dispatcher.Handle(context.Background(), PaymentConfirmation(f.payment.PaymentID)))

	require.Len(t, f.mailer.sent, 1)
	email := f.mailer.sent[0]
	assert.Equal(t, "Payment Confirmation - Order #"+f.order.OrderID, email.Subject)
	assert.Contains(t, email.Body, "- Transaction ID: TXN-4F2A9C1B7E3D")
	assert.Contains(t, email.Body, "- Amount Paid: 810.00 ETB")
	assert.Contains(t, email.Body, "- Payment Method: telebirr")
	assert.Contains(t, email.Body, "- Payment Date: March 01, 2026 at 02:30 PM")
	assert.Contains(t, email.Body, "Shipping Address:")
}

func TestDispatcher_PaymentFailed(t *testing.T) {
	f := newDispatcherFixture(t)
	require.NoError(t, f.db.Model(f.payment).Updates(map[string]any{
		"status":         model.PaymentStatusFailed,
		"payment_method": "",
	}).Error)

	require.NoError(t, f.dispatcher.Handle(context.Background(), PaymentFailed(f.payment.PaymentID)))

	require.Len(t, f.mailer.sent, 1)
	email := f.mailer.sent[0]
	assert.Equal(t, "Payment Failed - Order #"+f.order.OrderID, email.Subject)
	assert.Contains(t, email.Body, "- Status: Failed")
	assert.Contains(t, email.Body, "Please try again")
}

func TestDispatcher_DiscardsMissingRecords(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.dispatcher.Handle(ctx, OrderConfirmation("missing-order")))
	assert.NoError(t, f.dispatcher.Handle(ctx, PaymentConfirmation("missing-payment")))
	assert.NoError(t, f.dispatcher.Handle(ctx, Task{Kind: "newsletter"}))
	assert.Empty(t, f.mailer.sent)
}

func TestDispatcher_MissingAddressStillSends(t *testing.T) {
	f := newDispatcherFixture(t)
	require.NoError(t, f.db.Delete(&model.Address{}, f.order.ShippingAddressID).Error)

	require.NoError(t, f.dispatcher.Handle(context.Background(), OrderConfirmation(f.order.OrderID)))

	require.Len(t, f.mailer.sent, 1)
	assert.NotContains(t, f.mailer.sent[0].Body, "Shipping Address:")
}

func TestDispatcher_MailerErrorIsReturned(t *testing.T) {
	f := newDispatcherFixture(t)
	f.mailer.err = errors.New("smtp relay unavailable")

	err := f.dispatcher.Handle(context.Background(), OrderConfirmation(f.order.OrderID))
	assert.ErrorContains(t, err, "smtp relay unavailable")
}
