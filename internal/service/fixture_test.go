package service

import (
	"context"
	"io"
	"log/slog"
	"storefront-checkout/internal/client"
	"storefront-checkout/internal/config"
	"storefront-checkout/internal/events"
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/notify"
	"storefront-checkout/internal/repository"
	"storefront-checkout/internal/testutil"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingNotifier struct {
	mu    sync.Mutex
	tasks []notify.Task
}

func (n *recordingNotifier) Notify(ctx context.Context, task notify.Task) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tasks = append(n.tasks, task)
}

func (n *recordingNotifier) Kinds() []notify.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()

	kinds := make([]notify.Kind, len(n.tasks))
	for i, task := range n.tasks {
		kinds[i] = task.Kind
	}
	return kinds
}

type countingInvalidator struct {
	calls atomic.Int32
}

func (c *countingInvalidator) InvalidateProducts(context.Context) error {
	c.calls.Add(1)
	return nil
}

type checkoutFixture struct {
	db          *gorm.DB
	chapa       *testutil.FakeChapa
	notifier    *recordingNotifier
	publisher   *events.RecordingPublisher
	invalidator *countingInvalidator

	orders   OrderService
	payments PaymentService
	coupons  CouponService

	user    *model.User
	address *model.Address
}

type fixtureOption func(*config.Chapa)

func newCheckoutFixture(t *testing.T, policy StockPolicy, opts ...fixtureOption) *checkoutFixture {
	t.Helper()

	db := testutil.NewDB(t)
	chapa := testutil.NewFakeChapa(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	chapaCfg := chapa.Config()
	for _, opt := range opts {
		opt(&chapaCfg)
	}

	f := &checkoutFixture{
		db:          db,
		chapa:       chapa,
		notifier:    &recordingNotifier{},
		publisher:   &events.RecordingPublisher{},
		invalidator: &countingInvalidator{},
	}

	hooks := Hooks{
		Notifier:    f.notifier,
		Publisher:   f.publisher,
		Invalidator: f.invalidator,
		Logger:      logger,
	}

	productRepo := repository.NewProductRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	couponRepo := repository.NewCouponRepository(db)

	f.orders = NewOrderService(db, policy,
		productRepo,
		orderRepo,
		repository.NewCartRepository(db),
		couponRepo,
		repository.NewAddressRepository(db),
		paymentRepo,
		hooks,
	)
	f.payments = NewPaymentService(db,
		client.NewChapaClient(&chapaCfg, logger),
		chapaCfg,
		productRepo,
		orderRepo,
		paymentRepo,
		repository.NewUserRepository(db),
		hooks,
	)
	f.coupons = NewCouponService(couponRepo)

	f.user = testutil.CreateUser(t, db, "hana", false)
	f.address = testutil.CreateAddress(t, db, f.user.ID)

	return f
}

func (f *checkoutFixture) loadOrder(t *testing.T, orderID string) *model.Order {
	t.Helper()

	var order model.Order
	require.NoError(t, f.db.First(&order, "order_id = ?", orderID).Error)
	return &order
}

func (f *checkoutFixture) loadPayment(t *testing.T, paymentID string) *model.Payment {
	t.Helper()

	var payment model.Payment
	require.NoError(t, f.db.First(&payment, "payment_id = ?", paymentID).Error)
	return &payment
}

func (f *checkoutFixture) count(t *testing.T, table any) int64 {
	t.Helper()

	var n int64
	require.NoError(t, f.db.Model(table).Count(&n).Error)
	return n
}
