package service

import (
	"context"
	"storefront-checkout/internal/apperr"
	"storefront-checkout/internal/dto"
	"storefront-checkout/internal/events"
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/notify"
	"storefront-checkout/internal/testutil"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *checkoutFixture) shipTo() *dto.CreateOrderRequest {
	return &dto.CreateOrderRequest{ShippingAddressID: f.address.ID, UseShippingAsBilling: true}
}

func TestCreateOrder_NoCoupon(t *testing.T) {
	f := newCheckoutFixture(t, StockPolicyReserve)
	product := testutil.CreateProduct(t, f.db, "Sidamo Coffee", "100", 5)
	testutil.AddToCart(t, f.db, f.user.ID, product.ID, 2)

	order, err := f.orders.CreateOrder(context.Background(), f.user.ID, f.shipTo())
	require.NoError(t, err)

	assert.Equal(t, model.OrderStatusPending, order.Status)
	testutil.AssertMoney(t, "200", order.Subtotal)
	testutil.AssertMoney(t, "0", order.DiscountAmount)
	testutil.AssertMoney(t, "200", order.Total)
	assert.Equal(t, f.address.ID, order.ShippingAddressID)
	assert.Equal(t, f.address.ID, order.BillingAddressID)
	assert.True(t, order.StockDeducted)

	require.Len(t, order.Items, 1)
	item := order.Items[0]
	assert.Equal(t, "Sidamo Coffee", item.ProductTitle)
	testutil.AssertMoney(t, "100", item.ProductPrice)
	assert.Equal(t, 2, item.Quantity)
	testutil.AssertMoney(t, "200", item.Subtotal)

	assert.Equal(t, 3, testutil.ProductStock(t, f.db, product.ID))
	assert.Zero(t, testutil.CartItemCount(t, f.db, f.user.ID))

	assert.Equal(t, []notify.Kind{notify.KindOrderConfirmation}, f.notifier.Kinds())
	assert.Equal(t, []events.EventType{events.EventTypeOrderCreated}, f.publisher.Types())
	assert.EqualValues(t, 1, f.invalidator.calls.Load())
}

func TestCreateOrder_PercentageCoupon(t *testing.T) {
	f := newCheckoutFixture(t, StockPolicyReserve)
	coupon := testutil.CreateCoupon(t, f.db, testutil.ActiveCoupon("SUMMER20", model.DiscountTypePercentage, "20", "100"))
	product := testutil.CreateProduct(t, f.db, "Sidamo Coffee", "100", 5)
	testutil.AddToCart(t, f.db, f.user.ID, product.ID, 2)

	req := f.shipTo()
	req.CouponCode = "summer20"
	order, err := f.orders.CreateOrder(context.Background(), f.user.ID, req)
	require.NoError(t, err)

	testutil.AssertMoney(t, "200", order.Subtotal)
	testutil.AssertMoney(t, "40", order.DiscountAmount)
	testutil.AssertMoney(t, "160", order.Total)
	require.NotNil(t, order.CouponID)
	assert.Equal(t, coupon.ID, *order.CouponID)

	var stored model.Coupon
	require.NoError(t, f.db.First(&stored, coupon.ID).Error)
	assert.Equal(t, 1, stored.UsedCount)
}

func TestCreateOrder_CouponBelowMinimum(t *testing.T) {
	f := newCheckoutFixture(t, StockPolicyReserve)
	testutil.CreateCoupon(t, f.db, testutil.ActiveCoupon("SUMMER20", model.DiscountTypePercentage, "20", "100"))
	product := testutil.CreateProduct(t, f.db, "Clay Cup", "50", 5)
	testutil.AddToCart(t, f.db, f.user.ID, product.ID, 1)

	req := f.shipTo()
	req.CouponCode = "SUMMER20"
	_, err := f.orders.CreateOrder(context.Background(), f.user.ID, req)

	require.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)
	assert.Contains(t, err.Error(), "Minimum purchase amount is 100.00")
	assert.Zero(t, f.count(t, &model.Order{}))
	assert.Equal(t, 5, testutil.ProductStock(t, f.db, product.ID))
	assert.EqualValues(t, 1, testutil.CartItemCount(t, f.db, f.user.ID))
}

func TestCreateOrder_InvalidCouponReportedBeforeStock(t *testing.T) {
	f := newCheckoutFixture(t, StockPolicyReserve)
	testutil.CreateCoupon(t, f.db, testutil.ActiveCoupon("SUMMER20", model.DiscountTypePercentage, "20", "1000"))
	scarce := testutil.CreateProduct(t, f.db, "Mesob Basket", "300", 1)
	testutil.AddToCart(t, f.db, f.user.ID, scarce.ID, 2)

	req := f.shipTo()
	req.CouponCode = "SUMMER20"
	_, err := f.orders.CreateOrder(context.Background(), f.user.ID, req)

	require.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)
	assert.Contains(t, err.Error(), "Minimum purchase amount is 1000.00")
	assert.Equal(t, 1, testutil.ProductStock(t, f.db, scarce.ID))
	assert.Zero(t, f.count(t, &model.Order{}))
}

func TestCreateOrder_FixedCouponCappedAtSubtotal(t *testing.T) {
	f := newCheckoutFixture(t, StockPolicyReserve)
	testutil.CreateCoupon(t, f.db, testutil.ActiveCoupon("BIGDEAL", model.DiscountTypeFixed, "500", "0"))
	product := testutil.CreateProduct(t, f.db, "Spice Box", "150", 5)
	testutil.AddToCart(t, f.db, f.user.ID, product.ID, 2)

	req := f.shipTo()
	req.CouponCode = "BIGDEAL"
	order, err := f.orders.CreateOrder(context.Background(), f.user.ID, req)
	require.NoError(t, err)

	testutil.AssertMoney(t, "300", order.Subtotal)
	testutil.AssertMoney(t, "300", order.DiscountAmount)
	testutil.AssertMoney(t, "0", order.Total)
}

func TestCreateOrder_UnknownCoupon(t *testing.T) {
	f := newCheckoutFixture(t, StockPolicyReserve)
	product := testutil.CreateProduct(t, f.db, "Spice Box", "150", 5)
	testutil.AddToCart(t, f.db, f.user.ID, product.ID, 1)

	req := f.shipTo()
	req.CouponCode = "NOPE"
	_, err := f.orders.CreateOrder(context.Background(), f.user.ID, req)

	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.Zero(t, f.count(t, &model.Order{}))
}

func TestCreateOrder_EmptyCart(t *testing.T) {
	f := newCheckoutFixture(t, StockPolicyReserve)

	_, err := f.orders.CreateOrder(context.Background(), f.user.ID, f.shipTo())
	assert.True(t, apperr.Is(err, apperr.KindConflict), "no cart: %v", err)

	require.NoError(t, f.db.Create(&model.Cart{UserID: f.user.ID}).Error)
	_, err = f.orders.CreateOrder(context.Background(), f.user.ID, f.shipTo())
	assert.True(t, apperr.Is(err, apperr.KindConflict), "empty cart: %v", err)

	assert.Zero(t, f.count(t, &model.Order{}))
	assert.Empty(t, f.notifier.Kinds())
}

func TestCreateOrder_Addresses(t *testing.T) {
	f := newCheckoutFixture(t, StockPolicyReserve)
	product := testutil.CreateProduct(t, f.db, "Spice Box", "150", 5)
	testutil.AddToCart(t, f.db, f.user.ID, product.ID, 1)
	stranger := testutil.CreateUser(t, f.db, "dawit", false)
	strangerAddress := testutil.CreateAddress(t, f.db, stranger.ID)
	billing := testutil.CreateAddress(t, f.db, f.user.ID)
	ctx := context.Background()

	_, err := f.orders.CreateOrder(ctx, f.user.ID, &dto.CreateOrderRequest{ShippingAddressID: strangerAddress.ID})
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "foreign shipping address: %v", err)

	_, err = f.orders.CreateOrder(ctx, f.user.ID, &dto.CreateOrderRequest{
		ShippingAddressID: f.address.ID,
		BillingAddressID:  &strangerAddress.ID,
	})
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "foreign billing address: %v", err)

	order, err := f.orders.CreateOrder(ctx, f.user.ID, &dto.CreateOrderRequest{
		ShippingAddressID: f.address.ID,
		BillingAddressID:  &billing.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, f.address.ID, order.ShippingAddressID)
	assert.Equal(t, billing.ID, order.BillingAddressID)
}

func TestCreateOrder_AllOrNothing(t *testing.T) {
	f := newCheckoutFixture(t, StockPolicyReserve)
	coupon := testutil.CreateCoupon(t, f.db, testutil.ActiveCoupon("SAVE10", model.DiscountTypeFixed, "10", "0"))
	plenty := testutil.CreateProduct(t, f.db, "Coffee Beans", "100", 10)
	scarce := testutil.CreateProduct(t, f.db, "Gabi Blanket", "900", 1)
	testutil.AddToCart(t, f.db, f.user.ID, plenty.ID, 3)
	testutil.AddToCart(t, f.db, f.user.ID, scarce.ID, 2)

	req := f.shipTo()
	req.CouponCode = "SAVE10"
	_, err := f.orders.CreateOrder(context.Background(), f.user.ID, req)

	require.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)
	assert.Contains(t, err.Error(), "insufficient stock for Gabi Blanket. Available: 1, requested: 2")

	assert.Zero(t, f.count(t, &model.Order{}))
	assert.Zero(t, f.count(t, &model.OrderItem{}))
	assert.Equal(t, 10, testutil.ProductStock(t, f.db, plenty.ID))
	assert.Equal(t, 1, testutil.ProductStock(t, f.db, scarce.ID))
	assert.EqualValues(t, 2, testutil.CartItemCount(t, f.db, f.user.ID))

	var stored model.Coupon
	require.NoError(t, f.db.First(&stored, coupon.ID).Error)
	assert.Zero(t, stored.UsedCount)
	assert.Empty(t, f.publisher.Types())
}

func TestCreateOrder_ConcurrentCheckoutsForLastUnit(t *testing.T) {
	f := newCheckoutFixture(t, StockPolicyReserve)
	product := testutil.CreateProduct(t, f.db, "Last Jebena", "780.50", 1)

	buyers := []*model.User{f.user, testutil.CreateUser(t, f.db, "meron", false)}
	requests := make([]*dto.CreateOrderRequest, len(buyers))
	for i, buyer := range buyers {
		address := testutil.CreateAddress(t, f.db, buyer.ID)
		testutil.AddToCart(t, f.db, buyer.ID, product.ID, 1)
		requests[i] = &dto.CreateOrderRequest{ShippingAddressID: address.ID}
	}

	errs := make([]error, len(buyers))
	var wg sync.WaitGroup
	for i, buyer := range buyers {
		wg.Add(1)
		go func(i int, userID uint) {
			defer wg.Done()
			_, errs[i] = f.orders.CreateOrder(context.Background(), userID, requests[i])
		}(i, buyer.ID)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, apperr.Is(err, apperr.KindConflict))
		assert.Contains(t, err.Error(), "insufficient stock")
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, testutil.ProductStock(t, f.db, product.ID))
	assert.EqualValues(t, 1, f.count(t, &model.Order{}))
}

func TestCreateOrder_ConfirmPolicyLeavesStock(t *testing.T) {
	f := newCheckoutFixture(t, StockPolicyConfirm)
	product := testutil.CreateProduct(t, f.db, "Sidamo Coffee", "100", 5)
	testutil.AddToCart(t, f.db, f.user.ID, product.ID, 2)

	order, err := f.orders.CreateOrder(context.Background(), f.user.ID, f.shipTo())
	require.NoError(t, err)

	assert.False(t, order.StockDeducted)
	assert.Equal(t, 5, testutil.ProductStock(t, f.db, product.ID))
	assert.Zero(t, f.invalidator.calls.Load())
}

func TestOrderService_UpdateStatus(t *testing.T) {
	f := newCheckoutFixture(t, StockPolicyReserve)
	product := testutil.CreateProduct(t, f.db, "Sidamo Coffee", "100", 5)
	testutil.AddToCart(t, f.db, f.user.ID, product.ID, 1)
	order, err := f.orders.CreateOrder(context.Background(), f.user.ID, f.shipTo())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = f.orders.UpdateStatus(ctx, order.OrderID, "lost")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.orders.UpdateStatus(ctx, order.OrderID, "shipped")
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = f.orders.UpdateStatus(ctx, "no-such-order", "confirmed")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	confirmed, err := f.orders.UpdateStatus(ctx, order.OrderID, "confirmed")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.ConfirmedAt)
	firstConfirmation := *confirmed.ConfirmedAt

	again, err := f.orders.UpdateStatus(ctx, order.OrderID, "confirmed")
	require.NoError(t, err)
	assert.True(t, firstConfirmation.Equal(*again.ConfirmedAt))

	for _, status := range []string{"processing", "shipped", "delivered"} {
		updated, err := f.orders.UpdateStatus(ctx, order.OrderID, status)
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatus(status), updated.Status)
	}

	_, err = f.orders.UpdateStatus(ctx, order.OrderID, "cancelled")
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	assert.Equal(t, []notify.Kind{
		notify.KindOrderConfirmation,
		notify.KindOrderStatusUpdate,
		notify.KindOrderStatusUpdate,
		notify.KindOrderStatusUpdate,
		notify.KindOrderStatusUpdate,
	}, f.notifier.Kinds())
}

func TestOrderService_CancelReturnsStock(t *testing.T) {
	f := newCheckoutFixture(t, StockPolicyReserve)
	product := testutil.CreateProduct(t, f.db, "Sidamo Coffee", "100", 5)
	testutil.AddToCart(t, f.db, f.user.ID, product.ID, 2)
	ctx := context.Background()

	order, err := f.orders.CreateOrder(ctx, f.user.ID, f.shipTo())
	require.NoError(t, err)
	payment, err := f.payments.InitiatePayment(ctx, f.user.ID, &dto.InitiatePaymentRequest{OrderID: order.OrderID})
	require.NoError(t, err)
	require.Equal(t, 3, testutil.ProductStock(t, f.db, product.ID))

	cancelled, err := f.orders.UpdateStatus(ctx, order.OrderID, "cancelled")
	require.NoError(t, err)

	assert.Equal(t, model.OrderStatusCancelled, cancelled.Status)
	assert.False(t, cancelled.StockDeducted)
	assert.Equal(t, 5, testutil.ProductStock(t, f.db, product.ID))
	assert.Equal(t, model.PaymentStatusCancelled, f.loadPayment(t, payment.PaymentID).Status)
	assert.EqualValues(t, 2, f.invalidator.calls.Load())
}

func TestOrderService_CancelOrderByOwner(t *testing.T) {
	f := newCheckoutFixture(t, StockPolicyReserve)
	product := testutil.CreateProduct(t, f.db, "Sidamo Coffee", "100", 5)
	stranger := testutil.CreateUser(t, f.db, "dawit", false)
	ctx := context.Background()

	testutil.AddToCart(t, f.db, f.user.ID, product.ID, 1)
	order, err := f.orders.CreateOrder(ctx, f.user.ID, f.shipTo())
	require.NoError(t, err)

	_, err = f.orders.CancelOrder(ctx, stranger.ID, order.OrderID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	cancelled, err := f.orders.CancelOrder(ctx, f.user.ID, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, 5, testutil.ProductStock(t, f.db, product.ID))

	testutil.AddToCart(t, f.db, f.user.ID, product.ID, 1)
	second, err := f.orders.CreateOrder(ctx, f.user.ID, f.shipTo())
	require.NoError(t, err)
	_, err = f.orders.UpdateStatus(ctx, second.OrderID, "confirmed")
	require.NoError(t, err)

	_, err = f.orders.CancelOrder(ctx, f.user.ID, second.OrderID)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.Equal(t, model.OrderStatusConfirmed, f.loadOrder(t, second.OrderID).Status)
}

func TestOrderService_Reads(t *testing.T) {
	f := newCheckoutFixture(t, StockPolicyReserve)
	product := testutil.CreateProduct(t, f.db, "Sidamo Coffee", "100", 5)
	stranger := testutil.CreateUser(t, f.db, "dawit", false)
	ctx := context.Background()

	testutil.AddToCart(t, f.db, f.user.ID, product.ID, 1)
	order, err := f.orders.CreateOrder(ctx, f.user.ID, f.shipTo())
	require.NoError(t, err)

	got, err := f.orders.GetOrder(ctx, f.user.ID, order.OrderID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 1)

	_, err = f.orders.GetOrder(ctx, stranger.ID, order.OrderID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	orders, err := f.orders.ListOrders(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	orders, err = f.orders.ListOrders(ctx, stranger.ID)
	require.NoError(t, err)
	assert.Empty(t, orders)
}
