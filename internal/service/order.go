package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"storefront-checkout/internal/apperr"
	"storefront-checkout/internal/dto"
	"storefront-checkout/internal/events"
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/notify"
	"storefront-checkout/internal/repository"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockPolicy decides when an order takes its items out of stock.
type StockPolicy string

const (
	// StockPolicyReserve deducts stock when the order is created and returns
	// it if the order is cancelled.
	StockPolicyReserve StockPolicy = "reserve"
	// StockPolicyConfirm only checks stock at creation and deducts it when the
	// payment is verified. Two pending orders can both pass the check.
	StockPolicyConfirm StockPolicy = "confirm"
)

type OrderService interface {
	CreateOrder(ctx context.Context, userID uint, req *dto.CreateOrderRequest) (*model.Order, error)
	GetOrder(ctx context.Context, userID uint, orderID string) (*model.Order, error)
	ListOrders(ctx context.Context, userID uint) ([]*model.Order, error)
	UpdateStatus(ctx context.Context, orderID string, status string) (*model.Order, error)
	CancelOrder(ctx context.Context, userID uint, orderID string) (*model.Order, error)
}

type orderServiceImpl struct {
	db          *gorm.DB
	stockPolicy StockPolicy
	productRepo repository.ProductRepository
	orderRepo   repository.OrderRepository
	cartRepo    repository.CartRepository
	couponRepo  repository.CouponRepository
	addressRepo repository.AddressRepository
	paymentRepo repository.PaymentRepository
	hooks       Hooks
	now         func() time.Time
}

func NewOrderService(
	db *gorm.DB,
	stockPolicy StockPolicy,
	productRepo repository.ProductRepository,
	orderRepo repository.OrderRepository,
	cartRepo repository.CartRepository,
	couponRepo repository.CouponRepository,
	addressRepo repository.AddressRepository,
	paymentRepo repository.PaymentRepository,
	hooks Hooks,
) OrderService {
	if stockPolicy == "" {
		stockPolicy = StockPolicyReserve
	}

	return &orderServiceImpl{
		db:          db,
		stockPolicy: stockPolicy,
		productRepo: productRepo,
		orderRepo:   orderRepo,
		cartRepo:    cartRepo,
		couponRepo:  couponRepo,
		addressRepo: addressRepo,
		paymentRepo: paymentRepo,
		hooks:       hooks.withDefaults(),
		now:         time.Now,
	}
}

func (s *orderServiceImpl) CreateOrder(ctx context.Context, userID uint, req *dto.CreateOrderRequest) (*model.Order, error) {
	shipping, billing, err := s.resolveAddresses(ctx, userID, req)
	if err != nil {
		s.hooks.Metrics.OrderFailed("address")
		return nil, err
	}

	var coupon *model.Coupon
	if code := strings.TrimSpace(req.CouponCode); code != "" {
		coupon, err = s.couponRepo.FindByCode(ctx, code)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.hooks.Metrics.OrderFailed("coupon")
			return nil, apperr.NotFound("Invalid coupon code")
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, err, "load coupon")
		}
	}

	// coupon rules are checked against the cart before any stock is locked, so
	// a bad code is reported even when a line is also short
	if coupon != nil {
		cart, err := s.cartRepo.FindByUser(ctx, nil, userID)
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && len(cart.Items) == 0) {
			s.hooks.Metrics.OrderFailed(apperr.KindConflict.String())
			return nil, apperr.Conflict("Cart is empty")
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, err, "load cart")
		}

		subtotal := decimal.Zero
		for i := range cart.Items {
			subtotal = subtotal.Add(cart.Items[i].Subtotal())
		}
		if ok, reason := CheckCoupon(coupon, s.now(), subtotal); !ok {
			s.hooks.Metrics.OrderFailed("coupon")
			return nil, apperr.Validation("%s", reason)
		}
	}

	order := &model.Order{
		OrderID:           uuid.NewString(),
		UserID:            userID,
		Status:            model.OrderStatusPending,
		ShippingAddressID: shipping.ID,
		BillingAddressID:  billing.ID,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cart, err := s.cartRepo.FindByUser(ctx, tx, userID)
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && len(cart.Items) == 0) {
			return apperr.Conflict("Cart is empty")
		}
		if err != nil {
			return fmt.Errorf("load cart: %w", err)
		}

		lines := make([]repository.StockLine, len(cart.Items))
		for i, item := range cart.Items {
			lines[i] = repository.StockLine{ProductID: item.ProductID, Quantity: item.Quantity}
		}

		// prices are read from the locked rows, not the cart's preload
		products, err := s.productRepo.CheckAndLockAll(ctx, tx, lines)
		if err != nil {
			return err
		}

		subtotal := decimal.Zero
		items := make([]*model.OrderItem, len(cart.Items))
		for i, item := range cart.Items {
			product := products[item.ProductID]
			lineTotal := product.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
			subtotal = subtotal.Add(lineTotal)
			items[i] = &model.OrderItem{
				OrderID:      order.OrderID,
				ProductID:    product.ID,
				ProductTitle: product.Title,
				ProductPrice: product.Price,
				Quantity:     item.Quantity,
				Subtotal:     lineTotal,
			}
		}

		discount := decimal.Zero
		if coupon != nil {
			// prices may have moved since the check above
			if ok, reason := CheckCoupon(coupon, s.now(), subtotal); !ok {
				return apperr.Validation("%s", reason)
			}
			discount = CalculateDiscount(coupon, subtotal)
			order.CouponID = &coupon.ID
		}

		order.Subtotal = subtotal
		order.DiscountAmount = discount
		order.Total = subtotal.Sub(discount)

		if s.stockPolicy == StockPolicyReserve {
			if err := s.productRepo.DeductAll(ctx, tx, lines); err != nil {
				return err
			}
			order.StockDeducted = true
		}

		if err := s.orderRepo.Create(ctx, tx, order); err != nil {
			return fmt.Errorf("store order: %w", err)
		}
		if err := s.orderRepo.CreateOrderItems(ctx, tx, items); err != nil {
			return fmt.Errorf("store order items: %w", err)
		}

		if coupon != nil {
			if err := s.couponRepo.IncrementUsage(ctx, tx, coupon.ID); err != nil {
				return err
			}
		}

		if err := s.cartRepo.Clear(ctx, tx, cart.ID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}

		order.Items = make([]model.OrderItem, len(items))
		for i, item := range items {
			order.Items[i] = *item
		}
		return nil
	})
	if err != nil {
		err = classify(err)
		s.hooks.Metrics.OrderFailed(apperr.KindOf(err).String())
		return nil, err
	}

	s.hooks.Metrics.OrderCreated()
	s.hooks.Logger.Info("order created",
		slog.String("order_id", order.OrderID),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("total", order.Total.StringFixed(2)),
		slog.Bool("stock_deducted", order.StockDeducted))

	bg := context.WithoutCancel(ctx)
	s.hooks.Notifier.Notify(bg, notify.OrderConfirmation(order.OrderID))
	s.hooks.published(s.hooks.Publisher.PublishOrderCreated(bg, order), events.EventTypeOrderCreated, order.OrderID)
	if order.StockDeducted {
		s.hooks.invalidateProducts(bg)
	}

	return order, nil
}

func (s *orderServiceImpl) resolveAddresses(ctx context.Context, userID uint, req *dto.CreateOrderRequest) (*model.Address, *model.Address, error) {
	shipping, err := s.addressRepo.FindForUser(ctx, req.ShippingAddressID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, apperr.NotFound("Shipping address not found")
	}
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindInternal, err, "load shipping address")
	}

	if req.UseShippingAsBilling || req.BillingAddressID == nil {
		return shipping, shipping, nil
	}

	billing, err := s.addressRepo.FindForUser(ctx, *req.BillingAddressID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, apperr.NotFound("Billing address not found")
	}
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindInternal, err, "load billing address")
	}

	return shipping, billing, nil
}

func (s *orderServiceImpl) GetOrder(ctx context.Context, userID uint, orderID string) (*model.Order, error) {
	order, err := s.orderRepo.FindForUser(ctx, orderID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("Order not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "load order")
	}

	return order, nil
}

func (s *orderServiceImpl) ListOrders(ctx context.Context, userID uint) ([]*model.Order, error) {
	orders, err := s.orderRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "list orders")
	}

	return orders, nil
}

func (s *orderServiceImpl) UpdateStatus(ctx context.Context, orderID string, status string) (*model.Order, error) {
	next := model.OrderStatus(strings.ToLower(strings.TrimSpace(status)))
	if !next.Valid() {
		valid := make([]string, len(model.OrderStatuses))
		for i, st := range model.OrderStatuses {
			valid[i] = string(st)
		}
		return nil, apperr.Validation("Invalid status. Must be one of: %s", strings.Join(valid, ", "))
	}

	return s.transition(ctx, orderID, next, nil)
}

func (s *orderServiceImpl) CancelOrder(ctx context.Context, userID uint, orderID string) (*model.Order, error) {
	if _, err := s.GetOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}

	return s.transition(ctx, orderID, model.OrderStatusCancelled, func(order *model.Order) error {
		if order.Status != model.OrderStatusPending {
			return apperr.Conflict("Only pending orders can be cancelled")
		}
		return nil
	})
}

// transition moves an order along the status machine. Cancelling also
// cancels the order's pending payments and returns any stock it holds.
func (s *orderServiceImpl) transition(ctx context.Context, orderID string, next model.OrderStatus, guard func(*model.Order) error) (*model.Order, error) {
	var (
		previous  model.OrderStatus
		changed   bool
		restocked bool
		userID    uint
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.orderRepo.LockForUpdate(ctx, tx, orderID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("Order not found")
		}
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if guard != nil {
			if err := guard(order); err != nil {
				return err
			}
		}

		previous = order.Status
		userID = order.UserID
		if previous == next {
			return nil
		}
		if !previous.CanTransitionTo(next) {
			return apperr.Conflict("Cannot change order status from %s to %s", previous, next)
		}

		order.Status = next
		if next == model.OrderStatusConfirmed && order.ConfirmedAt == nil {
			now := s.now()
			order.ConfirmedAt = &now
		}

		if next == model.OrderStatusCancelled {
			if _, err := s.paymentRepo.CancelPendingForOrder(ctx, tx, orderID); err != nil {
				return fmt.Errorf("cancel pending payments: %w", err)
			}

			if order.StockDeducted {
				items, err := s.orderRepo.GetOrderItems(ctx, tx, orderID)
				if err != nil {
					return fmt.Errorf("load order items: %w", err)
				}
				if err := s.productRepo.RestockAll(ctx, tx, stockLines(items)); err != nil {
					return err
				}
				order.StockDeducted = false
				restocked = true
			}
		}

		if err := s.orderRepo.UpdateStatus(ctx, tx, order, previous); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	order, err := s.orderRepo.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "reload order")
	}
	if !changed {
		return order, nil
	}

	s.hooks.Metrics.OrderTransitioned(string(next))
	s.hooks.Logger.Info("order status changed",
		slog.String("order_id", orderID),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("from", string(previous)),
		slog.String("to", string(next)),
		slog.Bool("restocked", restocked))

	bg := context.WithoutCancel(ctx)
	s.hooks.Notifier.Notify(bg, notify.OrderStatusUpdate(orderID, string(next)))
	s.hooks.published(s.hooks.Publisher.PublishOrderStatusChanged(bg, order, previous), events.EventTypeOrderStatusChanged, orderID)
	if restocked {
		s.hooks.invalidateProducts(bg)
	}

	return order, nil
}

func stockLines(items []*model.OrderItem) []repository.StockLine {
	lines := make([]repository.StockLine, len(items))
	for i, item := range items {
		lines[i] = repository.StockLine{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	return lines
}
