package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"storefront-checkout/internal/apperr"
	"storefront-checkout/internal/client"
	"storefront-checkout/internal/config"
	"storefront-checkout/internal/dto"
	"storefront-checkout/internal/events"
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/notify"
	"storefront-checkout/internal/repository"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	gatewayStatusSuccess = "success"
	gatewayStatusPending = "pending"
)

type PaymentService interface {
	InitiatePayment(ctx context.Context, userID uint, req *dto.InitiatePaymentRequest) (*dto.InitiatePaymentResponse, error)
	VerifyPayment(ctx context.Context, txRef string) (*dto.VerifyPaymentResponse, error)
	GetPayment(ctx context.Context, userID uint, paymentID string) (*model.Payment, error)
	ListPayments(ctx context.Context, userID uint) ([]*model.Payment, error)
}

type paymentServiceImpl struct {
	db          *gorm.DB
	chapaClient client.ChapaClient
	chapaCfg    config.Chapa
	productRepo repository.ProductRepository
	orderRepo   repository.OrderRepository
	paymentRepo repository.PaymentRepository
	userRepo    repository.UserRepository
	hooks       Hooks
	now         func() time.Time
}

func NewPaymentService(
	db *gorm.DB,
	chapaClient client.ChapaClient,
	chapaCfg config.Chapa,
	productRepo repository.ProductRepository,
	orderRepo repository.OrderRepository,
	paymentRepo repository.PaymentRepository,
	userRepo repository.UserRepository,
	hooks Hooks,
) PaymentService {
	return &paymentServiceImpl{
		db:          db,
		chapaClient: chapaClient,
		chapaCfg:    chapaCfg,
		productRepo: productRepo,
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		userRepo:    userRepo,
		hooks:       hooks.withDefaults(),
		now:         time.Now,
	}
}

func (s *paymentServiceImpl) InitiatePayment(ctx context.Context, userID uint, req *dto.InitiatePaymentRequest) (*dto.InitiatePaymentResponse, error) {
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return nil, apperr.Validation("order_id is required")
	}

	order, err := s.orderRepo.FindForUser(ctx, orderID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("Order not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "load order")
	}
	if order.Status != model.OrderStatusPending {
		return nil, apperr.Conflict("Order is not pending payment")
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "load user")
	}

	payment := &model.Payment{
		PaymentID:     uuid.NewString(),
		OrderID:       order.OrderID,
		TransactionID: newTransactionRef(),
		Amount:        order.Total,
		Currency:      s.chapaCfg.Currency,
		Status:        model.PaymentStatusPending,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.orderRepo.LockForUpdate(ctx, tx, order.OrderID)
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if locked.Status != model.OrderStatusPending {
			return apperr.Conflict("Order is not pending payment")
		}

		// an order has at most one payment the customer can still complete
		superseded, err := s.paymentRepo.CancelPendingForOrder(ctx, tx, order.OrderID)
		if err != nil {
			return fmt.Errorf("cancel previous payments: %w", err)
		}
		if superseded > 0 {
			s.hooks.Logger.Info("superseded pending payments",
				slog.String("order_id", order.OrderID),
				slog.Int64("count", superseded))
		}

		if err := s.paymentRepo.Create(ctx, tx, payment); err != nil {
			return fmt.Errorf("store payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	returnURL := strings.TrimSpace(req.ReturnURL)
	if returnURL == "" {
		returnURL = s.chapaCfg.ReturnURL
	}

	firstName := user.FirstName
	if firstName == "" {
		firstName = user.Username
	}

	started := time.Now()
	resp, err := s.chapaClient.InitializeTransaction(ctx, &model.ChapaInitializeRequest{
		Amount:      payment.Amount.StringFixed(2),
		Currency:    payment.Currency,
		Email:       user.Email,
		FirstName:   firstName,
		LastName:    user.LastName,
		TxRef:       payment.TransactionID,
		CallbackURL: s.chapaCfg.CallbackURL,
		ReturnURL:   returnURL,
		Customization: model.ChapaCustomization{
			Title:       "Storefront",
			Description: "Payment for order " + order.OrderID,
		},
	})
	s.hooks.Metrics.ObserveGateway("initialize", started, err)
	if err != nil {
		s.hooks.Logger.Error("payment initialization failed",
			slog.String("payment_id", payment.PaymentID),
			slog.String("order_id", order.OrderID),
			slog.String("tx_ref", payment.TransactionID),
			slog.String("error", err.Error()))

		if _, markErr := s.markFailed(ctx, payment, order.UserID, err.Error()); markErr != nil {
			s.hooks.Logger.Error("could not record failed payment",
				slog.String("payment_id", payment.PaymentID),
				slog.String("error", markErr.Error()))
		}
		return nil, apperr.Gateway(err, "Payment gateway error, please try again")
	}

	// Chapa knows the transaction by tx_ref until verification hands back its own reference
	stored, err := s.paymentRepo.SetCheckout(ctx, payment.PaymentID, resp.CheckoutURL, payment.TransactionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "store checkout url")
	}
	if !stored {
		s.hooks.Logger.Warn("payment left pending before checkout was stored",
			slog.String("payment_id", payment.PaymentID),
			slog.String("order_id", order.OrderID),
			slog.String("tx_ref", payment.TransactionID))
		return nil, apperr.Conflict("Payment was replaced by a newer checkout, please retry")
	}

	s.hooks.Metrics.PaymentOutcome("initiated")
	s.hooks.Logger.Info("payment initiated",
		slog.String("payment_id", payment.PaymentID),
		slog.String("order_id", order.OrderID),
		slog.String("tx_ref", payment.TransactionID),
		slog.String("amount", payment.Amount.StringFixed(2)))

	return &dto.InitiatePaymentResponse{
		PaymentID:     payment.PaymentID,
		CheckoutURL:   resp.CheckoutURL,
		TransactionID: payment.TransactionID,
	}, nil
}

// VerifyPayment reconciles a payment with the gateway. It is safe to call any
// number of times for the same reference.
func (s *paymentServiceImpl) VerifyPayment(ctx context.Context, txRef string) (*dto.VerifyPaymentResponse, error) {
	txRef = strings.TrimSpace(txRef)
	if txRef == "" {
		return nil, apperr.Validation("Transaction reference is required")
	}

	payment, err := s.paymentRepo.FindByTransactionID(ctx, txRef)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("Payment not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "load payment")
	}

	if payment.Status == model.PaymentStatusCompleted {
		return verifyResult(payment), nil
	}

	// failed and cancelled payments are still checked: the customer may have
	// paid on a checkout page that was superseded or timed out on our side
	started := time.Now()
	txn, err := s.chapaClient.VerifyTransaction(ctx, txRef)
	s.hooks.Metrics.ObserveGateway("verify", started, err)
	if err != nil {
		s.hooks.Logger.Error("payment verification failed",
			slog.String("payment_id", payment.PaymentID),
			slog.String("tx_ref", txRef),
			slog.String("status", string(payment.Status)),
			slog.String("error", err.Error()))
		if payment.Status.Terminal() {
			return verifyResult(payment), nil
		}
		return nil, apperr.Gateway(err, "Payment verification failed")
	}

	if payment.Status.Terminal() {
		if txn.Status == gatewayStatusSuccess {
			return s.flagForReconcile(ctx, payment, txn)
		}
		return verifyResult(payment), nil
	}

	switch txn.Status {
	case gatewayStatusSuccess:
		return s.confirm(ctx, payment, txn)

	case gatewayStatusPending:
		return verifyResult(payment), nil

	default:
		order, err := s.orderRepo.FindByOrderID(ctx, payment.OrderID)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, err, "load order")
		}

		changed, err := s.markFailed(ctx, payment, order.UserID, fmt.Sprintf("gateway reported status %q", txn.Status))
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, err, "mark payment failed")
		}
		if changed {
			s.hooks.Notifier.Notify(context.WithoutCancel(ctx), notify.PaymentFailed(payment.PaymentID))
		}

		current, err := s.paymentRepo.FindByPaymentID(ctx, payment.PaymentID)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, err, "reload payment")
		}
		return verifyResult(current), nil
	}
}

// confirm records a successful gateway payment. The payment row is re-read
// under lock so concurrent verifications of the same reference confirm once.
func (s *paymentServiceImpl) confirm(ctx context.Context, payment *model.Payment, txn *model.ChapaTransaction) (*dto.VerifyPaymentResponse, error) {
	var (
		current   *model.Payment
		order     *model.Order
		confirmed bool
		deducted  bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		current, err = s.paymentRepo.LockByTransactionID(ctx, tx, payment.TransactionID)
		if err != nil {
			return fmt.Errorf("lock payment: %w", err)
		}
		if current.Status.Terminal() {
			return nil
		}

		order, err = s.orderRepo.LockForUpdate(ctx, tx, current.OrderID)
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if order.Status != model.OrderStatusPending {
			return apperr.Conflict("Order is %s and cannot be confirmed", order.Status)
		}

		now := s.now()
		current.PaymentMethod = txn.Method
		current.GatewayReference = txn.Reference
		current.PaymentDate = &now
		ok, err := s.paymentRepo.MarkCompleted(ctx, tx, current)
		if err != nil {
			return fmt.Errorf("complete payment: %w", err)
		}
		if !ok {
			return apperr.Conflict("Payment was modified concurrently, please retry")
		}
		current.Status = model.PaymentStatusCompleted

		previous := order.Status
		order.Status = model.OrderStatusConfirmed
		if order.ConfirmedAt == nil {
			order.ConfirmedAt = &now
		}

		if !order.StockDeducted {
			items, err := s.orderRepo.GetOrderItems(ctx, tx, order.OrderID)
			if err != nil {
				return fmt.Errorf("load order items: %w", err)
			}
			if err := s.productRepo.DeductAll(ctx, tx, stockLines(items)); err != nil {
				return err
			}
			order.StockDeducted = true
			deducted = true
		}

		if err := s.orderRepo.UpdateStatus(ctx, tx, order, previous); err != nil {
			return err
		}
		confirmed = true
		return nil
	})
	if err != nil {
		err = classify(err)
		s.hooks.Logger.Error("payment confirmation failed",
			slog.String("payment_id", payment.PaymentID),
			slog.String("tx_ref", payment.TransactionID),
			slog.String("error", err.Error()))
		return nil, err
	}

	if !confirmed {
		if current.Status != model.PaymentStatusCompleted {
			return s.flagForReconcile(ctx, current, txn)
		}
		return verifyResult(current), nil
	}

	s.hooks.Metrics.PaymentOutcome("completed")
	s.hooks.Metrics.OrderTransitioned(string(model.OrderStatusConfirmed))
	s.hooks.Logger.Info("payment completed",
		slog.String("payment_id", current.PaymentID),
		slog.String("order_id", current.OrderID),
		slog.String("tx_ref", current.TransactionID),
		slog.String("method", current.PaymentMethod),
		slog.Bool("stock_deducted", deducted))

	bg := context.WithoutCancel(ctx)
	s.hooks.Notifier.Notify(bg, notify.PaymentConfirmation(current.PaymentID))
	s.hooks.published(s.hooks.Publisher.PublishPaymentCompleted(bg, current, order.UserID), events.EventTypePaymentCompleted, current.OrderID)
	if deducted {
		s.hooks.invalidateProducts(bg)
	}

	return verifyResult(current), nil
}

// flagForReconcile records a gateway charge on a payment that was already
// failed or cancelled. The payment keeps its status and the order is not
// touched; the money has to be refunded or applied by hand.
func (s *paymentServiceImpl) flagForReconcile(ctx context.Context, payment *model.Payment, txn *model.ChapaTransaction) (*dto.VerifyPaymentResponse, error) {
	payment.PaymentMethod = txn.Method
	payment.GatewayReference = txn.Reference

	flagged, err := s.paymentRepo.FlagForReconcile(ctx, payment)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "flag payment for reconcile")
	}
	payment.NeedsReconcile = true
	if !flagged {
		return verifyResult(payment), nil
	}

	s.hooks.Logger.Error("payment charged while not active, needs refund or manual reconcile",
		slog.String("payment_id", payment.PaymentID),
		slog.String("order_id", payment.OrderID),
		slog.String("tx_ref", payment.TransactionID),
		slog.String("status", string(payment.Status)),
		slog.String("gateway_reference", payment.GatewayReference),
		slog.String("amount", payment.Amount.StringFixed(2)))
	s.hooks.Metrics.PaymentOutcome("reconcile_required")

	var userID uint
	if order, err := s.orderRepo.FindByOrderID(ctx, payment.OrderID); err == nil {
		userID = order.UserID
	}
	bg := context.WithoutCancel(ctx)
	s.hooks.published(s.hooks.Publisher.PublishPaymentReconcileRequired(bg, payment, userID), events.EventTypePaymentReconcileRequired, payment.OrderID)

	return verifyResult(payment), nil
}

// markFailed moves a pending payment to failed and reports whether it did.
// The write outlives a cancelled request so a timed out payment is not left pending.
func (s *paymentServiceImpl) markFailed(ctx context.Context, payment *model.Payment, userID uint, reason string) (bool, error) {
	ctx = context.WithoutCancel(ctx)

	changed, err := s.paymentRepo.MarkFailed(ctx, payment.PaymentID, reason)
	if err != nil || !changed {
		return changed, err
	}

	payment.Status = model.PaymentStatusFailed
	payment.FailureReason = reason

	s.hooks.Metrics.PaymentOutcome("failed")
	s.hooks.published(s.hooks.Publisher.PublishPaymentFailed(ctx, payment, userID), events.EventTypePaymentFailed, payment.OrderID)
	return true, nil
}

func (s *paymentServiceImpl) GetPayment(ctx context.Context, userID uint, paymentID string) (*model.Payment, error) {
	payment, err := s.paymentRepo.FindForUser(ctx, paymentID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("Payment not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "load payment")
	}

	return payment, nil
}

func (s *paymentServiceImpl) ListPayments(ctx context.Context, userID uint) ([]*model.Payment, error) {
	payments, err := s.paymentRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "list payments")
	}

	return payments, nil
}

func verifyResult(payment *model.Payment) *dto.VerifyPaymentResponse {
	var message string
	switch payment.Status {
	case model.PaymentStatusCompleted:
		message = "Payment verified successfully"
	case model.PaymentStatusFailed:
		message = "Payment failed"
	case model.PaymentStatusCancelled:
		message = "Payment was cancelled"
	default:
		message = "Payment is still pending"
	}

	return &dto.VerifyPaymentResponse{
		Status:  payment.Status,
		Message: message,
		Payment: payment,
	}
}

// newTransactionRef returns a reference like TXN-3F9A1C2B7D4E.
func newTransactionRef() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "TXN-" + strings.ToUpper(id[:12])
}
