package repository

import (
	"context"
	"storefront-checkout/internal/model"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentRepository interface {
	Create(ctx context.Context, tx *gorm.DB, payment *model.Payment) error
	FindByPaymentID(ctx context.Context, paymentID string) (*model.Payment, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*model.Payment, error)
	FindForUser(ctx context.Context, paymentID string, userID uint) (*model.Payment, error)
	ListByUser(ctx context.Context, userID uint) ([]*model.Payment, error)
	LockByTransactionID(ctx context.Context, tx *gorm.DB, transactionID string) (*model.Payment, error)
	SetCheckout(ctx context.Context, paymentID, checkoutURL, gatewayReference string) (bool, error)
	MarkCompleted(ctx context.Context, tx *gorm.DB, payment *model.Payment) (bool, error)
	MarkFailed(ctx context.Context, paymentID, reason string) (bool, error)
	FlagForReconcile(ctx context.Context, payment *model.Payment) (bool, error)
	CancelPendingForOrder(ctx context.Context, tx *gorm.DB, orderID string) (int64, error)
}

type paymentRepoImpl struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepoImpl{
		db: db,
	}
}

func (r *paymentRepoImpl) Create(ctx context.Context, tx *gorm.DB, payment *model.Payment) error {
	return tx.WithContext(ctx).Create(payment).Error
}

func (r *paymentRepoImpl) FindByPaymentID(ctx context.Context, paymentID string) (*model.Payment, error) {
	var payment model.Payment
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		First(&payment).Error

	if err != nil {
		return nil, err
	}

	return &payment, nil
}

func (r *paymentRepoImpl) FindByTransactionID(ctx context.Context, transactionID string) (*model.Payment, error) {
	var payment model.Payment
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		First(&payment).Error

	if err != nil {
		return nil, err
	}

	return &payment, nil
}

func (r *paymentRepoImpl) FindForUser(ctx context.Context, paymentID string, userID uint) (*model.Payment, error) {
	var payment model.Payment
	err := r.db.WithContext(ctx).
		Select("payments.*").
		Joins("JOIN orders ON orders.order_id = payments.order_id").
		Where("payments.payment_id = ? AND orders.user_id = ?", paymentID, userID).
		First(&payment).Error

	if err != nil {
		return nil, err
	}

	return &payment, nil
}

func (r *paymentRepoImpl) ListByUser(ctx context.Context, userID uint) ([]*model.Payment, error) {
	var payments []*model.Payment
	err := r.db.WithContext(ctx).
		Select("payments.*").
		Joins("JOIN orders ON orders.order_id = payments.order_id").
		Where("orders.user_id = ?", userID).
		Order("payments.created_at DESC").
		Find(&payments).Error

	if err != nil {
		return nil, err
	}

	return payments, nil
}

func (r *paymentRepoImpl) LockByTransactionID(ctx context.Context, tx *gorm.DB, transactionID string) (*model.Payment, error) {
	var payment model.Payment
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("transaction_id = ?", transactionID).
		First(&payment).Error

	if err != nil {
		return nil, err
	}

	return &payment, nil
}

// SetCheckout stores the hosted checkout for a pending payment. It reports
// false if the payment was cancelled or failed in the meantime.
func (r *paymentRepoImpl) SetCheckout(ctx context.Context, paymentID, checkoutURL, gatewayReference string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.Payment{}).
		Where("payment_id = ? AND status = ?", paymentID, model.PaymentStatusPending).
		Updates(map[string]interface{}{
			"checkout_url":      checkoutURL,
			"gateway_reference": gatewayReference,
			"updated_at":        time.Now(),
		})

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

// MarkCompleted moves a pending payment to completed using its PaymentMethod,
// PaymentDate and GatewayReference. It reports false if the payment was no longer pending.
func (r *paymentRepoImpl) MarkCompleted(ctx context.Context, tx *gorm.DB, payment *model.Payment) (bool, error) {
	result := tx.WithContext(ctx).Model(&model.Payment{}).
		Where("payment_id = ? AND status = ?", payment.PaymentID, model.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":            model.PaymentStatusCompleted,
			"payment_method":    payment.PaymentMethod,
			"payment_date":      payment.PaymentDate,
			"gateway_reference": payment.GatewayReference,
			"updated_at":        time.Now(),
		})

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

// MarkFailed moves a pending payment to failed. It reports false if the
// payment had already left pending.
func (r *paymentRepoImpl) MarkFailed(ctx context.Context, paymentID, reason string) (bool, error) {
	if len(reason) > 500 {
		reason = reason[:500]
	}

	result := r.db.WithContext(ctx).Model(&model.Payment{}).
		Where("payment_id = ? AND status = ?", paymentID, model.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":         model.PaymentStatusFailed,
			"failure_reason": reason,
			"updated_at":     time.Now(),
		})

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

// FlagForReconcile marks a failed or cancelled payment that the gateway
// reports as paid, recording the gateway's method and reference. The status
// is left alone. It reports false if the payment was already flagged.
func (r *paymentRepoImpl) FlagForReconcile(ctx context.Context, payment *model.Payment) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.Payment{}).
		Where("payment_id = ? AND status IN ? AND needs_reconcile = ?", payment.PaymentID,
			[]model.PaymentStatus{model.PaymentStatusFailed, model.PaymentStatusCancelled}, false).
		Updates(map[string]interface{}{
			"needs_reconcile":   true,
			"payment_method":    payment.PaymentMethod,
			"gateway_reference": payment.GatewayReference,
			"updated_at":        time.Now(),
		})

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

func (r *paymentRepoImpl) CancelPendingForOrder(ctx context.Context, tx *gorm.DB, orderID string) (int64, error) {
	result := tx.WithContext(ctx).Model(&model.Payment{}).
		Where("order_id = ? AND status = ?", orderID, model.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":     model.PaymentStatusCancelled,
			"updated_at": time.Now(),
		})

	return result.RowsAffected, result.Error
}
