package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// Terminal statuses never change again.
func (s PaymentStatus) Terminal() bool {
	return s != PaymentStatusPending
}

type Payment struct {
	PaymentID        string          `gorm:"primaryKey;size:36;not null" json:"payment_id"`
	OrderID          string          `gorm:"size:36;index;not null" json:"order_id"`
	TransactionID    string          `gorm:"size:100;uniqueIndex;not null" json:"transaction_id"` // TXN-XXXXXXXXXXXX, sent as tx_ref
	GatewayReference string          `gorm:"size:100" json:"gateway_reference,omitempty"`
	CheckoutURL      string          `gorm:"size:500" json:"checkout_url,omitempty"`
	Amount           decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency         string          `gorm:"size:3;not null" json:"currency"`
	Status           PaymentStatus   `gorm:"size:20;index;not null" json:"status"`
	PaymentMethod    string          `gorm:"size:50" json:"payment_method,omitempty"`
	FailureReason    string          `gorm:"size:500" json:"failure_reason,omitempty"`
	PaymentDate      *time.Time      `json:"payment_date,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`

	// set when the gateway took money for a payment that was already failed or
	// cancelled; the charge has to be refunded or applied by hand
	NeedsReconcile bool `gorm:"not null;default:false" json:"needs_reconcile"`
}
