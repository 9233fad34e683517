package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
}

func (s OrderStatus) Valid() bool {
	for _, status := range OrderStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Order struct {
	OrderID           string          `gorm:"primaryKey;size:36;not null" json:"order_id"`
	UserID            uint            `gorm:"index:idx_orders_user_status;not null" json:"user_id"`
	Status            OrderStatus     `gorm:"size:20;index:idx_orders_user_status;not null" json:"status"`
	Subtotal          decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"subtotal"`
	DiscountAmount    decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"discount_amount"`
	Total             decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"total"`
	ShippingAddressID uint            `gorm:"not null" json:"shipping_address_id"`
	BillingAddressID  uint            `gorm:"not null" json:"billing_address_id"`
	CouponID          *uint           `gorm:"index" json:"coupon_id,omitempty"`
	StockDeducted     bool            `gorm:"not null" json:"stock_deducted"` // stock for the items is held by this order
	Items             []OrderItem     `gorm:"foreignKey:OrderID;references:OrderID" json:"items"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	ConfirmedAt       *time.Time      `json:"confirmed_at,omitempty"`
}

// OrderItem is a snapshot of a cart line at checkout and is never updated.
type OrderItem struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	OrderID      string          `gorm:"size:36;index;not null" json:"order_id"`
	ProductID    uint            `gorm:"index;not null" json:"product_id"`
	ProductTitle string          `gorm:"size:255;not null" json:"product_title"`
	ProductPrice decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"product_price"`
	Quantity     int             `gorm:"not null" json:"quantity"`
	Subtotal     decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"subtotal"`
	CreatedAt    time.Time       `json:"created_at"`
}
