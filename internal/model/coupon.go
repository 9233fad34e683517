package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

type Coupon struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	Code              string          `gorm:"size:50;uniqueIndex;not null" json:"code"` // stored upper-cased
	Description       string          `gorm:"type:text" json:"description"`
	DiscountType      DiscountType    `gorm:"size:20;not null" json:"discount_type"`
	DiscountValue     decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"discount_value"`
	MinPurchaseAmount decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"min_purchase_amount"`
	MaxUses           *int            `json:"max_uses,omitempty"` // nil is unlimited
	UsedCount         int             `gorm:"not null" json:"used_count"`
	ValidFrom         time.Time       `gorm:"not null" json:"valid_from"`
	ValidTo           time.Time       `gorm:"not null" json:"valid_to"`
	IsActive          bool            `gorm:"not null" json:"is_active"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}
