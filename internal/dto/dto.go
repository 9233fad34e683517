package dto

import (
	"storefront-checkout/internal/model"

	"github.com/shopspring/decimal"
)

type CreateOrderRequest struct {
	ShippingAddressID    uint   `json:"shipping_address_id"`
	BillingAddressID     *uint  `json:"billing_address_id"`
	CouponCode           string `json:"coupon_code"`
	UseShippingAsBilling bool   `json:"use_shipping_as_billing"`
}

type UpdateOrderStatusRequest struct {
	Status string `json:"status"`
}

type ValidateCouponRequest struct {
	Code     string          `json:"code"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

type CouponSummary struct {
	Code          string             `json:"code"`
	Description   string             `json:"description"`
	DiscountType  model.DiscountType `json:"discount_type"`
	DiscountValue decimal.Decimal    `json:"discount_value"`
}

type ValidateCouponResponse struct {
	Valid          bool             `json:"valid"`
	Message        string           `json:"message"`
	DiscountAmount *decimal.Decimal `json:"discount_amount,omitempty"`
	Coupon         *CouponSummary   `json:"coupon,omitempty"`
}

type InitiatePaymentRequest struct {
	OrderID   string `json:"order_id"`
	ReturnURL string `json:"return_url"`
}

type InitiatePaymentResponse struct {
	PaymentID     string `json:"payment_id"`
	CheckoutURL   string `json:"checkout_url"`
	TransactionID string `json:"transaction_id"`
}

type VerifyPaymentResponse struct {
	Status  model.PaymentStatus `json:"status"`
	Message string              `json:"message"`
	Payment *model.Payment      `json:"payment"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
