package service

import (
	"context"
	"errors"
	"storefront-checkout/internal/apperr"
	"storefront-checkout/internal/dto"
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/repository"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

// CheckCoupon reports whether coupon applies to subtotal at now, and why not
// when it does not.
func CheckCoupon(coupon *model.Coupon, now time.Time, subtotal decimal.Decimal) (bool, string) {
	switch {
	case !coupon.IsActive:
		return false, "Coupon is not active"
	case now.Before(coupon.ValidFrom):
		return false, "Coupon is not yet valid"
	case now.After(coupon.ValidTo):
		return false, "Coupon has expired"
	case coupon.MaxUses != nil && coupon.UsedCount >= *coupon.MaxUses:
		return false, "Coupon usage limit reached"
	case subtotal.LessThan(coupon.MinPurchaseAmount):
		return false, "Minimum purchase amount is " + coupon.MinPurchaseAmount.StringFixed(2)
	}
	return true, ""
}

// CalculateDiscount never returns more than subtotal or less than zero.
func CalculateDiscount(coupon *model.Coupon, subtotal decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch coupon.DiscountType {
	case model.DiscountTypePercentage:
		discount = subtotal.Mul(coupon.DiscountValue).Div(hundred)
	case model.DiscountTypeFixed:
		discount = coupon.DiscountValue
	}

	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}

	return discount.Round(2)
}

type CouponService interface {
	ValidateCoupon(ctx context.Context, req *dto.ValidateCouponRequest) (*dto.ValidateCouponResponse, error)
}

type couponServiceImpl struct {
	couponRepo repository.CouponRepository
	now        func() time.Time
}

func NewCouponService(couponRepo repository.CouponRepository) CouponService {
	return &couponServiceImpl{
		couponRepo: couponRepo,
		now:        time.Now,
	}
}

func (s *couponServiceImpl) ValidateCoupon(ctx context.Context, req *dto.ValidateCouponRequest) (*dto.ValidateCouponResponse, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, apperr.Validation("Coupon code is required")
	}
	if req.Subtotal.IsNegative() {
		return nil, apperr.Validation("Subtotal cannot be negative")
	}

	coupon, err := s.couponRepo.FindByCode(ctx, code)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("Invalid coupon code")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "load coupon")
	}

	if ok, reason := CheckCoupon(coupon, s.now(), req.Subtotal); !ok {
		return &dto.ValidateCouponResponse{Valid: false, Message: reason}, nil
	}

	discount := CalculateDiscount(coupon, req.Subtotal)
	return &dto.ValidateCouponResponse{
		Valid:          true,
		Message:        "Coupon is valid",
		DiscountAmount: &discount,
		Coupon: &dto.CouponSummary{
			Code:          coupon.Code,
			Description:   coupon.Description,
			DiscountType:  coupon.DiscountType,
			DiscountValue: coupon.DiscountValue,
		},
	}, nil
}
