package repository

import (
	"context"
	"errors"
	"fmt"
	"storefront-checkout/internal/model"
	"strings"
	"time"

	"gorm.io/gorm"
)

var ErrCouponExhausted = errors.New("coupon usage limit reached")

type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (*model.Coupon, error)
	IncrementUsage(ctx context.Context, tx *gorm.DB, couponID uint) error
}

type couponRepoImpl struct {
	db *gorm.DB
}

func NewCouponRepository(db *gorm.DB) CouponRepository {
	return &couponRepoImpl{
		db: db,
	}
}

// FindByCode matches codes case-insensitively.
func (r *couponRepoImpl) FindByCode(ctx context.Context, code string) (*model.Coupon, error) {
	var coupon model.Coupon
	err := r.db.WithContext(ctx).
		Where("UPPER(code) = ?", strings.ToUpper(strings.TrimSpace(code))).
		First(&coupon).Error

	if err != nil {
		return nil, err
	}

	return &coupon, nil
}

func (r *couponRepoImpl) IncrementUsage(ctx context.Context, tx *gorm.DB, couponID uint) error {
	result := tx.WithContext(ctx).Model(&model.Coupon{}).
		Where("id = ? AND (max_uses IS NULL OR used_count < max_uses)", couponID).
		Updates(map[string]interface{}{
			"used_count": gorm.Expr("used_count + 1"),
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return fmt.Errorf("increment coupon usage: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrCouponExhausted
	}

	return nil
}
