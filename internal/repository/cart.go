package repository

import (
	"context"
	"storefront-checkout/internal/model"

	"gorm.io/gorm"
)

type CartRepository interface {
	FindByUser(ctx context.Context, tx *gorm.DB, userID uint) (*model.Cart, error)
	Clear(ctx context.Context, tx *gorm.DB, cartID uint) error
}

type cartRepoImpl struct {
	db *gorm.DB
}

func NewCartRepository(db *gorm.DB) CartRepository {
	return &cartRepoImpl{
		db: db,
	}
}

// FindByUser loads the cart with its items and their live products.
func (r *cartRepoImpl) FindByUser(ctx context.Context, tx *gorm.DB, userID uint) (*model.Cart, error) {
	if tx == nil {
		tx = r.db
	}

	var cart model.Cart
	err := tx.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("product_id")
		}).
		Preload("Items.Product").
		Where("user_id = ?", userID).
		First(&cart).Error

	if err != nil {
		return nil, err
	}

	return &cart, nil
}

func (r *cartRepoImpl) Clear(ctx context.Context, tx *gorm.DB, cartID uint) error {
	return tx.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Delete(&model.CartItem{}).Error
}
