package repository

import (
	"context"
	"storefront-checkout/internal/model"

	"gorm.io/gorm"
)

type AddressRepository interface {
	FindByID(ctx context.Context, addressID uint) (*model.Address, error)
	FindForUser(ctx context.Context, addressID, userID uint) (*model.Address, error)
}

type addressRepoImpl struct {
	db *gorm.DB
}

func NewAddressRepository(db *gorm.DB) AddressRepository {
	return &addressRepoImpl{
		db: db,
	}
}

func (r *addressRepoImpl) FindByID(ctx context.Context, addressID uint) (*model.Address, error) {
	var address model.Address
	err := r.db.WithContext(ctx).
		Where("id = ?", addressID).
		First(&address).Error

	if err != nil {
		return nil, err
	}

	return &address, nil
}

func (r *addressRepoImpl) FindForUser(ctx context.Context, addressID, userID uint) (*model.Address, error) {
	var address model.Address
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", addressID, userID).
		First(&address).Error

	if err != nil {
		return nil, err
	}

	return &address, nil
}
