package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"storefront-checkout/internal/model"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrInsufficientStock = errors.New("insufficient stock")

// InsufficientStockError names the product that could not cover a line.
type InsufficientStockError struct {
	ProductID uint
	Title     string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s. Available: %d, requested: %d", e.Title, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// StockLine is a quantity of one product taken from or returned to stock.
type StockLine struct {
	ProductID uint
	Quantity  int
}

// ProductRepository is the inventory ledger. Every stock read that leads to a
// write holds the product row lock until the surrounding transaction ends.
type ProductRepository interface {
	Seed(ctx context.Context) error
	FindByID(ctx context.Context, productID uint) (*model.Product, error)
	LockForUpdate(ctx context.Context, tx *gorm.DB, productID uint) (*model.Product, error)
	CheckAndLock(ctx context.Context, tx *gorm.DB, productID uint, quantity int) (*model.Product, error)
	CheckAndLockAll(ctx context.Context, tx *gorm.DB, lines []StockLine) (map[uint]*model.Product, error)
	Deduct(ctx context.Context, tx *gorm.DB, productID uint, quantity int) error
	DeductAll(ctx context.Context, tx *gorm.DB, lines []StockLine) error
	Restock(ctx context.Context, tx *gorm.DB, productID uint, quantity int) error
	RestockAll(ctx context.Context, tx *gorm.DB, lines []StockLine) error
}

type productRepoImpl struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepoImpl{
		db: db,
	}
}

func (r *productRepoImpl) Seed(ctx context.Context) error {
	products := []model.Product{
		{ID: 1, Title: "Yirgacheffe Coffee 500g", Price: decimal.RequireFromString("450.00"), Stock: 40},
		{ID: 2, Title: "Handwoven Gabi Blanket", Price: decimal.RequireFromString("2300.00"), Stock: 8},
		{ID: 3, Title: "Jebena Clay Pot", Price: decimal.RequireFromString("780.50"), Stock: 15},
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&products).Error
}

func (r *productRepoImpl) FindByID(ctx context.Context, productID uint) (*model.Product, error) {
	var product model.Product
	err := r.db.WithContext(ctx).
		Where("id = ?", productID).
		First(&product).Error

	if err != nil {
		return nil, err
	}

	return &product, nil
}

func (r *productRepoImpl) LockForUpdate(ctx context.Context, tx *gorm.DB, productID uint) (*model.Product, error) {
	var product model.Product
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", productID).
		First(&product).Error

	if err != nil {
		return nil, fmt.Errorf("lock product %d: %w", productID, err)
	}

	return &product, nil
}

func (r *productRepoImpl) CheckAndLock(ctx context.Context, tx *gorm.DB, productID uint, quantity int) (*model.Product, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("invalid quantity %d for product %d", quantity, productID)
	}

	product, err := r.LockForUpdate(ctx, tx, productID)
	if err != nil {
		return nil, err
	}

	if product.Stock < quantity {
		return nil, &InsufficientStockError{
			ProductID: product.ID,
			Title:     product.Title,
			Available: product.Stock,
			Requested: quantity,
		}
	}

	return product, nil
}

func (r *productRepoImpl) CheckAndLockAll(ctx context.Context, tx *gorm.DB, lines []StockLine) (map[uint]*model.Product, error) {
	products := make(map[uint]*model.Product, len(lines))
	for _, line := range mergeLines(lines) {
		product, err := r.CheckAndLock(ctx, tx, line.ProductID, line.Quantity)
		if err != nil {
			return nil, err
		}
		products[product.ID] = product
	}

	return products, nil
}

func (r *productRepoImpl) Deduct(ctx context.Context, tx *gorm.DB, productID uint, quantity int) error {
	product, err := r.CheckAndLock(ctx, tx, productID, quantity)
	if err != nil {
		return err
	}

	result := tx.WithContext(ctx).Model(&model.Product{}).
		Where("id = ? AND stock >= ?", productID, quantity).
		Updates(map[string]interface{}{
			"stock":      gorm.Expr("stock - ?", quantity),
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return fmt.Errorf("deduct stock of product %d: %w", productID, result.Error)
	}
	if result.RowsAffected == 0 {
		return &InsufficientStockError{
			ProductID: product.ID,
			Title:     product.Title,
			Available: product.Stock,
			Requested: quantity,
		}
	}

	return nil
}

func (r *productRepoImpl) DeductAll(ctx context.Context, tx *gorm.DB, lines []StockLine) error {
	for _, line := range mergeLines(lines) {
		if err := r.Deduct(ctx, tx, line.ProductID, line.Quantity); err != nil {
			return err
		}
	}

	return nil
}

func (r *productRepoImpl) Restock(ctx context.Context, tx *gorm.DB, productID uint, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("invalid quantity %d for product %d", quantity, productID)
	}

	if _, err := r.LockForUpdate(ctx, tx, productID); err != nil {
		return err
	}

	return tx.WithContext(ctx).Model(&model.Product{}).
		Where("id = ?", productID).
		Updates(map[string]interface{}{
			"stock":      gorm.Expr("stock + ?", quantity),
			"updated_at": time.Now(),
		}).Error
}

func (r *productRepoImpl) RestockAll(ctx context.Context, tx *gorm.DB, lines []StockLine) error {
	for _, line := range mergeLines(lines) {
		if err := r.Restock(ctx, tx, line.ProductID, line.Quantity); err != nil {
			return err
		}
	}

	return nil
}

// mergeLines sums quantities per product and sorts by product id, which is
// the order row locks must be taken in.
func mergeLines(lines []StockLine) []StockLine {
	totals := make(map[uint]int, len(lines))
	for _, line := range lines {
		totals[line.ProductID] += line.Quantity
	}

	merged := make([]StockLine, 0, len(totals))
	for productID, quantity := range totals {
		merged = append(merged, StockLine{ProductID: productID, Quantity: quantity})
	}
	slices.SortFunc(merged, func(a, b StockLine) int {
		switch {
		case a.ProductID < b.ProductID:
			return -1
		case a.ProductID > b.ProductID:
			return 1
		}
		return 0
	})

	return merged
}
