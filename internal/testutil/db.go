// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"fmt"
	"storefront-checkout/internal/model"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a private in-memory sqlite database with the full schema.
// It has a single connection, so transactions run one at a time.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(model.All()...))

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

func Money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func AssertMoney(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	assert.Truef(t, Money(expected).Equal(actual), "expected %s, got %s", expected, actual.String())
}

func CreateUser(t *testing.T, db *gorm.DB, username string, staff bool) *model.User {
	t.Helper()

	user := &model.User{
		Email:     username + "@example.com",
		Username:  username,
		FirstName: "Test",
		LastName:  username,
		IsStaff:   staff,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func CreateAddress(t *testing.T, db *gorm.DB, userID uint) *model.Address {
	t.Helper()

	address := &model.Address{
		UserID:       userID,
		FullName:     "Test Customer",
		PhoneNumber:  "+251911000000",
		AddressLine1: "Bole Road 12",
		City:         "Addis Ababa",
		Country:      "Ethiopia",
	}
	require.NoError(t, db.Create(address).Error)
	return address
}

func CreateProduct(t *testing.T, db *gorm.DB, title, price string, stock int) *model.Product {
	t.Helper()

	product := &model.Product{
		Title: title,
		Price: Money(price),
		Stock: stock,
	}
	require.NoError(t, db.Create(product).Error)
	return product
}

func ProductStock(t *testing.T, db *gorm.DB, productID uint) int {
	t.Helper()

	var product model.Product
	require.NoError(t, db.First(&product, productID).Error)
	return product.Stock
}

// AddToCart puts quantity units of a product in the user's cart, creating the cart if needed.
func AddToCart(t *testing.T, db *gorm.DB, userID, productID uint, quantity int) {
	t.Helper()

	cart := model.Cart{UserID: userID}
	require.NoError(t, db.Where(model.Cart{UserID: userID}).FirstOrCreate(&cart).Error)
	require.NoError(t, db.Create(&model.CartItem{
		CartID:    cart.ID,
		ProductID: productID,
		Quantity:  quantity,
	}).Error)
}

func CartItemCount(t *testing.T, db *gorm.DB, userID uint) int64 {
	t.Helper()

	var count int64
	require.NoError(t, db.Model(&model.CartItem{}).
		Joins("JOIN carts ON carts.id = cart_items.cart_id").
		Where("carts.user_id = ?", userID).
		Count(&count).Error)
	return count
}

// ActiveCoupon returns an unsaved coupon valid for a day either side of now.
func ActiveCoupon(code string, discountType model.DiscountType, value, minPurchase string) model.Coupon {
	now := time.Now()
	return model.Coupon{
		Code:              code,
		DiscountType:      discountType,
		DiscountValue:     Money(value),
		MinPurchaseAmount: Money(minPurchase),
		ValidFrom:         now.Add(-24 * time.Hour),
		ValidTo:           now.Add(24 * time.Hour),
		IsActive:          true,
	}
}

func CreateCoupon(t *testing.T, db *gorm.DB, coupon model.Coupon) *model.Coupon {
	t.Helper()

	require.NoError(t, db.Create(&coupon).Error)
	return &coupon
}

func IntPtr(v int) *int {
	return &v
}
