package service

import (
	"errors"
	"storefront-checkout/internal/apperr"
	"storefront-checkout/internal/repository"
)

// classify turns a failed transaction into an apperr kind. Errors that already
// carry a kind pass through unchanged.
func classify(err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}

	var stockErr *repository.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		return apperr.Conflict("%s", stockErr.Error())
	case errors.Is(err, repository.ErrCouponExhausted):
		return apperr.Conflict("Coupon usage limit reached")
	case errors.Is(err, repository.ErrOrderStateChanged):
		return apperr.Conflict("Order was modified concurrently, please retry")
	}

	return apperr.Wrap(apperr.KindInternal, err, "internal error")
}
