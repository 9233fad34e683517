package handler

import (
	"net/http"
	"storefront-checkout/internal/dto"
	"storefront-checkout/internal/middleware"
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/service"

	"github.com/labstack/echo/v4"
)

type PaymentHandler struct {
	paymentService service.PaymentService
}

func NewPaymentHandler(paymentService service.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
	}
}

func (h *PaymentHandler) InitiatePayment(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.InitiatePaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	result, err := h.paymentService.InitiatePayment(ctx, middleware.UserID(c), &req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, result)
}

type verifyRequest struct {
	TxRef  string `query:"tx_ref" json:"tx_ref" form:"tx_ref"`
	TrxRef string `query:"trx_ref" json:"trx_ref" form:"trx_ref"`
}

// VerifyPayment serves both the gateway callback and client polling, so it
// is not authenticated. Chapa sends the reference as trx_ref.
func (h *PaymentHandler) VerifyPayment(c echo.Context) error {
	ctx := c.Request().Context()

	var req verifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	txRef := firstNonEmpty(req.TxRef, req.TrxRef, c.QueryParam("tx_ref"), c.QueryParam("trx_ref"))

	result, err := h.paymentService.VerifyPayment(ctx, txRef)
	if err != nil {
		return err
	}

	status := http.StatusOK
	if result.Status == model.PaymentStatusFailed || result.Status == model.PaymentStatusCancelled {
		status = http.StatusBadRequest
	}

	return c.JSON(status, result)
}

func (h *PaymentHandler) ListPayments(c echo.Context) error {
	payments, err := h.paymentService.ListPayments(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, payments)
}

func (h *PaymentHandler) GetPayment(c echo.Context) error {
	payment, err := h.paymentService.GetPayment(c.Request().Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, payment)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
