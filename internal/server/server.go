package server

import (
	"context"
	"log/slog"
	"net/http"
	"storefront-checkout/internal/handler"
	"storefront-checkout/internal/metrics"
	authmw "storefront-checkout/internal/middleware"
	"storefront-checkout/internal/service"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

type Options struct {
	JWTSecret string
	// requests per second per client IP on /api/payments; 0 disables the limit
	PaymentRateLimit float64
	Gatherer         prometheus.Gatherer
	Logger           *slog.Logger
}

type Server struct {
	echo           *echo.Echo
	opts           Options
	orderHandler   *handler.OrderHandler
	paymentHandler *handler.PaymentHandler
	couponHandler  *handler.CouponHandler
	healthHandler  *handler.HealthHandler
}

func NewServer(
	db *gorm.DB,
	orderService service.OrderService,
	paymentService service.PaymentService,
	couponService service.CouponService,
	opts Options,
) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.ErrorHandler(opts.Logger)

	e.Use(requestLogger(opts.Logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:           e,
		opts:           opts,
		orderHandler:   handler.NewOrderHandler(orderService),
		paymentHandler: handler.NewPaymentHandler(paymentService),
		couponHandler:  handler.NewCouponHandler(couponService),
		healthHandler:  handler.NewHealthHandler(db),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler(s.opts.Gatherer)))

	api := s.echo.Group("/api")
	api.GET("/health", s.healthHandler.Health)

	auth := authmw.AuthMiddleware(s.opts.JWTSecret)

	// -------- orders --------
	orders := api.Group("/orders", auth)
	orders.POST("/create", s.orderHandler.CreateOrder)
	orders.GET("", s.orderHandler.ListOrders)
	orders.GET("/:id", s.orderHandler.GetOrder)
	orders.PATCH("/:id/status", s.orderHandler.UpdateStatus, authmw.RequireStaff())
	orders.POST("/:id/cancel", s.orderHandler.CancelOrder)

	// -------- payments --------
	payments := api.Group("/payments")
	if s.opts.PaymentRateLimit > 0 {
		payments.Use(paymentRateLimiter(s.opts.PaymentRateLimit))
	}

	// gateway callback and client polling, no auth
	payments.GET("/verify", s.paymentHandler.VerifyPayment)
	payments.POST("/verify", s.paymentHandler.VerifyPayment)
	payments.GET("/verify/", s.paymentHandler.VerifyPayment)
	payments.POST("/verify/", s.paymentHandler.VerifyPayment)

	payments.POST("/initiate", s.paymentHandler.InitiatePayment, auth)
	payments.GET("", s.paymentHandler.ListPayments, auth)
	payments.GET("/:id", s.paymentHandler.GetPayment, auth)

	// -------- coupons --------
	coupons := api.Group("/coupons", auth)
	coupons.POST("/validate", s.couponHandler.ValidateCoupon)
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", v.RemoteIP),
			}

			level := slog.LevelInfo
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}

			logger.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	})
}

func paymentRateLimiter(perSecond float64) echo.MiddlewareFunc {
	burst := int(perSecond * 2)
	if burst < 1 {
		burst = 1
	}

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(perSecond),
			Burst:     burst,
			ExpiresIn: 3 * time.Minute,
		}),
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, "Too many payment requests, slow down")
		},
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
