package main

import (
	"bytes"
	"log/slog"
	"testing"

	"storefront-checkout/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestWarnDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	cfg := &config.Config{}
	cfg.Checkout.StockPolicy = "reserve"
	cfg.Checkout.StockPolicyDefaulted = true
	warnDefaults(cfg, logger)

	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "CHECKOUT_STOCK_POLICY not set")
	assert.Contains(t, buf.String(), "stock_policy=reserve")

	buf.Reset()
	cfg.Checkout.StockPolicyDefaulted = false
	warnDefaults(cfg, logger)
	assert.Empty(t, buf.String())
}
