package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"storefront-checkout/internal/config"
	"storefront-checkout/internal/model"
	"strings"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type ChapaClient interface {
	InitializeTransaction(ctx context.Context, req *model.ChapaInitializeRequest) (*InitializeTransactionResponse, error)
	VerifyTransaction(ctx context.Context, txRef string) (*model.ChapaTransaction, error)
}

type InitializeTransactionResponse struct {
	CheckoutURL string
}

// StatusError is a non-2xx answer from the gateway.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chapa error %d: %s", e.StatusCode, e.Body)
}

type chapaClientImpl struct {
	httpClient *http.Client
	baseApiURL string
	secretKey  string
	breaker    *gobreaker.CircuitBreaker[[]byte]
}

func NewChapaClient(chapaCfg *config.Chapa, logger *slog.Logger) ChapaClient {
	failures := chapaCfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	return &chapaClientImpl{
		httpClient: &http.Client{
			Timeout:   chapaCfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseApiURL: strings.TrimRight(chapaCfg.BaseApiURL, "/"),
		secretKey:  chapaCfg.SecretKey,
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:    "chapa",
			Timeout: chapaCfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			// a rejected request is the caller's problem, not an outage
			IsSuccessful: func(err error) bool {
				var statusErr *StatusError
				if errors.As(err, &statusErr) {
					return statusErr.StatusCode < http.StatusInternalServerError
				}
				return err == nil
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		}),
	}
}

func (c *chapaClientImpl) InitializeTransaction(ctx context.Context, req *model.ChapaInitializeRequest) (*InitializeTransactionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal req payload: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, c.baseApiURL+"/transaction/initialize", body)
	if err != nil {
		return nil, fmt.Errorf("chapa initialize: %w", err)
	}

	var result model.ChapaInitializeResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode chapa response: %w", err)
	}

	if result.Status != "success" {
		return nil, fmt.Errorf("chapa initialize returned status %q", result.Status)
	}
	if result.Data.CheckoutURL == "" {
		return nil, fmt.Errorf("chapa initialize returned no checkout url")
	}

	return &InitializeTransactionResponse{
		CheckoutURL: result.Data.CheckoutURL,
	}, nil
}

func (c *chapaClientImpl) VerifyTransaction(ctx context.Context, txRef string) (*model.ChapaTransaction, error) {
	verifyURL := fmt.Sprintf("%s/transaction/verify/%s", c.baseApiURL, url.PathEscape(txRef))

	respBody, err := c.do(ctx, http.MethodGet, verifyURL, nil)
	if err != nil {
		return nil, fmt.Errorf("chapa verify: %w", err)
	}

	var result model.ChapaVerifyResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode chapa response: %w", err)
	}

	if result.Status != "success" {
		return nil, fmt.Errorf("chapa verify returned status %q", result.Status)
	}

	return &result.Data, nil
}

func (c *chapaClientImpl) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	return c.breaker.Execute(func() ([]byte, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, fmt.Errorf("http new request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.secretKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http client do: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
		}

		return respBody, nil
	})
}
