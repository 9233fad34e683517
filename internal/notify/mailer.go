package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Email struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type Mailer interface {
	Send(ctx context.Context, email *Email) error
}

// HTTPMailer posts emails to the notification service's email endpoint.
type HTTPMailer struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPMailer(baseURL, apiKey string, logger *slog.Logger) *HTTPMailer {
	return &HTTPMailer{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With(slog.String("component", "http-mailer")),
	}
}

func (m *HTTPMailer) Send(ctx context.Context, email *Email) error {
	body, err := json.Marshal(email)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/v2/notifications/email", m.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	m.logger.Info("email sent", slog.String("to", email.To), slog.String("subject", email.Subject))
	return nil
}

// LogMailer writes emails to the log instead of sending them.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger.With(slog.String("component", "log-mailer"))}
}

func (m *LogMailer) Send(ctx context.Context, email *Email) error {
	m.logger.Info("email",
		slog.String("from", email.From),
		slog.String("to", email.To),
		slog.String("subject", email.Subject),
		slog.String("body", email.Body))
	return nil
}
