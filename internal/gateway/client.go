// Package gateway is the HTTP client for the external payment gateway.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"billing-workers/internal/common/config"
	"billing-workers/internal/common/errors"
	"billing-workers/internal/common/logger"
)

const subscriptionTypeMonthlyAuto = "monthly_auto"

type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	logger     logger.Logger

	linkAmount    float64
	linkCurrency  string
	linkReturnURL string
}

func NewClient(cfg config.GatewayConfig, log logger.Logger) *Client {
	return &Client{
		baseURL:   cfg.BaseURL,
		secretKey: cfg.SecretKey,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Millisecond,
		},
		logger:        log.WithFields(map[string]interface{}{"component": "gateway"}),
		linkAmount:    cfg.LinkAmount,
		linkCurrency:  cfg.LinkCurrency,
		linkReturnURL: cfg.LinkReturnURL,
	}
}

// CreateCharge creates an automatic charge against a saved instrument. The
// Idempotence-Key header makes a retried attempt after a timeout converge on
// one gateway-side charge instead of creating a second one.
//
// Outcome classification: transport failures, timeouts and 5xx responses are
// retryable (the charge may still have completed; the webhook settles it);
// a 4xx response is a terminal rejection.
func (c *Client) CreateCharge(ctx context.Context, req ChargeRequest) (*Payment, error) {
	body := createPaymentBody{
		Amount: Amount{
			Value:    formatAmount(req.Amount),
			Currency: req.Currency,
		},
		Capture:     true,
		Description: req.Description,
		Metadata: Metadata{
			UserID:           strconv.FormatInt(req.UserID, 10),
			SubscriptionType: subscriptionTypeMonthlyAuto,
			AutoPayment:      true,
		},
		PaymentMethodID: req.MethodRef,
	}

	payment, err := c.createPayment(ctx, body, req.IdempotenceKey)
	if err != nil {
		return nil, err
	}

	c.logger.Info("auto-payment created", map[string]interface{}{
		"userId":    req.UserID,
		"paymentId": payment.ID,
		"status":    payment.Status,
	})
	return payment, nil
}

// CreatePaymentLink creates a user-confirmed payment and returns the redirect
// URL. The instrument is saved on confirmation for future auto-charges.
func (c *Client) CreatePaymentLink(ctx context.Context, userID int64) (string, error) {
	body := createPaymentBody{
		Amount: Amount{
			Value:    formatAmount(c.linkAmount),
			Currency: c.linkCurrency,
		},
		Capture:     true,
		Description: "Subscription payment",
		Metadata: Metadata{
			UserID:           strconv.FormatInt(userID, 10),
			SubscriptionType: subscriptionTypeMonthlyAuto,
			AutoPayment:      true,
		},
		SavePaymentMethod: true,
		Confirmation: &confirmation{
			Type:      "redirect",
			ReturnURL: c.linkReturnURL,
		},
	}

	payment, err := c.createPayment(ctx, body, uuid.New().String())
	if err != nil {
		return "", err
	}
	return payment.Confirmation.ConfirmationURL, nil
}

func (c *Client) createPayment(ctx context.Context, body createPaymentBody, idempotenceKey string) (*Payment, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment request: %w", err)
	}

	url := fmt.Sprintf("%s/payments", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Idempotence-Key", idempotenceKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewGatewayUnavailableError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewGatewayUnavailableError(err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var payment Payment
		if err := json.Unmarshal(respBody, &payment); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payment response: %w", err)
		}
		if payment.ID == "" {
			return nil, fmt.Errorf("payment response missing id")
		}
		return &payment, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, errors.NewChargeRejectedError(
			fmt.Sprintf("status %d: %s", resp.StatusCode, string(respBody)))

	default:
		return nil, errors.NewGatewayUnavailableError(
			fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}
