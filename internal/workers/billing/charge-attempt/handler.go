// internal/workers/billing/charge-attempt/handler.go
package chargeattempt

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"billing-workers/internal/common/errors"
	"billing-workers/internal/common/logger"
	"billing-workers/internal/common/metrics"
	"billing-workers/internal/gateway"
	"billing-workers/internal/ledger"
	"billing-workers/internal/notify"
)

const TaskType = "charge-attempt"

// Ledger is the subset of the store used by this worker.
type Ledger interface {
	GetSubscription(ctx context.Context, userID int64) (*ledger.Subscription, error)
	GetPaymentMethod(ctx context.Context, userID int64) (string, error)
	RecordCharge(ctx context.Context, rec ledger.ChargeRecord) (bool, error)
	Deactivate(ctx context.Context, userID int64) error
}

// Gateway creates charges at the external payment gateway.
type Gateway interface {
	CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Payment, error)
}

type Handler struct {
	config   *Config
	ledger   Ledger
	gateway  Gateway
	notifier notify.Notifier
	logger   logger.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewHandler(config *Config, ldg Ledger, gw Gateway, notifier notify.Notifier, log logger.Logger) *Handler {
	return &Handler{
		config:   config,
		ledger:   ldg,
		gateway:  gw,
		notifier: notifier,
		logger:   log.WithFields(map[string]interface{}{"taskType": TaskType}),
		sleep:    sleepCtx,
	}
}

// Execute attempts one automatic charge and converges the ledger to a
// terminal state for the attempt. The subscription is re-read first: a page
// snapshot from the scheduler may be stale because a webhook can deactivate
// the subscriber mid-scan.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	started := time.Now()
	out, err := h.execute(ctx, input)
	if out != nil {
		metrics.ChargeAttemptsTotal.WithLabelValues(out.Status).Inc()
		metrics.ChargeAttemptDuration.Observe(time.Since(started).Seconds())
	}
	return out, err
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	sub, err := h.ledger.GetSubscription(ctx, input.UserID)
	if err != nil {
		if stderrors.Is(err, ledger.ErrSubscriptionNotFound) {
			h.logger.Warn("subscription disappeared before charge", map[string]interface{}{
				"userId": input.UserID,
			})
			return h.skipped(input.UserID, "subscription_not_found"), nil
		}
		return nil, err
	}

	if !sub.IsActive {
		h.logger.Info("subscription deactivated before charge, skipping", map[string]interface{}{
			"userId": input.UserID,
		})
		return h.skipped(input.UserID, "inactive"), nil
	}

	methodRef, err := h.ledger.GetPaymentMethod(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	if methodRef == "" {
		h.logger.WithError(errors.NewMissingPaymentMethodError(input.UserID)).
			Warn("no saved payment method, skipping charge", map[string]interface{}{
				"userId": input.UserID,
			})
		return h.skipped(input.UserID, "missing_payment_method"), nil
	}

	req := gateway.ChargeRequest{
		UserID:      input.UserID,
		Amount:      sub.Amount,
		Currency:    sub.Currency,
		Description: "Automatic subscription renewal",
		MethodRef:   methodRef,
		// Stable across the whole retry budget, unique per renewal cycle:
		// a retried attempt after a timeout converges on one gateway charge.
		IdempotenceKey: fmt.Sprintf("auto-%d-%d", input.UserID, sub.Until.Unix()),
	}

	payment, chargeErr := h.chargeWithRetry(ctx, req)
	if chargeErr != nil {
		if ctx.Err() != nil {
			return nil, chargeErr
		}
		return h.handleFailure(ctx, input.UserID, chargeErr)
	}

	return h.handleSuccess(ctx, sub, methodRef, payment)
}

// chargeWithRetry calls the gateway up to MaxAttempts times with exponential
// backoff, capped, for retryable failures only. A terminal rejection
// short-circuits without exhausting the budget.
func (h *Handler) chargeWithRetry(ctx context.Context, req gateway.ChargeRequest) (*gateway.Payment, error) {
	var lastErr error
	delay := h.config.InitialBackoff

	for attempt := 1; attempt <= h.config.MaxAttempts; attempt++ {
		payment, err := h.gateway.CreateCharge(ctx, req)
		if err == nil {
			return payment, nil
		}
		lastErr = err

		if !errors.IsRetryable(err) {
			h.logger.Info("charge rejected by gateway", map[string]interface{}{
				"userId": req.UserID,
				"error":  err.Error(),
			})
			return nil, err
		}

		if attempt < h.config.MaxAttempts {
			h.logger.Warn("charge attempt failed, retrying", map[string]interface{}{
				"userId":      req.UserID,
				"attempt":     attempt,
				"maxAttempts": h.config.MaxAttempts,
				"nextRetryIn": delay.String(),
			})
			if err := h.sleep(ctx, delay); err != nil {
				return nil, lastErr
			}
			delay *= 2
			if delay > h.config.MaxBackoff {
				delay = h.config.MaxBackoff
			}
		}
	}

	return nil, lastErr
}

func (h *Handler) handleSuccess(ctx context.Context, sub *ledger.Subscription, methodRef string, payment *gateway.Payment) (*Output, error) {
	period := sub.Period
	if period == "" || period == ledger.PeriodTrial {
		period = ledger.PeriodMonth
	}

	// Prefer the instrument echoed by the gateway; it may have been rotated.
	newMethodRef := methodRef
	if payment.PaymentMethod.Saved && payment.PaymentMethod.ID != "" {
		newMethodRef = payment.PaymentMethod.ID
	}

	recorded, err := h.ledger.RecordCharge(ctx, ledger.ChargeRecord{
		UserID:    sub.UserID,
		PaymentID: payment.ID,
		Amount:    sub.Amount,
		Currency:  sub.Currency,
		Period:    period,
		MethodRef: newMethodRef,
	})
	if err != nil {
		return nil, err
	}

	if recorded {
		if nerr := h.notifier.AutoChargeSucceeded(ctx, sub.UserID); nerr != nil {
			h.logger.Warn("success notification failed", map[string]interface{}{
				"userId": sub.UserID,
				"error":  nerr.Error(),
			})
		}
	}

	h.logger.Info("auto-charge completed", map[string]interface{}{
		"userId":    sub.UserID,
		"paymentId": payment.ID,
		"recorded":  recorded,
	})

	return &Output{
		UserID:    sub.UserID,
		Status:    StatusCharged,
		PaymentID: payment.ID,
	}, nil
}

func (h *Handler) handleFailure(ctx context.Context, userID int64, chargeErr error) (*Output, error) {
	if err := h.ledger.Deactivate(ctx, userID); err != nil {
		return nil, err
	}

	if nerr := h.notifier.AutoChargeFailed(ctx, userID); nerr != nil {
		h.logger.Warn("failure notification failed", map[string]interface{}{
			"userId": userID,
			"error":  nerr.Error(),
		})
	}

	reason := "retries_exhausted"
	if errors.HasCode(chargeErr, errors.ErrCodeChargeRejected) {
		reason = "rejected"
	}

	h.logger.Info("auto-charge failed, subscription deactivated", map[string]interface{}{
		"userId": userID,
		"reason": reason,
		"error":  chargeErr.Error(),
	})

	return &Output{
		UserID: userID,
		Status: StatusDeactivated,
		Reason: reason,
	}, nil
}

func (h *Handler) skipped(userID int64, reason string) *Output {
	return &Output{UserID: userID, Status: StatusSkipped, Reason: reason}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
