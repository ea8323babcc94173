// internal/workers/billing/process-webhook/handler.go
package processwebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/xeipuuv/gojsonschema"

	"billing-workers/internal/common/errors"
	"billing-workers/internal/common/logger"
	"billing-workers/internal/common/metrics"
	"billing-workers/internal/ledger"
	"billing-workers/internal/notify"
)

const TaskType = "process-webhook"

// Ledger is the subset of the store used by this worker.
type Ledger interface {
	RecordCharge(ctx context.Context, rec ledger.ChargeRecord) (bool, error)
	Deactivate(ctx context.Context, userID int64) error
}

type Handler struct {
	config   *Config
	ledger   Ledger
	notifier notify.Notifier
	redis    *redis.Client
	schema   *gojsonschema.Schema
	logger   logger.Logger
}

func NewHandler(config *Config, ldg Ledger, notifier notify.Notifier, redisClient *redis.Client, log logger.Logger) (*Handler, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(eventSchema))
	if err != nil {
		return nil, fmt.Errorf("compile webhook schema: %w", err)
	}

	return &Handler{
		config:   config,
		ledger:   ldg,
		notifier: notifier,
		redis:    redisClient,
		schema:   schema,
		logger:   log.WithFields(map[string]interface{}{"taskType": TaskType}),
	}, nil
}

// Process applies one webhook event to the ledger. The gateway delivers
// at-least-once, so every effect here must be safe to repeat: the transaction
// uniqueness constraint dedupes recordings, and status flips are idempotent.
func (h *Handler) Process(ctx context.Context, raw []byte) error {
	event, err := h.decode(raw)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("invalid", OutcomeIgnored).Inc()
		return err
	}

	userID, err := strconv.ParseInt(event.Object.Metadata.UserID, 10, 64)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(event.Event, OutcomeIgnored).Inc()
		return errors.NewWebhookInvalidError(
			fmt.Sprintf("bad user_id %q: %v", event.Object.Metadata.UserID, err))
	}

	// Fast-path dedup for gateway retransmissions. Best effort only: the
	// transaction uniqueness constraint stays the authority, and redis
	// trouble must never block event processing.
	if h.seenRecently(ctx, event) {
		metrics.WebhookEventsTotal.WithLabelValues(event.Event, OutcomeDuplicate).Inc()
		h.logger.Debug("event already seen, skipping", map[string]interface{}{
			"event":     event.Event,
			"paymentId": event.Object.ID,
		})
		return nil
	}

	var outcome string
	switch event.Event {
	case EventPaymentSucceeded:
		outcome, err = h.handleSucceeded(ctx, userID, event)
	case EventPaymentCanceled:
		outcome, err = h.handleCanceled(ctx, userID, event)
	default:
		h.logger.Warn("unrecognized event type, ignoring", map[string]interface{}{
			"event":     event.Event,
			"paymentId": event.Object.ID,
		})
		outcome = OutcomeIgnored
	}
	if err != nil {
		// The ledger write failed. Clear the dedup marker so the gateway's
		// redelivery of this event is processed instead of being suppressed
		// for the whole DedupTTL; redelivery is the recovery path here.
		h.forget(ctx, event)
		return err
	}

	metrics.WebhookEventsTotal.WithLabelValues(event.Event, outcome).Inc()
	return nil
}

func (h *Handler) decode(raw []byte) (*Event, error) {
	result, err := h.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, errors.NewWebhookInvalidError(err.Error())
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return nil, errors.NewWebhookInvalidError(strings.Join(details, "; "))
	}

	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, errors.NewWebhookInvalidError(err.Error())
	}
	return &event, nil
}

func (h *Handler) handleSucceeded(ctx context.Context, userID int64, event *Event) (string, error) {
	amount, err := strconv.ParseFloat(event.Object.Amount.Value, 64)
	if err != nil {
		return "", errors.NewWebhookInvalidError(
			fmt.Sprintf("bad amount %q: %v", event.Object.Amount.Value, err))
	}

	rec := ledger.ChargeRecord{
		UserID:    userID,
		PaymentID: event.Object.ID,
		Amount:    amount,
		Currency:  event.Object.Amount.Currency,
		Period:    ledger.PeriodMonth,
	}

	isAuto := event.Object.Metadata.AutoPayment && event.Object.PaymentMethod.Saved
	if isAuto {
		// Automatic renewal confirmation: same ledger effect as executor
		// success, including the instrument refresh.
		rec.MethodRef = event.Object.PaymentMethod.ID
	}
	// A manual/one-off payment records and activates, but puts no instrument
	// on file for future auto-charges.

	recorded, err := h.ledger.RecordCharge(ctx, rec)
	if err != nil {
		return "", err
	}
	if !recorded {
		return OutcomeDuplicate, nil
	}

	if isAuto {
		if nerr := h.notifier.AutoChargeSucceeded(ctx, userID); nerr != nil {
			h.logger.Warn("success notification failed", map[string]interface{}{
				"userId": userID,
				"error":  nerr.Error(),
			})
		}
	}

	h.logger.Info("payment recorded from webhook", map[string]interface{}{
		"userId":    userID,
		"paymentId": event.Object.ID,
		"auto":      isAuto,
	})
	return OutcomeRecorded, nil
}

func (h *Handler) handleCanceled(ctx context.Context, userID int64, event *Event) (string, error) {
	reason := event.Object.CancellationDetails.Reason

	h.logger.Info("payment canceled", map[string]interface{}{
		"userId":    userID,
		"paymentId": event.Object.ID,
		"initiator": event.Object.CancellationDetails.Party,
		"reason":    reason,
	})

	// The charge was never started by the user; the ledger stays untouched.
	if reason == ReasonExpiredOnConfirmation {
		return OutcomeIgnored, nil
	}

	// A declined manual payment never granted access, nothing to revoke.
	if !event.Object.Metadata.AutoPayment {
		return OutcomeIgnored, nil
	}

	if err := h.ledger.Deactivate(ctx, userID); err != nil {
		return "", err
	}

	if nerr := h.notifier.AutoChargeFailed(ctx, userID); nerr != nil {
		h.logger.Warn("failure notification failed", map[string]interface{}{
			"userId": userID,
			"error":  nerr.Error(),
		})
	}

	return OutcomeDeactivated, nil
}

func (h *Handler) seenRecently(ctx context.Context, event *Event) bool {
	if h.redis == nil {
		return false
	}

	fresh, err := h.redis.SetNX(ctx, dedupKey(event), 1, h.config.DedupTTL).Result()
	if err != nil {
		h.logger.Warn("dedup cache unavailable, processing anyway", map[string]interface{}{
			"error": err.Error(),
		})
		return false
	}
	return !fresh
}

func (h *Handler) forget(ctx context.Context, event *Event) {
	if h.redis == nil {
		return
	}
	if err := h.redis.Del(ctx, dedupKey(event)).Err(); err != nil {
		h.logger.Warn("dedup marker cleanup failed", map[string]interface{}{
			"event":     event.Event,
			"paymentId": event.Object.ID,
			"error":     err.Error(),
		})
	}
}

func dedupKey(event *Event) string {
	return fmt.Sprintf("webhook:%s:%s", event.Event, event.Object.ID)
}
