// internal/workers/billing/reconcile-subscriptions/handler.go
package reconcilesubscriptions

import (
	"context"
	"time"

	"billing-workers/internal/common/logger"
	"billing-workers/internal/common/metrics"
	"billing-workers/internal/common/observability"
	"billing-workers/internal/ledger"
	"billing-workers/internal/notify"
	chargeattempt "billing-workers/internal/workers/billing/charge-attempt"
)

const TaskType = "reconcile-subscriptions"

// Ledger is the subset of the store used by this worker.
type Ledger interface {
	ListActive(ctx context.Context, limit, offset int) ([]ledger.Subscription, error)
}

// Charger executes one automatic charge attempt.
type Charger interface {
	Execute(ctx context.Context, input *chargeattempt.Input) (*chargeattempt.Output, error)
}

type Handler struct {
	config   *Config
	ledger   Ledger
	charger  Charger
	notifier notify.Notifier
	obs      *observability.Observability
	logger   logger.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewHandler(config *Config, ldg Ledger, charger Charger, notifier notify.Notifier, obs *observability.Observability, log logger.Logger) *Handler {
	return &Handler{
		config:   config,
		ledger:   ldg,
		charger:  charger,
		notifier: notifier,
		obs:      obs,
		logger:   log.WithFields(map[string]interface{}{"taskType": TaskType}),
		now:      func() time.Time { return time.Now().UTC() },
		sleep:    sleepCtx,
	}
}

// Run drives reconciliation cycles until the context is cancelled. A cycle
// abort (ledger connectivity) is logged and retried at the next interval; the
// loop keeps no state between cycles beyond the ledger itself.
func (h *Handler) Run(ctx context.Context) error {
	for {
		if err := h.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			h.logger.Error("reconciliation cycle aborted", map[string]interface{}{
				"error": err.Error(),
			})
		}

		if err := h.sleep(ctx, h.config.CycleInterval); err != nil {
			return err
		}
	}
}

// RunCycle pages through all active subscriptions once. Due subscribers are
// charged; soon-due subscribers get a best-effort reminder. Failures local to
// one subscriber never abort the batch; a failed page read does.
func (h *Handler) RunCycle(ctx context.Context) error {
	started := h.now()
	h.logger.Info("reconciliation cycle started", nil)

	offset := 0
	visited := 0

	for {
		page, err := h.ledger.ListActive(ctx, h.config.PageSize, offset)
		if err != nil {
			metrics.ReconcileCyclesTotal.WithLabelValues("aborted").Inc()
			return err
		}
		if len(page) == 0 {
			break
		}

		now := h.now()
		for i := range page {
			sub := &page[i]
			metrics.SubscriptionsScanned.Inc()
			visited++

			switch {
			case sub.IsActive && now.After(sub.Until):
				h.chargeOne(ctx, sub)

			case sub.Until.Sub(now) <= h.config.ReminderWindow:
				// Best effort; a missed reminder never blocks billing.
				if err := h.notifier.RenewalReminder(ctx, sub.UserID, sub.Until); err != nil {
					h.logger.Warn("renewal reminder failed", map[string]interface{}{
						"userId": sub.UserID,
						"error":  err.Error(),
					})
				}
			}
		}

		offset += h.config.PageSize
		if err := h.sleep(ctx, h.config.PageDelay); err != nil {
			return err
		}
	}

	metrics.ReconcileCyclesTotal.WithLabelValues("completed").Inc()
	h.logger.Info("reconciliation cycle completed", map[string]interface{}{
		"visited":  visited,
		"duration": h.now().Sub(started).String(),
	})
	return nil
}

func (h *Handler) chargeOne(ctx context.Context, sub *ledger.Subscription) {
	started := time.Now()
	out, err := h.charger.Execute(ctx, &chargeattempt.Input{UserID: sub.UserID})
	if err != nil {
		// Typically ledger connectivity mid-attempt. The subscriber stays
		// due and is picked up again next cycle.
		h.logger.Error("charge attempt errored, leaving for next cycle", map[string]interface{}{
			"userId": sub.UserID,
			"error":  err.Error(),
		})
		if h.obs != nil {
			h.obs.RecordChargeProcessed(ctx, "error")
		}
		return
	}

	if h.obs != nil {
		h.obs.RecordChargeProcessed(ctx, out.Status)
		h.obs.RecordChargeDuration(ctx, time.Since(started), out.Status)
	}
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
