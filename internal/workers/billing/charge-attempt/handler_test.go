// internal/workers/billing/charge-attempt/handler_test.go
package chargeattempt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"billing-workers/internal/common/errors"
	"billing-workers/internal/common/logger"
	"billing-workers/internal/gateway"
	"billing-workers/internal/ledger"
	"billing-workers/internal/notify"
)

// ==========================
// Mock Implementations
// ==========================

type mockLedger struct {
	GetSubscriptionFunc  func(ctx context.Context, userID int64) (*ledger.Subscription, error)
	GetPaymentMethodFunc func(ctx context.Context, userID int64) (string, error)
	RecordChargeFunc     func(ctx context.Context, rec ledger.ChargeRecord) (bool, error)
	DeactivateFunc       func(ctx context.Context, userID int64) error

	recordedCharges []ledger.ChargeRecord
	deactivated     []int64
}

func (m *mockLedger) GetSubscription(ctx context.Context, userID int64) (*ledger.Subscription, error) {
	return m.GetSubscriptionFunc(ctx, userID)
}

func (m *mockLedger) GetPaymentMethod(ctx context.Context, userID int64) (string, error) {
	return m.GetPaymentMethodFunc(ctx, userID)
}

func (m *mockLedger) RecordCharge(ctx context.Context, rec ledger.ChargeRecord) (bool, error) {
	m.recordedCharges = append(m.recordedCharges, rec)
	if m.RecordChargeFunc != nil {
		return m.RecordChargeFunc(ctx, rec)
	}
	return true, nil
}

func (m *mockLedger) Deactivate(ctx context.Context, userID int64) error {
	m.deactivated = append(m.deactivated, userID)
	if m.DeactivateFunc != nil {
		return m.DeactivateFunc(ctx, userID)
	}
	return nil
}

type mockGateway struct {
	CreateChargeFunc func(ctx context.Context, req gateway.ChargeRequest) (*gateway.Payment, error)

	requests []gateway.ChargeRequest
}

func (m *mockGateway) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Payment, error) {
	m.requests = append(m.requests, req)
	return m.CreateChargeFunc(ctx, req)
}

// ==========================
// Test Helper Functions
// ==========================

var testUntil = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func activeSubscription(userID int64) *ledger.Subscription {
	return &ledger.Subscription{
		UserID:   userID,
		Amount:   199.00,
		Currency: "RUB",
		Period:   ledger.PeriodMonth,
		IsActive: true,
		Until:    testUntil,
	}
}

func savedPayment(id string) *gateway.Payment {
	p := &gateway.Payment{ID: id, Status: "succeeded", Paid: true}
	p.PaymentMethod.ID = "pm-123"
	p.PaymentMethod.Saved = true
	return p
}

// newTestHandler wires a handler with instant sleeps and records the delays
// the retry loop asked for.
func newTestHandler(t *testing.T, ldg *mockLedger, gw *mockGateway) (*Handler, *[]time.Duration) {
	h := NewHandler(&Config{
		MaxAttempts:    3,
		InitialBackoff: 4 * time.Second,
		MaxBackoff:     10 * time.Second,
	}, ldg, gw, notify.Noop{}, logger.NewTestLogger(t))

	delays := &[]time.Duration{}
	h.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return h, delays
}

// ==========================
// Success path
// ==========================

func TestHandler_Execute_ChargeSucceeds(t *testing.T) {
	ldg := &mockLedger{
		GetSubscriptionFunc: func(ctx context.Context, userID int64) (*ledger.Subscription, error) {
			return activeSubscription(userID), nil
		},
		GetPaymentMethodFunc: func(ctx context.Context, userID int64) (string, error) {
			return "pm-old", nil
		},
	}
	gw := &mockGateway{
		CreateChargeFunc: func(ctx context.Context, req gateway.ChargeRequest) (*gateway.Payment, error) {
			return savedPayment("pay-001"), nil
		},
	}
	h, delays := newTestHandler(t, ldg, gw)

	out, err := h.Execute(context.Background(), &Input{UserID: 42})

	require.NoError(t, err)
	assert.Equal(t, StatusCharged, out.Status)
	assert.Equal(t, "pay-001", out.PaymentID)
	assert.Empty(t, *delays)

	require.Len(t, gw.requests, 1)
	req := gw.requests[0]
	assert.Equal(t, "auto-42-1717243200", req.IdempotenceKey)
	assert.Equal(t, "pm-old", req.MethodRef)
	assert.Equal(t, 199.00, req.Amount)

	require.Len(t, ldg.recordedCharges, 1)
	rec := ldg.recordedCharges[0]
	assert.Equal(t, "pay-001", rec.PaymentID)
	assert.Equal(t, ledger.PeriodMonth, rec.Period)
	// Gateway echoed a saved instrument; it replaces the one on file.
	assert.Equal(t, "pm-123", rec.MethodRef)
}

func TestHandler_Execute_TrialRollsOverToMonth(t *testing.T) {
	ldg := &mockLedger{
		GetSubscriptionFunc: func(ctx context.Context, userID int64) (*ledger.Subscription, error) {
			sub := activeSubscription(userID)
			sub.Period = ledger.PeriodTrial
			sub.Trial = true
			return sub, nil
		},
		GetPaymentMethodFunc: func(ctx context.Context, userID int64) (string, error) {
			return "pm-old", nil
		},
	}
	gw := &mockGateway{
		CreateChargeFunc: func(ctx context.Context, req gateway.ChargeRequest) (*gateway.Payment, error) {
			return savedPayment("pay-002"), nil
		},
	}
	h, _ := newTestHandler(t, ldg, gw)

	out, err := h.Execute(context.Background(), &Input{UserID: 42})

	require.NoError(t, err)
	assert.Equal(t, StatusCharged, out.Status)
	require.Len(t, ldg.recordedCharges, 1)
	assert.Equal(t, ledger.PeriodMonth, ldg.recordedCharges[0].Period)
}

func TestHandler_Execute_TransientFailureThenSuccess(t *testing.T) {
	ldg := &mockLedger{
		GetSubscriptionFunc: func(ctx context.Context, userID int64) (*ledger.Subscription, error) {
			return activeSubscription(userID), nil
		},
		GetPaymentMethodFunc: func(ctx context.Context, userID int64) (string, error) {
			return "pm-old", nil
		},
	}
	calls := 0
	gw := &mockGateway{
		CreateChargeFunc: func(ctx context.Context, req gateway.ChargeRequest) (*gateway.Payment, error) {
			calls++
			if calls < 3 {
				return nil, errors.NewGatewayUnavailableError(context.DeadlineExceeded)
			}
			return savedPayment("pay-003"), nil
		},
	}
	h, delays := newTestHandler(t, ldg, gw)

	out, err := h.Execute(context.Background(), &Input{UserID: 42})

	require.NoError(t, err)
	assert.Equal(t, StatusCharged, out.Status)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{4 * time.Second, 8 * time.Second}, *delays)
	assert.Empty(t, ldg.deactivated)
}

// ==========================
// Failure paths
// ==========================

func TestHandler_Execute_RetriesExhaustedDeactivates(t *testing.T) {
	ldg := &mockLedger{
		GetSubscriptionFunc: func(ctx context.Context, userID int64) (*ledger.Subscription, error) {
			return activeSubscription(userID), nil
		},
		GetPaymentMethodFunc: func(ctx context.Context, userID int64) (string, error) {
			return "pm-old", nil
		},
	}
	calls := 0
	gw := &mockGateway{
		CreateChargeFunc: func(ctx context.Context, req gateway.ChargeRequest) (*gateway.Payment, error) {
			calls++
			return nil, errors.NewGatewayUnavailableError(context.DeadlineExceeded)
		},
	}
	h, delays := newTestHandler(t, ldg, gw)

	out, err := h.Execute(context.Background(), &Input{UserID: 42})

	require.NoError(t, err)
	assert.Equal(t, StatusDeactivated, out.Status)
	assert.Equal(t, "retries_exhausted", out.Reason)
	assert.Equal(t, 3, calls)
	// Exponential backoff capped, two waits between three attempts.
	assert.Equal(t, []time.Duration{4 * time.Second, 8 * time.Second}, *delays)
	assert.Equal(t, []int64{42}, ldg.deactivated)
	assert.Empty(t, ldg.recordedCharges)
}

func TestHandler_Execute_RejectionShortCircuits(t *testing.T) {
	ldg := &mockLedger{
		GetSubscriptionFunc: func(ctx context.Context, userID int64) (*ledger.Subscription, error) {
			return activeSubscription(userID), nil
		},
		GetPaymentMethodFunc: func(ctx context.Context, userID int64) (string, error) {
			return "pm-old", nil
		},
	}
	calls := 0
	gw := &mockGateway{
		CreateChargeFunc: func(ctx context.Context, req gateway.ChargeRequest) (*gateway.Payment, error) {
			calls++
			return nil, errors.NewChargeRejectedError("insufficient_funds")
		},
	}
	h, delays := newTestHandler(t, ldg, gw)

	out, err := h.Execute(context.Background(), &Input{UserID: 42})

	require.NoError(t, err)
	assert.Equal(t, StatusDeactivated, out.Status)
	assert.Equal(t, "rejected", out.Reason)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *delays)
	assert.Equal(t, []int64{42}, ldg.deactivated)
}

func TestHandler_Execute_DeactivateFailureEscalates(t *testing.T) {
	ledgerErr := errors.NewLedgerUnavailableError("deactivate subscription", context.DeadlineExceeded)
	ldg := &mockLedger{
		GetSubscriptionFunc: func(ctx context.Context, userID int64) (*ledger.Subscription, error) {
			return activeSubscription(userID), nil
		},
		GetPaymentMethodFunc: func(ctx context.Context, userID int64) (string, error) {
			return "pm-old", nil
		},
		DeactivateFunc: func(ctx context.Context, userID int64) error {
			return ledgerErr
		},
	}
	gw := &mockGateway{
		CreateChargeFunc: func(ctx context.Context, req gateway.ChargeRequest) (*gateway.Payment, error) {
			return nil, errors.NewChargeRejectedError("insufficient_funds")
		},
	}
	h, _ := newTestHandler(t, ldg, gw)

	out, err := h.Execute(context.Background(), &Input{UserID: 42})

	// The subscriber must not silently keep access after a failed charge:
	// the attempt errors out and is retried by the next cycle.
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ledgerErr)
}

// ==========================
// Skip paths
// ==========================

func TestHandler_Execute_SubscriptionNotFoundSkips(t *testing.T) {
	ldg := &mockLedger{
		GetSubscriptionFunc: func(ctx context.Context, userID int64) (*ledger.Subscription, error) {
			return nil, ledger.ErrSubscriptionNotFound
		},
	}
	gw := &mockGateway{}
	h, _ := newTestHandler(t, ldg, gw)

	out, err := h.Execute(context.Background(), &Input{UserID: 42})

	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, out.Status)
	assert.Equal(t, "subscription_not_found", out.Reason)
	assert.Empty(t, gw.requests)
}

func TestHandler_Execute_InactiveSubscriptionSkips(t *testing.T) {
	ldg := &mockLedger{
		GetSubscriptionFunc: func(ctx context.Context, userID int64) (*ledger.Subscription, error) {
			sub := activeSubscription(userID)
			sub.IsActive = false
			return sub, nil
		},
	}
	gw := &mockGateway{}
	h, _ := newTestHandler(t, ldg, gw)

	out, err := h.Execute(context.Background(), &Input{UserID: 42})

	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, out.Status)
	assert.Equal(t, "inactive", out.Reason)
	assert.Empty(t, gw.requests)
	assert.Empty(t, ldg.deactivated)
}

func TestHandler_Execute_MissingPaymentMethodSkips(t *testing.T) {
	ldg := &mockLedger{
		GetSubscriptionFunc: func(ctx context.Context, userID int64) (*ledger.Subscription, error) {
			return activeSubscription(userID), nil
		},
		GetPaymentMethodFunc: func(ctx context.Context, userID int64) (string, error) {
			return "", nil
		},
	}
	gw := &mockGateway{}
	h, _ := newTestHandler(t, ldg, gw)

	out, err := h.Execute(context.Background(), &Input{UserID: 42})

	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, out.Status)
	assert.Equal(t, "missing_payment_method", out.Reason)
	assert.Empty(t, gw.requests)
}

func TestHandler_Execute_ContextCancelledMidRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	ldg := &mockLedger{
		GetSubscriptionFunc: func(ctx context.Context, userID int64) (*ledger.Subscription, error) {
			return activeSubscription(userID), nil
		},
		GetPaymentMethodFunc: func(ctx context.Context, userID int64) (string, error) {
			return "pm-old", nil
		},
	}
	gw := &mockGateway{
		CreateChargeFunc: func(ctx context.Context, req gateway.ChargeRequest) (*gateway.Payment, error) {
			cancel()
			return nil, errors.NewGatewayUnavailableError(context.DeadlineExceeded)
		},
	}
	h, _ := newTestHandler(t, ldg, gw)
	h.sleep = sleepCtx // real sleep so cancellation is observed

	out, err := h.Execute(ctx, &Input{UserID: 42})

	// Shutdown mid-attempt must not deactivate anyone.
	assert.Nil(t, out)
	assert.Error(t, err)
	assert.Empty(t, ldg.deactivated)
}
