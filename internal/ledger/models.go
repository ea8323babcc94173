package ledger

import "time"

// Subscription periods.
const (
	PeriodTrial = "trial"
	PeriodMonth = "month"
	PeriodYear  = "year"
)

// PeriodDuration returns the renewal extension for a billing period.
func PeriodDuration(period string) time.Duration {
	switch period {
	case PeriodTrial:
		return 3 * 24 * time.Hour
	case PeriodYear:
		return 365 * 24 * time.Hour
	default:
		return 31 * 24 * time.Hour
	}
}

// Subscription is the persistent billing state for one subscriber.
type Subscription struct {
	UserID   int64     `json:"userId"`
	Amount   float64   `json:"amount"`
	Currency string    `json:"currency"`
	Period   string    `json:"period"`
	Trial    bool      `json:"trial"`
	IsActive bool      `json:"isActive"`
	Until    time.Time `json:"until"`
}

// ChargeRecord describes one recorded successful charge. MethodRef is the
// instrument to put on file; empty leaves the stored instrument untouched
// (manual payments do not imply a reusable instrument).
type ChargeRecord struct {
	UserID    int64
	PaymentID string
	Amount    float64
	Currency  string
	Period    string
	MethodRef string
}
