// internal/workers/billing/charge-attempt/models.go
package chargeattempt

type Input struct {
	UserID int64 `json:"userId"`
}

// Attempt outcomes. Skipped and Deactivated are terminal results, not errors:
// they never block the rest of the reconciliation batch.
const (
	StatusCharged     = "charged"
	StatusDeactivated = "deactivated"
	StatusSkipped     = "skipped"
)

type Output struct {
	UserID    int64  `json:"userId"`
	Status    string `json:"status"`
	PaymentID string `json:"paymentId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
