// internal/workers/billing/process-webhook/models.go
package processwebhook

// Gateway webhook event types handled by this worker. Anything else is
// logged and ignored.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentCanceled  = "payment.canceled"

	ReasonExpiredOnConfirmation = "expired_on_confirmation"
)

// Processing outcomes, used for logging and metrics.
const (
	OutcomeRecorded    = "recorded"
	OutcomeDuplicate   = "duplicate"
	OutcomeDeactivated = "deactivated"
	OutcomeIgnored     = "ignored"
)

// Event is the gateway's webhook payload.
type Event struct {
	Event  string `json:"event"`
	Object struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Amount struct {
			Value    string `json:"value"`
			Currency string `json:"currency"`
		} `json:"amount"`
		Metadata struct {
			UserID      string `json:"user_id"`
			AutoPayment bool   `json:"auto_payment"`
		} `json:"metadata"`
		PaymentMethod struct {
			ID    string `json:"id"`
			Saved bool   `json:"saved"`
		} `json:"payment_method"`
		CancellationDetails struct {
			Party  string `json:"party"`
			Reason string `json:"reason"`
		} `json:"cancellation_details"`
	} `json:"object"`
}
