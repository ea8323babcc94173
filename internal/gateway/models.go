package gateway

// Amount is the gateway's decimal money representation.
type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// Metadata travels with a charge and comes back on webhook events. user_id is
// a string on the wire; the gateway echoes metadata values as strings.
type Metadata struct {
	UserID           string `json:"user_id"`
	SubscriptionType string `json:"subscription_type,omitempty"`
	AutoPayment      bool   `json:"auto_payment"`
}

// Payment is the gateway's charge object as returned by the payments API.
type Payment struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Paid          bool   `json:"paid"`
	Amount        Amount `json:"amount"`
	PaymentMethod struct {
		ID    string `json:"id"`
		Saved bool   `json:"saved"`
	} `json:"payment_method"`
	Confirmation struct {
		Type            string `json:"type"`
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation"`
}

// ChargeRequest describes one automatic charge against a saved instrument.
type ChargeRequest struct {
	UserID         int64
	Amount         float64
	Currency       string
	Description    string
	MethodRef      string
	IdempotenceKey string
}

type createPaymentBody struct {
	Amount            Amount        `json:"amount"`
	Capture           bool          `json:"capture"`
	Description       string        `json:"description"`
	Metadata          Metadata      `json:"metadata"`
	PaymentMethodID   string        `json:"payment_method_id,omitempty"`
	SavePaymentMethod bool          `json:"save_payment_method,omitempty"`
	Confirmation      *confirmation `json:"confirmation,omitempty"`
}

type confirmation struct {
	Type      string `json:"type"`
	ReturnURL string `json:"return_url"`
}
