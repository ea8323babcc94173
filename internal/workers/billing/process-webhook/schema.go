// internal/workers/billing/process-webhook/schema.go
package processwebhook

// eventSchema guards the webhook entry point: events that do not carry the
// fields every transition needs are dropped before any ledger access.
// event_type values are deliberately unconstrained; unrecognized types must
// flow through to the handler and be ignored there, not rejected here.
const eventSchema = `{
	"type": "object",
	"required": ["event", "object"],
	"properties": {
		"event": {"type": "string", "minLength": 1},
		"object": {
			"type": "object",
			"required": ["id", "metadata"],
			"properties": {
				"id": {"type": "string", "minLength": 1},
				"status": {"type": "string"},
				"amount": {
					"type": "object",
					"properties": {
						"value": {"type": "string"},
						"currency": {"type": "string"}
					}
				},
				"metadata": {
					"type": "object",
					"required": ["user_id"],
					"properties": {
						"user_id": {"type": "string", "pattern": "^[0-9]+$"},
						"auto_payment": {"type": "boolean"}
					}
				},
				"payment_method": {
					"type": "object",
					"properties": {
						"id": {"type": "string"},
						"saved": {"type": "boolean"}
					}
				},
				"cancellation_details": {
					"type": "object",
					"properties": {
						"party": {"type": "string"},
						"reason": {"type": "string"}
					}
				}
			}
		}
	}
}`
