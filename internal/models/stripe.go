package models

// ChargeStatus is the outcome of a card charge as seen by the ledger.
type ChargeStatus string

const (
	ChargeSucceeded ChargeStatus = "succeeded"
	ChargePending   ChargeStatus = "pending"
	ChargeFailed    ChargeStatus = "failed"
)

// CardChargeRequest charges Amount (bill portion plus tip) to a tokenized card.
type CardChargeRequest struct {
	SessionID    string            `json:"session_id"`
	RestaurantID string            `json:"restaurant_id"`
	Amount       float64           `json:"amount"`
	Currency     string            `json:"currency"`
	Token        string            `json:"token"` // Stripe PaymentMethod id or token
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type CardChargeResult struct {
	TransactionID string       `json:"transaction_id"`
	Status        ChargeStatus `json:"status"`
	Amount        float64      `json:"amount"`
	Currency      string       `json:"currency"`
	PaymentMethod string       `json:"payment_method"`
	ReceiptURL    string       `json:"receipt_url,omitempty"`
	Created       int64        `json:"created"`
}
