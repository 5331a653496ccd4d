package model

// Event names as they appear in the append-only event log.
const (
	EventCallSpreadCreated   = "CallSpreadCreated"
	EventCallSpreadPurchased = "CallSpreadPurchased"
	EventCallSpreadExercised = "CallSpreadExercised"
	EventPositionTransferred = "PositionTransferred"
)

// Event is one entry of the engine's event log. Amounts are decimal strings.
type Event struct {
	Seq          uint64 `json:"seq"`
	Name         string `json:"name"`
	PositionID   uint64 `json:"position_id"`
	Timestamp    uint64 `json:"timestamp"`
	Seller       string `json:"seller,omitempty"`
	StrikeLow    string `json:"strike_low,omitempty"`
	StrikeHigh   string `json:"strike_high,omitempty"`
	Expiry       uint64 `json:"expiry,omitempty"`
	Buyer        string `json:"buyer,omitempty"`
	From         string `json:"from,omitempty"`
	To           string `json:"to,omitempty"`
	PayoffAmount string `json:"payoff_amount,omitempty"`
	PriceUsed    string `json:"price_used,omitempty"`
}
