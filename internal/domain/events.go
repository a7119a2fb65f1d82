package domain

// Event types published on the "markets" channel after each successful
// settlement operation.
const (
	EventMarketCreated  = "market_created"
	EventBetPlaced      = "bet_placed"
	EventMarketResolved = "market_resolved"
	EventClaimed        = "winnings_claimed"
	EventRefunded       = "stake_refunded"
)

// MarketEvent is the JSON payload broadcast for every lifecycle change.
// Numeric fields are strings to preserve 64-bit precision across JSON.
type MarketEvent struct {
	Type            string `json:"type"`
	MarketID        string `json:"market_id"`
	AssetName       string `json:"asset_name,omitempty"`
	Outcome         string `json:"outcome,omitempty"`
	Side            string `json:"side,omitempty"`
	Owner           string `json:"owner,omitempty"`
	Amount          string `json:"amount,omitempty"`
	YesPool         string `json:"yes_pool,omitempty"`
	NoPool          string `json:"no_pool,omitempty"`
	SettlementPrice string `json:"settlement_price,omitempty"`
	Timestamp       int64  `json:"ts"`
}
