package handler

import (
	"strconv"
	"time"

	"github.com/alanyoungcy/flashmarket/internal/domain"
)

// marketView is the wire form of a market. Stake and price magnitudes are
// decimal strings so JSON consumers never round them through float64.
type marketView struct {
	ID              string `json:"id"`
	AssetName       string `json:"asset_name"`
	StrikePrice     string `json:"strike_price"`
	ExpiryTs        int64  `json:"expiry_ts"`
	BettingCutoff   int64  `json:"betting_cutoff"`
	ResolvableAt    int64  `json:"resolvable_at"`
	RefundableAt    int64  `json:"refundable_at"`
	Creator         string `json:"creator"`
	Keeper          string `json:"keeper"`
	OracleFeed      string `json:"oracle_feed"`
	Outcome         string `json:"outcome"`
	YesPool         string `json:"yes_pool"`
	NoPool          string `json:"no_pool"`
	SettlementPrice string `json:"settlement_price,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

func renderMarket(m domain.Market) marketView {
	v := marketView{
		ID:            m.ID.Hex(),
		AssetName:     m.AssetName,
		StrikePrice:   strconv.FormatUint(m.StrikePrice, 10),
		ExpiryTs:      m.ExpiryTs,
		BettingCutoff: m.BettingCutoff(),
		ResolvableAt:  m.ResolvableAt(),
		RefundableAt:  m.RefundableAt(),
		Creator:       m.Creator.Hex(),
		Keeper:        m.Keeper.Hex(),
		OracleFeed:    m.OracleFeed,
		Outcome:       string(m.Outcome),
		YesPool:       strconv.FormatUint(m.YesPool, 10),
		NoPool:        strconv.FormatUint(m.NoPool, 10),
		CreatedAt:     m.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     m.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if m.Outcome == domain.OutcomeYes || m.Outcome == domain.OutcomeNo {
		v.SettlementPrice = strconv.FormatUint(m.SettlementPrice, 10)
	}
	return v
}

func renderMarkets(ms []domain.Market) []marketView {
	out := make([]marketView, 0, len(ms))
	for _, m := range ms {
		out = append(out, renderMarket(m))
	}
	return out
}

// positionView is the wire form of a position.
type positionView struct {
	ID        string `json:"id"`
	MarketID  string `json:"market_id"`
	Owner     string `json:"owner"`
	Side      string `json:"side"`
	Amount    string `json:"amount"`
	Claimed   bool   `json:"claimed"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func renderPosition(p domain.Position) positionView {
	return positionView{
		ID:        p.ID.Hex(),
		MarketID:  p.MarketID.Hex(),
		Owner:     p.Owner.Hex(),
		Side:      string(p.Side),
		Amount:    strconv.FormatUint(p.Amount, 10),
		Claimed:   p.Claimed,
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func renderPositions(ps []domain.Position) []positionView {
	out := make([]positionView, 0, len(ps))
	for _, p := range ps {
		out = append(out, renderPosition(p))
	}
	return out
}
