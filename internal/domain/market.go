package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PriceScale is the fixed-point scale for strike and settlement prices.
// A stored value of 4_200_000 represents 4.2 units of the quote currency.
const PriceScale uint64 = 1_000_000

// Outcome represents the lifecycle state of a market. A market starts
// Pending and reaches a terminal outcome exactly once.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeYes      Outcome = "yes"
	OutcomeNo       Outcome = "no"
	OutcomeRefunded Outcome = "refunded"
)

// Terminal reports whether the outcome accepts no further resolution.
func (o Outcome) Terminal() bool {
	return o == OutcomeYes || o == OutcomeNo || o == OutcomeRefunded
}

// Side is the side of a binary market a bettor stakes on.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Valid reports whether s is one of the two defined sides.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Outcome returns the terminal outcome under which this side wins.
func (s Side) Outcome() Outcome {
	if s == SideYes {
		return OutcomeYes
	}
	return OutcomeNo
}

// Market is one binary-outcome prediction event: will the asset price be
// above the strike at expiry. Configuration fields are immutable after
// creation; only the pools, outcome, and settlement price ever change.
//
// YesPool and NoPool only grow, via PlaceBet. Payouts debit the ledger's
// pool vaults, not these counters, so they remain the total historical
// stake and serve as the fixed denominator for payout math after claims.
type Market struct {
	ID               common.Hash
	AssetName        string
	StrikePrice      uint64 // PriceScale fixed point
	ExpiryTs         int64  // unix seconds
	CutoffBufferSecs int64
	GraceSecs        int64
	MaxDelaySecs     int64
	Creator          common.Address
	Keeper           common.Address
	OracleFeed       string
	Outcome          Outcome
	YesPool          uint64
	NoPool           uint64
	SettlementPrice  uint64 // set on resolution, PriceScale fixed point
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// BettingCutoff is the last unix second at which bets are accepted.
func (m Market) BettingCutoff() int64 {
	return m.ExpiryTs - m.CutoffBufferSecs
}

// ResolvableAt is the first unix second at which the keeper may resolve.
func (m Market) ResolvableAt() int64 {
	return m.ExpiryTs + m.GraceSecs
}

// RefundableAt is the first unix second at which an unresolved market
// becomes refundable.
func (m Market) RefundableAt() int64 {
	return m.ExpiryTs + m.MaxDelaySecs
}

// Pool returns the stake pool counter for the given side.
func (m Market) Pool(side Side) uint64 {
	if side == SideYes {
		return m.YesPool
	}
	return m.NoPool
}
