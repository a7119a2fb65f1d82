package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Position is one participant's cumulative stake on one side of one market.
// The side is fixed at first stake; later stakes on the same side accumulate
// into Amount, stakes on the opposite side are rejected. Claimed transitions
// false -> true exactly once, through either a payout or a refund.
type Position struct {
	ID        common.Hash
	MarketID  common.Hash
	Owner     common.Address
	Side      Side
	Amount    uint64
	Claimed   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
