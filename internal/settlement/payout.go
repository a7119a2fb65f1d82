package settlement

import (
	"math"
	"math/bits"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/flashmarket/internal/domain"
)

// maxLedgerAmount is the largest value the transfer ledger can move in one
// call; balances are stored as signed 64-bit integers.
const maxLedgerAmount = uint64(math.MaxInt64)

// Payout computes the parimutuel payout for a winning position:
//
//	payout = amount * (yesPool + noPool) / winnerPool
//
// Winners split the entire pool proportionally to their share of the
// winning side. The multiplication runs in 256-bit arithmetic; the result
// is cast down to the ledger's native width with an explicit range check.
func Payout(amount, yesPool, noPool uint64, outcome domain.Outcome) (uint64, error) {
	total, carry := bits.Add64(yesPool, noPool, 0)
	if carry != 0 {
		return 0, domain.ErrOverflow
	}

	var winner uint64
	switch outcome {
	case domain.OutcomeYes:
		winner = yesPool
	case domain.OutcomeNo:
		winner = noPool
	default:
		return 0, domain.ErrMarketNotResolved
	}
	if winner == 0 {
		// Unreachable given the pool invariants: a winning position implies
		// stake on the winning side. Guard against corrupted state anyway.
		return 0, domain.ErrDivideByZero
	}

	p := new(uint256.Int).Mul(uint256.NewInt(amount), uint256.NewInt(total))
	p.Div(p, uint256.NewInt(winner))

	if !p.IsUint64() || p.Uint64() > maxLedgerAmount {
		return 0, domain.ErrOverflow
	}
	return p.Uint64(), nil
}
