package settlement

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flashmarket/internal/domain"
)

func TestPayout_ProRata(t *testing.T) {
	// 100 staked Yes against 300 No; the sole Yes winner takes the pot.
	got, err := Payout(100, 100, 300, domain.OutcomeYes)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), got)
}

func TestPayout_PartialShare(t *testing.T) {
	// 25 of a 100 Yes pool wins a quarter of the 400 total.
	got, err := Payout(25, 100, 300, domain.OutcomeYes)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), got)
}

func TestPayout_NoSideWins(t *testing.T) {
	got, err := Payout(300, 100, 300, domain.OutcomeNo)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), got)
}

func TestPayout_TruncatesTowardZero(t *testing.T) {
	// 1 * 10 / 3 = 3 remainder 1; dust stays in the vault.
	got, err := Payout(1, 3, 7, domain.OutcomeYes)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got)
}

func TestPayout_OneSidedPool(t *testing.T) {
	// All stake on the winning side pays back exactly the stake.
	got, err := Payout(100, 100, 0, domain.OutcomeYes)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), got)
}

func TestPayout_PoolSumOverflows(t *testing.T) {
	_, err := Payout(1, math.MaxUint64, 1, domain.OutcomeYes)
	assert.ErrorIs(t, err, domain.ErrOverflow)
}

func TestPayout_WinnerPoolZero(t *testing.T) {
	_, err := Payout(100, 0, 300, domain.OutcomeYes)
	assert.ErrorIs(t, err, domain.ErrDivideByZero)
}

func TestPayout_ExceedsLedgerWidth(t *testing.T) {
	// amount * total overflows the signed 64-bit ledger width.
	_, err := Payout(math.MaxUint64/2, math.MaxUint64/2, math.MaxUint64/2, domain.OutcomeYes)
	assert.ErrorIs(t, err, domain.ErrOverflow)
}

func TestPayout_UnresolvedOutcome(t *testing.T) {
	_, err := Payout(100, 100, 300, domain.OutcomePending)
	assert.ErrorIs(t, err, domain.ErrMarketNotResolved)

	_, err = Payout(100, 100, 300, domain.OutcomeRefunded)
	assert.ErrorIs(t, err, domain.ErrMarketNotResolved)
}
