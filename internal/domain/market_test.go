package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutcome_Terminal(t *testing.T) {
	assert.False(t, OutcomePending.Terminal())
	assert.True(t, OutcomeYes.Terminal())
	assert.True(t, OutcomeNo.Terminal())
	assert.True(t, OutcomeRefunded.Terminal())
}

func TestSide_Valid(t *testing.T) {
	assert.True(t, SideYes.Valid())
	assert.True(t, SideNo.Valid())
	assert.False(t, Side("maybe").Valid())
	assert.False(t, Side("").Valid())
}

func TestSide_Outcome(t *testing.T) {
	assert.Equal(t, OutcomeYes, SideYes.Outcome())
	assert.Equal(t, OutcomeNo, SideNo.Outcome())
}

func TestMarket_Deadlines(t *testing.T) {
	m := Market{
		ExpiryTs:         1_000_000,
		CutoffBufferSecs: 60,
		GraceSecs:        30,
		MaxDelaySecs:     7200,
	}
	assert.Equal(t, int64(999_940), m.BettingCutoff())
	assert.Equal(t, int64(1_000_030), m.ResolvableAt())
	assert.Equal(t, int64(1_007_200), m.RefundableAt())
}

func TestMarket_Pool(t *testing.T) {
	m := Market{YesPool: 100, NoPool: 300}
	assert.Equal(t, uint64(100), m.Pool(SideYes))
	assert.Equal(t, uint64(300), m.Pool(SideNo))
}
