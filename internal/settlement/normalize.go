package settlement

import (
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/flashmarket/internal/domain"
)

// maxExpoMagnitude bounds the power-of-ten scaling applied during
// normalization. 10^38 already exceeds any price representable in the
// engine's 64-bit fixed-point width, so larger exponents are overflows.
const maxExpoMagnitude = 38

// DefaultMaxConfidenceBps is the default confidence-gate tolerance: a
// reading is rejected when its confidence interval exceeds 5% of the
// price magnitude.
const DefaultMaxConfidenceBps uint64 = 500

// NormalizePrice converts an oracle (price, exponent) pair into the
// engine's unsigned fixed-point width.
//
// The engine uses the exponent-only convention: the exponent magnitude is
// taken as the conversion into the stored fixed-point scale, so a reading
// of (42_000, -2) normalizes to 4_200_000. Strike prices are stored at the
// same scale as the configured feed reports, and settlement prices always
// land at the strike's scale.
func NormalizePrice(raw int64, expo int32) (uint64, error) {
	if raw <= 0 {
		// Zero is no price at all and a negative price cannot settle an
		// above/below market.
		return 0, domain.ErrInvalidOraclePrice
	}

	mag := expo
	if mag < 0 {
		mag = -mag
	}
	if mag > maxExpoMagnitude {
		return 0, domain.ErrOverflow
	}

	v := uint256.NewInt(uint64(raw))
	scale := pow10(uint64(mag))
	switch {
	case expo < 0:
		if _, overflow := v.MulOverflow(v, scale); overflow {
			return 0, domain.ErrOverflow
		}
	case expo > 0:
		v.Div(v, scale)
	}

	if v.IsZero() {
		// A positive raw price divided down to nothing is as unusable as
		// no price at all.
		return 0, domain.ErrInvalidOraclePrice
	}
	if !v.IsUint64() {
		return 0, domain.ErrOverflow
	}
	return v.Uint64(), nil
}

// CheckConfidence rejects oracle readings whose stated confidence interval
// exceeds maxBps basis points of the price magnitude. Both sides of the
// comparison are computed in 256-bit arithmetic so the products cannot wrap.
func CheckConfidence(conf, absPrice, maxBps uint64) error {
	lhs := new(uint256.Int).Mul(uint256.NewInt(conf), uint256.NewInt(10_000))
	rhs := new(uint256.Int).Mul(uint256.NewInt(absPrice), uint256.NewInt(maxBps))
	if lhs.Gt(rhs) {
		return domain.ErrInvalidOracleConfidence
	}
	return nil
}

func pow10(n uint64) *uint256.Int {
	p := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := uint64(0); i < n; i++ {
		p.Mul(p, ten)
	}
	return p
}
