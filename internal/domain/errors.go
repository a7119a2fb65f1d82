package domain

import "errors"

// Sentinel errors for the settlement engine. Every failure is synchronous and
// typed; callers match with errors.Is and decide whether to retry after
// correcting the condition. The engine itself never retries.
var (
	// Validation errors.
	ErrInvalidConfig = errors.New("invalid market configuration")
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrInvalidSide   = errors.New("invalid side")

	// Authorization errors.
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidKeeper = errors.New("invalid keeper")

	// Lifecycle state errors.
	ErrBettingClosed         = errors.New("betting window has closed")
	ErrMarketNotExpired      = errors.New("market has not expired")
	ErrMarketAlreadyResolved = errors.New("market already resolved")
	ErrMarketNotResolved     = errors.New("market not resolved")
	ErrAlreadyClaimed        = errors.New("position already claimed")
	ErrRefundNotAllowed      = errors.New("refund not allowed")
	ErrSideMismatch          = errors.New("position side mismatch")
	ErrInvalidSideForPayout  = errors.New("invalid side for payout")

	// Oracle errors. Resolution aborts and the market stays pending.
	ErrInvalidOraclePrice      = errors.New("invalid oracle price")
	ErrInvalidOracleConfidence = errors.New("invalid oracle confidence")
	ErrStaleOracleReading      = errors.New("stale oracle reading")

	// Arithmetic errors. All settlement arithmetic is checked; nothing wraps.
	ErrOverflow     = errors.New("arithmetic overflow")
	ErrDivideByZero = errors.New("divide by zero")

	// Storage and ledger errors.
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidCustodian  = errors.New("invalid custodian")
	ErrLockHeld          = errors.New("lock already held")
)
