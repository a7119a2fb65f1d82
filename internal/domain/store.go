package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists market records addressed by their derived ID.
// Create fails with ErrAlreadyExists when a record already lives at the
// derived address.
type MarketStore interface {
	Create(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id common.Hash) (Market, error)
	Update(ctx context.Context, m Market) error
	ListByOutcome(ctx context.Context, outcome Outcome, opts ListOpts) ([]Market, error)
	// ListResolvable returns pending markets whose grace period has elapsed
	// at the given unix time, oldest expiry first.
	ListResolvable(ctx context.Context, now int64, limit int) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// PositionStore persists position records addressed by their derived ID.
type PositionStore interface {
	Create(ctx context.Context, p Position) error
	Get(ctx context.Context, id common.Hash) (Position, error)
	Update(ctx context.Context, p Position) error
	ListByMarket(ctx context.Context, market common.Hash, opts ListOpts) ([]Position, error)
	ListByOwner(ctx context.Context, owner common.Address, opts ListOpts) ([]Position, error)
}

// Ledger moves fungible value between holding accounts. Transfers are
// all-or-nothing: on any failure no balance changes.
type Ledger interface {
	// CreateAccount registers an account if absent. A zero custodian means
	// the account is owned directly by its participant.
	CreateAccount(ctx context.Context, id common.Hash, custodian common.Hash) error

	Balance(ctx context.Context, id common.Hash) (uint64, error)

	// Transfer moves amount from one account to another under the direct
	// authority of the debited account's owner.
	Transfer(ctx context.Context, from, to common.Hash, amount uint64) error

	// TransferAsCustodian moves amount out of a vault under the delegated
	// authority of the vault's registered custodian. It fails with
	// ErrInvalidCustodian when the asserted custodian does not match.
	TransferAsCustodian(ctx context.Context, custodian common.Hash, vault, to common.Hash, amount uint64) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// LockManager serializes conflicting writers on a shared record.
type LockManager interface {
	// Acquire obtains the lock for key or fails with ErrLockHeld. On
	// success the returned function releases the lock and is safe to call
	// more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// SignalBus delivers settlement events to interested consumers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
