package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flashmarket/internal/domain"
)

// Ledger implements domain.Ledger using PostgreSQL. Balances live in the
// ledger_accounts table as signed 64-bit integers; every transfer runs in a
// single transaction with both rows locked FOR UPDATE, so a transfer either
// commits fully or leaves no trace.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a new Ledger backed by the given connection pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// CreateAccount registers an account if absent. Re-registering an existing
// account is a no-op so callers can provision idempotently.
func (l *Ledger) CreateAccount(ctx context.Context, id common.Hash, custodian common.Hash) error {
	var cust *string
	if custodian != (common.Hash{}) {
		s := custodian.Hex()
		cust = &s
	}

	const query = `
		INSERT INTO ledger_accounts (address, custodian, balance)
		VALUES ($1, $2, 0)
		ON CONFLICT (address) DO NOTHING`
	if _, err := l.pool.Exec(ctx, query, id.Hex(), cust); err != nil {
		return fmt.Errorf("postgres: create account %s: %w", id.Hex(), err)
	}
	return nil
}

// Balance returns the current balance of an account.
func (l *Ledger) Balance(ctx context.Context, id common.Hash) (uint64, error) {
	var balance int64
	err := l.pool.QueryRow(ctx,
		`SELECT balance FROM ledger_accounts WHERE address = $1`, id.Hex(),
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("postgres: account balance %s: %w", id.Hex(), err)
	}
	return uint64(balance), nil
}

// Transfer moves amount between two accounts under the debited owner's
// direct authority.
func (l *Ledger) Transfer(ctx context.Context, from, to common.Hash, amount uint64) error {
	return l.transfer(ctx, from, to, amount, nil)
}

// TransferAsCustodian moves amount out of a vault under the authority of
// the vault's registered custodian. It fails with domain.ErrInvalidCustodian
// when the asserted custodian does not match the vault's registration.
func (l *Ledger) TransferAsCustodian(ctx context.Context, custodian common.Hash, vault, to common.Hash, amount uint64) error {
	return l.transfer(ctx, vault, to, amount, &custodian)
}

func (l *Ledger) transfer(ctx context.Context, from, to common.Hash, amount uint64, custodian *common.Hash) error {
	if amount > math.MaxInt64 {
		return domain.ErrOverflow
	}
	if from == to {
		return fmt.Errorf("postgres: transfer: %w", domain.ErrInvalidConfig)
	}

	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("postgres: begin transfer: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock both rows in address order so two concurrent transfers over the
	// same pair cannot deadlock.
	first, second := from, to
	if second.Hex() < first.Hex() {
		first, second = second, first
	}
	accounts := make(map[common.Hash]accountRow, 2)
	for _, addr := range []common.Hash{first, second} {
		row, err := lockAccount(ctx, tx, addr)
		if err != nil {
			return err
		}
		accounts[addr] = row
	}

	src := accounts[from]
	dst := accounts[to]

	if custodian != nil {
		if src.custodian == nil || *src.custodian != custodian.Hex() {
			return domain.ErrInvalidCustodian
		}
	}
	if uint64(src.balance) < amount {
		return domain.ErrInsufficientFunds
	}
	if dst.balance > math.MaxInt64-int64(amount) {
		return domain.ErrOverflow
	}

	const debit = `UPDATE ledger_accounts SET balance = balance - $2, updated_at = NOW() WHERE address = $1`
	if _, err := tx.Exec(ctx, debit, from.Hex(), int64(amount)); err != nil {
		return fmt.Errorf("postgres: debit %s: %w", from.Hex(), err)
	}
	const credit = `UPDATE ledger_accounts SET balance = balance + $2, updated_at = NOW() WHERE address = $1`
	if _, err := tx.Exec(ctx, credit, to.Hex(), int64(amount)); err != nil {
		return fmt.Errorf("postgres: credit %s: %w", to.Hex(), err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit transfer: %w", err)
	}
	return nil
}

type accountRow struct {
	balance   int64
	custodian *string
}

func lockAccount(ctx context.Context, tx pgx.Tx, addr common.Hash) (accountRow, error) {
	var row accountRow
	err := tx.QueryRow(ctx,
		`SELECT balance, custodian FROM ledger_accounts WHERE address = $1 FOR UPDATE`,
		addr.Hex(),
	).Scan(&row.balance, &row.custodian)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return accountRow{}, domain.ErrNotFound
		}
		return accountRow{}, fmt.Errorf("postgres: lock account %s: %w", addr.Hex(), err)
	}
	return row, nil
}

// Compile-time interface check.
var _ domain.Ledger = (*Ledger)(nil)
