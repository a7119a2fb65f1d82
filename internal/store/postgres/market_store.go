package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flashmarket/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketSelectCols = `id, asset_name, strike_price, expiry_ts,
	cutoff_buffer_secs, grace_secs, max_delay_secs,
	creator, keeper, oracle_feed, outcome,
	yes_pool, no_pool, settlement_price, created_at, updated_at`

func scanMarketRow(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var id, creator, keeper, outcome string
	var strike, yesPool, noPool, settlement int64

	err := row.Scan(
		&id, &m.AssetName, &strike, &m.ExpiryTs,
		&m.CutoffBufferSecs, &m.GraceSecs, &m.MaxDelaySecs,
		&creator, &keeper, &m.OracleFeed, &outcome,
		&yesPool, &noPool, &settlement, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.ID = common.HexToHash(id)
	m.Creator = common.HexToAddress(creator)
	m.Keeper = common.HexToAddress(keeper)
	m.Outcome = domain.Outcome(outcome)
	m.StrikePrice = uint64(strike)
	m.YesPool = uint64(yesPool)
	m.NoPool = uint64(noPool)
	m.SettlementPrice = uint64(settlement)
	return m, nil
}

// Create inserts a new market record at its derived address. It returns
// domain.ErrAlreadyExists when a record already lives there.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, asset_name, strike_price, expiry_ts,
			cutoff_buffer_secs, grace_secs, max_delay_secs,
			creator, keeper, oracle_feed, outcome,
			yes_pool, no_pool, settlement_price, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15, $16
		)`

	_, err := s.pool.Exec(ctx, query,
		m.ID.Hex(), m.AssetName, int64(m.StrikePrice), m.ExpiryTs,
		m.CutoffBufferSecs, m.GraceSecs, m.MaxDelaySecs,
		m.Creator.Hex(), m.Keeper.Hex(), m.OracleFeed, string(m.Outcome),
		int64(m.YesPool), int64(m.NoPool), int64(m.SettlementPrice),
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create market %s: %w", m.ID.Hex(), err)
	}
	return nil
}

// GetByID loads a market by its derived address. It returns
// domain.ErrNotFound when no record exists.
func (s *MarketStore) GetByID(ctx context.Context, id common.Hash) (domain.Market, error) {
	query := `SELECT ` + marketSelectCols + ` FROM markets WHERE id = $1`

	m, err := scanMarketRow(s.pool.QueryRow(ctx, query, id.Hex()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id.Hex(), err)
	}
	return m, nil
}

// Update replaces the mutable fields of a market: pools, outcome,
// settlement price, and the updated timestamp. Configuration fields are
// immutable after creation and are deliberately not written.
func (s *MarketStore) Update(ctx context.Context, m domain.Market) error {
	const query = `
		UPDATE markets SET
			outcome          = $2,
			yes_pool         = $3,
			no_pool          = $4,
			settlement_price = $5,
			updated_at       = $6
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		m.ID.Hex(), string(m.Outcome),
		int64(m.YesPool), int64(m.NoPool), int64(m.SettlementPrice),
		m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByOutcome returns markets in the given lifecycle state, newest first.
func (s *MarketStore) ListByOutcome(ctx context.Context, outcome domain.Outcome, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketSelectCols + `
		FROM markets WHERE outcome = $1
		ORDER BY created_at DESC`
	args := []any{string(outcome)}

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets by outcome: %w", err)
	}
	defer rows.Close()

	return collectMarkets(rows)
}

// ListResolvable returns pending markets whose grace period has elapsed at
// the given unix time, oldest expiry first.
func (s *MarketStore) ListResolvable(ctx context.Context, now int64, limit int) ([]domain.Market, error) {
	query := `SELECT ` + marketSelectCols + `
		FROM markets
		WHERE outcome = 'pending' AND expiry_ts + grace_secs <= $1
		ORDER BY expiry_ts ASC`
	args := []any{now}

	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolvable markets: %w", err)
	}
	defer rows.Close()

	return collectMarkets(rows)
}

// Count returns the total number of markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

func collectMarkets(rows pgx.Rows) ([]domain.Market, error) {
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarketRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
