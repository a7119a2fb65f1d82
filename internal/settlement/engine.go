// Package settlement implements the parimutuel settlement engine: market
// lifecycle management, betting-window enforcement, oracle validation, and
// pro-rata payout and refund accounting. All arithmetic is checked integer
// arithmetic; every operation is all-or-nothing with respect to the market
// and position records it touches.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flashmarket/internal/domain"
)

// Config carries the tunable parameters of the engine. Namespace is the
// program identity under which all record and account addresses derive; it
// is injected from configuration, never compiled in.
type Config struct {
	Namespace        common.Hash
	MaxConfidenceBps uint64        // 0 means DefaultMaxConfidenceBps
	MaxReadingAge    time.Duration // 0 disables the staleness check
	LockTTL          time.Duration
}

// Engine sequences the settlement components against the external
// collaborators: keyed storage, the value-transfer ledger, and the price
// oracle. Conflicting writers on one market are serialized through the
// lock manager; within a held lock every read is a synchronous snapshot.
type Engine struct {
	cfg       Config
	markets   domain.MarketStore
	positions domain.PositionStore
	ledger    domain.Ledger
	oracle    domain.PriceOracle
	locks     domain.LockManager
	bus       domain.SignalBus
	audit     domain.AuditStore
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an Engine. The lock manager, signal bus, and audit store may
// be nil, in which case locking, event publishing, and audit logging are
// skipped respectively.
func New(
	cfg Config,
	markets domain.MarketStore,
	positions domain.PositionStore,
	ledger domain.Ledger,
	oracle domain.PriceOracle,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Engine {
	if cfg.MaxConfidenceBps == 0 {
		cfg.MaxConfidenceBps = DefaultMaxConfidenceBps
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	return &Engine{
		cfg:       cfg,
		markets:   markets,
		positions: positions,
		ledger:    ledger,
		oracle:    oracle,
		locks:     locks,
		bus:       bus,
		audit:     audit,
		logger:    logger.With(slog.String("component", "settlement")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the engine's time source. Intended for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// CreateMarketParams holds the immutable configuration of a new market.
type CreateMarketParams struct {
	AssetName        string
	StrikePrice      uint64 // domain.PriceScale fixed point
	DurationSecs     int64
	CutoffBufferSecs int64
	GraceSecs        int64
	MaxDelaySecs     int64
	Keeper           common.Address
	OracleFeed       string
}

// CreateMarket creates a creator's market in the Pending state. The market
// ID derives from the creator identity, so a creator can hold at most one
// live market; a second call fails with domain.ErrAlreadyExists.
func (e *Engine) CreateMarket(ctx context.Context, creator common.Address, p CreateMarketParams) (domain.Market, error) {
	if p.AssetName == "" || p.OracleFeed == "" || p.StrikePrice == 0 {
		return domain.Market{}, domain.ErrInvalidConfig
	}
	if p.DurationSecs <= 0 || p.CutoffBufferSecs < 0 || p.GraceSecs < 0 || p.MaxDelaySecs < 0 {
		return domain.Market{}, domain.ErrInvalidConfig
	}
	if (creator == common.Address{}) || (p.Keeper == common.Address{}) {
		return domain.Market{}, domain.ErrInvalidConfig
	}

	now := e.now()
	expiry, ok := addInt64(now.Unix(), p.DurationSecs)
	if !ok {
		return domain.Market{}, domain.ErrInvalidConfig
	}
	// The derived deadlines must stay representable too.
	if _, ok := addInt64(expiry, p.GraceSecs); !ok {
		return domain.Market{}, domain.ErrInvalidConfig
	}
	if _, ok := addInt64(expiry, p.MaxDelaySecs); !ok {
		return domain.Market{}, domain.ErrInvalidConfig
	}

	id := domain.MarketID(e.cfg.Namespace, creator)
	m := domain.Market{
		ID:               id,
		AssetName:        p.AssetName,
		StrikePrice:      p.StrikePrice,
		ExpiryTs:         expiry,
		CutoffBufferSecs: p.CutoffBufferSecs,
		GraceSecs:        p.GraceSecs,
		MaxDelaySecs:     p.MaxDelaySecs,
		Creator:          creator,
		Keeper:           p.Keeper,
		OracleFeed:       p.OracleFeed,
		Outcome:          domain.OutcomePending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	// Provision the pool vaults before the record becomes visible. The
	// market record itself is the custodian of both vaults. CreateAccount
	// is create-if-absent, so a failed CreateMarket leaves only empty,
	// unreferenced accounts behind.
	for _, side := range []domain.Side{domain.SideYes, domain.SideNo} {
		vault := domain.VaultAccount(e.cfg.Namespace, id, side)
		if err := e.ledger.CreateAccount(ctx, vault, id); err != nil {
			return domain.Market{}, fmt.Errorf("settlement: create %s vault: %w", side, err)
		}
	}

	if err := e.markets.Create(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("settlement: create market: %w", err)
	}

	e.auditLog(ctx, domain.EventMarketCreated, map[string]any{
		"market_id": id.Hex(),
		"asset":     p.AssetName,
		"strike":    strconv.FormatUint(p.StrikePrice, 10),
		"expiry_ts": expiry,
		"creator":   creator.Hex(),
		"keeper":    p.Keeper.Hex(),
	})
	e.publish(ctx, domain.MarketEvent{
		Type:      domain.EventMarketCreated,
		MarketID:  id.Hex(),
		AssetName: p.AssetName,
		Timestamp: now.Unix(),
	})

	e.logger.InfoContext(ctx, "market created",
		slog.String("market_id", id.Hex()),
		slog.String("asset", p.AssetName),
		slog.Int64("expiry_ts", expiry),
	)
	return m, nil
}

// PlaceBet stakes amount on one side of a market while the betting window
// is open. The stake is debited from the caller's holding account into the
// side's pool vault before any bookkeeping commits; every overflow and
// side-consistency condition is checked before the transfer so a failed
// call leaves no partial state. Should a bookkeeping write still fail after
// the debit, the stake is transferred back and the pool counters restored.
func (e *Engine) PlaceBet(ctx context.Context, caller common.Address, marketID common.Hash, amount uint64, side domain.Side) (domain.Position, error) {
	if amount == 0 {
		return domain.Position{}, domain.ErrInvalidAmount
	}
	if amount > maxLedgerAmount {
		return domain.Position{}, domain.ErrOverflow
	}
	if !side.Valid() {
		return domain.Position{}, domain.ErrInvalidSide
	}

	unlock, err := e.lock(ctx, marketID)
	if err != nil {
		return domain.Position{}, err
	}
	defer unlock()

	m, err := e.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("settlement: load market: %w", err)
	}

	now := e.now()
	if now.Unix() > m.BettingCutoff() {
		return domain.Position{}, domain.ErrBettingClosed
	}

	// Pool counter overflow is rejected up front so the ledger transfer
	// never commits ahead of bookkeeping that cannot.
	newPool, ok := addUint64(m.Pool(side), amount)
	if !ok {
		return domain.Position{}, domain.ErrOverflow
	}

	pid := domain.PositionID(e.cfg.Namespace, marketID, caller)
	pos, err := e.positions.Get(ctx, pid)
	fresh := false
	switch {
	case errors.Is(err, domain.ErrNotFound):
		fresh = true
		pos = domain.Position{
			ID:        pid,
			MarketID:  marketID,
			Owner:     caller,
			Side:      side,
			Claimed:   false,
			CreatedAt: now,
		}
	case err != nil:
		return domain.Position{}, fmt.Errorf("settlement: load position: %w", err)
	default:
		if pos.Side != side {
			return domain.Position{}, domain.ErrSideMismatch
		}
	}
	newAmount, ok := addUint64(pos.Amount, amount)
	if !ok {
		return domain.Position{}, domain.ErrOverflow
	}

	from := domain.HoldingAccount(e.cfg.Namespace, caller)
	vault := domain.VaultAccount(e.cfg.Namespace, marketID, side)
	if err := e.ledger.Transfer(ctx, from, vault, amount); err != nil {
		return domain.Position{}, fmt.Errorf("settlement: stake transfer: %w", err)
	}

	prior := m
	if side == domain.SideYes {
		m.YesPool = newPool
	} else {
		m.NoPool = newPool
	}
	m.UpdatedAt = now
	if err := e.markets.Update(ctx, m); err != nil {
		e.returnStake(ctx, marketID, vault, from, amount)
		return domain.Position{}, fmt.Errorf("settlement: update market pools: %w", err)
	}

	pos.Amount = newAmount
	pos.UpdatedAt = now
	if fresh {
		err = e.positions.Create(ctx, pos)
	} else {
		err = e.positions.Update(ctx, pos)
	}
	if err != nil {
		e.returnStake(ctx, marketID, vault, from, amount)
		prior.UpdatedAt = now
		if uerr := e.markets.Update(ctx, prior); uerr != nil {
			e.logger.ErrorContext(ctx, "pool rollback failed",
				slog.String("market", marketID.Hex()),
				slog.String("error", uerr.Error()),
			)
		}
		return domain.Position{}, fmt.Errorf("settlement: store position: %w", err)
	}

	e.auditLog(ctx, domain.EventBetPlaced, map[string]any{
		"market_id": marketID.Hex(),
		"owner":     caller.Hex(),
		"side":      string(side),
		"amount":    strconv.FormatUint(amount, 10),
	})
	e.publish(ctx, domain.MarketEvent{
		Type:      domain.EventBetPlaced,
		MarketID:  marketID.Hex(),
		Side:      string(side),
		Owner:     caller.Hex(),
		Amount:    strconv.FormatUint(amount, 10),
		YesPool:   strconv.FormatUint(m.YesPool, 10),
		NoPool:    strconv.FormatUint(m.NoPool, 10),
		Timestamp: now.Unix(),
	})

	return pos, nil
}

// ResolveMarket reads the bound oracle feed and transitions a pending
// market to Yes or No. Only the market's keeper may resolve, and only once
// the grace period after expiry has elapsed. Oracle failures leave the
// market Pending so a later, healthier reading can still resolve it.
func (e *Engine) ResolveMarket(ctx context.Context, caller common.Address, marketID common.Hash) (domain.Market, error) {
	unlock, err := e.lock(ctx, marketID)
	if err != nil {
		return domain.Market{}, err
	}
	defer unlock()

	m, err := e.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("settlement: load market: %w", err)
	}

	if m.Outcome != domain.OutcomePending {
		return domain.Market{}, domain.ErrMarketAlreadyResolved
	}
	if caller != m.Keeper {
		return domain.Market{}, domain.ErrInvalidKeeper
	}
	now := e.now()
	if now.Unix() < m.ResolvableAt() {
		return domain.Market{}, domain.ErrMarketNotExpired
	}

	reading, err := e.oracle.Latest(ctx, m.OracleFeed)
	if err != nil {
		return domain.Market{}, fmt.Errorf("settlement: read oracle %s: %w", m.OracleFeed, err)
	}
	if e.cfg.MaxReadingAge > 0 && now.Sub(reading.PublishTime) > e.cfg.MaxReadingAge {
		return domain.Market{}, domain.ErrStaleOracleReading
	}
	if reading.Price == 0 {
		return domain.Market{}, domain.ErrInvalidOraclePrice
	}
	if err := CheckConfidence(reading.Conf, absInt64(reading.Price), e.cfg.MaxConfidenceBps); err != nil {
		return domain.Market{}, err
	}
	normalized, err := NormalizePrice(reading.Price, reading.Expo)
	if err != nil {
		return domain.Market{}, err
	}

	// Asset strictly above strike settles Yes.
	var winSide, loseSide domain.Side
	if normalized > m.StrikePrice {
		m.Outcome = domain.OutcomeYes
		winSide, loseSide = domain.SideYes, domain.SideNo
	} else {
		m.Outcome = domain.OutcomeNo
		winSide, loseSide = domain.SideNo, domain.SideYes
	}

	// Consolidate the pot: sweep the losing vault into the winning vault so
	// claims can draw the full pool from one account. A failed sweep aborts
	// resolution and leaves the market pending.
	loseVault := domain.VaultAccount(e.cfg.Namespace, marketID, loseSide)
	winVault := domain.VaultAccount(e.cfg.Namespace, marketID, winSide)
	losing, err := e.ledger.Balance(ctx, loseVault)
	if err != nil {
		return domain.Market{}, fmt.Errorf("settlement: read losing vault: %w", err)
	}
	if losing > 0 {
		if err := e.ledger.TransferAsCustodian(ctx, marketID, loseVault, winVault, losing); err != nil {
			return domain.Market{}, fmt.Errorf("settlement: sweep losing vault: %w", err)
		}
	}

	m.SettlementPrice = normalized
	m.UpdatedAt = now
	if err := e.markets.Update(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("settlement: update market outcome: %w", err)
	}

	e.auditLog(ctx, domain.EventMarketResolved, map[string]any{
		"market_id":        marketID.Hex(),
		"outcome":          string(m.Outcome),
		"settlement_price": strconv.FormatUint(normalized, 10),
		"strike":           strconv.FormatUint(m.StrikePrice, 10),
	})
	e.publish(ctx, domain.MarketEvent{
		Type:            domain.EventMarketResolved,
		MarketID:        marketID.Hex(),
		Outcome:         string(m.Outcome),
		SettlementPrice: strconv.FormatUint(normalized, 10),
		YesPool:         strconv.FormatUint(m.YesPool, 10),
		NoPool:          strconv.FormatUint(m.NoPool, 10),
		Timestamp:       now.Unix(),
	})

	e.logger.InfoContext(ctx, "market resolved",
		slog.String("market_id", marketID.Hex()),
		slog.String("outcome", string(m.Outcome)),
		slog.Uint64("settlement_price", normalized),
	)
	return m, nil
}

// ClaimWinnings pays out a winning position exactly once. The payout moves
// from the winning side's pool vault to the caller's holding account under
// the market's own custodial authority; the claimed flag is set only after
// the transfer succeeds and the claim is final once the transfer lands.
func (e *Engine) ClaimWinnings(ctx context.Context, caller common.Address, marketID, positionID common.Hash) (uint64, error) {
	unlock, err := e.lock(ctx, marketID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	m, err := e.markets.GetByID(ctx, marketID)
	if err != nil {
		return 0, fmt.Errorf("settlement: load market: %w", err)
	}
	if m.Outcome != domain.OutcomeYes && m.Outcome != domain.OutcomeNo {
		return 0, domain.ErrMarketNotResolved
	}

	pos, err := e.authorizedPosition(ctx, caller, marketID, positionID)
	if err != nil {
		return 0, err
	}
	if pos.Side.Outcome() != m.Outcome {
		// Losing positions have no payout path; once resolved they have no
		// refund path either.
		return 0, domain.ErrInvalidSideForPayout
	}

	payout, err := Payout(pos.Amount, m.YesPool, m.NoPool, m.Outcome)
	if err != nil {
		return 0, err
	}

	vault := domain.VaultAccount(e.cfg.Namespace, marketID, pos.Side)
	to := domain.HoldingAccount(e.cfg.Namespace, caller)
	if err := e.ledger.TransferAsCustodian(ctx, marketID, vault, to, payout); err != nil {
		return 0, fmt.Errorf("settlement: payout transfer: %w", err)
	}

	// Payout delivery is the final step: once the transfer has landed the
	// claim must be recorded, and a failure here must not re-open it.
	pos.Claimed = true
	pos.UpdatedAt = e.now()
	if err := e.positions.Update(ctx, pos); err != nil {
		e.logger.ErrorContext(ctx, "claim paid but flag not persisted",
			slog.String("position_id", pos.ID.Hex()),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("settlement: mark claimed: %w", err)
	}

	e.auditLog(ctx, domain.EventClaimed, map[string]any{
		"market_id":   marketID.Hex(),
		"position_id": pos.ID.Hex(),
		"owner":       caller.Hex(),
		"payout":      strconv.FormatUint(payout, 10),
	})
	e.publish(ctx, domain.MarketEvent{
		Type:      domain.EventClaimed,
		MarketID:  marketID.Hex(),
		Owner:     caller.Hex(),
		Amount:    strconv.FormatUint(payout, 10),
		Timestamp: e.now().Unix(),
	})

	return payout, nil
}

// RefundUnsettlable returns a position's original stake when resolution
// never happened: either the market has sat Pending past its maximum
// resolution delay, or it was administratively marked Refunded. The refund
// draws from the vault matching the position's own side and counts as the
// position's single claim.
func (e *Engine) RefundUnsettlable(ctx context.Context, caller common.Address, marketID, positionID common.Hash) (uint64, error) {
	unlock, err := e.lock(ctx, marketID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	m, err := e.markets.GetByID(ctx, marketID)
	if err != nil {
		return 0, fmt.Errorf("settlement: load market: %w", err)
	}

	now := e.now()
	timedOut := now.Unix() >= m.RefundableAt() && m.Outcome == domain.OutcomePending
	if !timedOut && m.Outcome != domain.OutcomeRefunded {
		return 0, domain.ErrRefundNotAllowed
	}

	pos, err := e.authorizedPosition(ctx, caller, marketID, positionID)
	if err != nil {
		return 0, err
	}

	vault := domain.VaultAccount(e.cfg.Namespace, marketID, pos.Side)
	to := domain.HoldingAccount(e.cfg.Namespace, caller)
	if err := e.ledger.TransferAsCustodian(ctx, marketID, vault, to, pos.Amount); err != nil {
		return 0, fmt.Errorf("settlement: refund transfer: %w", err)
	}

	pos.Claimed = true
	pos.UpdatedAt = now
	if err := e.positions.Update(ctx, pos); err != nil {
		e.logger.ErrorContext(ctx, "refund paid but flag not persisted",
			slog.String("position_id", pos.ID.Hex()),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("settlement: mark claimed: %w", err)
	}

	e.auditLog(ctx, domain.EventRefunded, map[string]any{
		"market_id":   marketID.Hex(),
		"position_id": pos.ID.Hex(),
		"owner":       caller.Hex(),
		"amount":      strconv.FormatUint(pos.Amount, 10),
	})
	e.publish(ctx, domain.MarketEvent{
		Type:      domain.EventRefunded,
		MarketID:  marketID.Hex(),
		Owner:     caller.Hex(),
		Amount:    strconv.FormatUint(pos.Amount, 10),
		Timestamp: now.Unix(),
	})

	return pos.Amount, nil
}

// authorizedPosition asserts the derived-address and ownership guards
// shared by the claim and refund paths, then loads the position and checks
// it has not been claimed.
func (e *Engine) authorizedPosition(ctx context.Context, caller common.Address, marketID, positionID common.Hash) (domain.Position, error) {
	if domain.PositionID(e.cfg.Namespace, marketID, caller) != positionID {
		return domain.Position{}, domain.ErrUnauthorized
	}
	pos, err := e.positions.Get(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("settlement: load position: %w", err)
	}
	if pos.Owner != caller || pos.MarketID != marketID {
		return domain.Position{}, domain.ErrUnauthorized
	}
	if pos.Claimed {
		return domain.Position{}, domain.ErrAlreadyClaimed
	}
	return pos, nil
}

func (e *Engine) lock(ctx context.Context, marketID common.Hash) (func(), error) {
	if e.locks == nil {
		return func() {}, nil
	}
	unlock, err := e.locks.Acquire(ctx, "market:"+marketID.Hex(), e.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("settlement: lock market: %w", err)
	}
	return unlock, nil
}

// returnStake sends a staked amount back to the bettor's holding account
// after a bookkeeping write failed post-transfer. The vault is custodied by
// the market, so the reversal runs under the market's authority. If the
// reversal itself fails the stake stays in the vault and the error log
// carries enough to reconcile it by hand.
func (e *Engine) returnStake(ctx context.Context, marketID common.Hash, vault, to common.Hash, amount uint64) {
	if err := e.ledger.TransferAsCustodian(ctx, marketID, vault, to, amount); err != nil {
		e.logger.ErrorContext(ctx, "stake return failed",
			slog.String("market", marketID.Hex()),
			slog.String("vault", vault.Hex()),
			slog.String("account", to.Hex()),
			slog.String("amount", strconv.FormatUint(amount, 10)),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) auditLog(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) publish(ctx context.Context, evt domain.MarketEvent) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, "markets", payload); err != nil {
		e.logger.WarnContext(ctx, "publish event failed",
			slog.String("type", evt.Type),
			slog.String("error", err.Error()),
		)
	}
	if err := e.bus.StreamAppend(ctx, "stream:markets", payload); err != nil {
		e.logger.WarnContext(ctx, "stream append failed",
			slog.String("type", evt.Type),
			slog.String("error", err.Error()),
		)
	}
}

func addInt64(a, b int64) (int64, bool) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, false
	}
	if b < 0 && a < math.MinInt64-b {
		return 0, false
	}
	return a + b, true
}

func addUint64(a, b uint64) (uint64, bool) {
	if a > math.MaxUint64-b {
		return 0, false
	}
	return a + b, true
}

func absInt64(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}
