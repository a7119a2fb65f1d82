// Package keeper runs the resolver loop that settles expired markets
// against the price oracle.
package keeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flashmarket/internal/domain"
)

// Resolver settles a single expired market. The settlement engine
// implements it.
type Resolver interface {
	ResolveMarket(ctx context.Context, caller common.Address, marketID common.Hash) (domain.Market, error)
}

// Keeper polls the market store for pending markets past their grace window
// and resolves each one under the configured keeper identity. Markets whose
// oracle reading is rejected (stale, zero price, wide confidence) stay
// pending and are retried on the next tick until their refund window opens.
type Keeper struct {
	markets  domain.MarketStore
	resolver Resolver
	identity common.Address
	interval time.Duration
	batch    int
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Keeper. identity must match the keeper address recorded on
// the markets it is expected to settle.
func New(markets domain.MarketStore, resolver Resolver, identity common.Address, interval time.Duration, batch int, logger *slog.Logger) *Keeper {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if batch < 1 {
		batch = 50
	}
	return &Keeper{
		markets:  markets,
		resolver: resolver,
		identity: identity,
		interval: interval,
		batch:    batch,
		logger:   logger.With(slog.String("component", "keeper")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the keeper clock. Tests only.
func (k *Keeper) SetClock(now func() time.Time) {
	k.now = now
}

// Run polls until the context is cancelled. One tick is executed immediately
// on start so a restarted keeper does not wait a full interval before
// catching up on a backlog.
func (k *Keeper) Run(ctx context.Context) error {
	k.logger.InfoContext(ctx, "keeper started",
		slog.String("identity", k.identity.Hex()),
		slog.Duration("interval", k.interval),
		slog.Int("batch", k.batch),
	)

	k.tick(ctx)

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			k.logger.InfoContext(ctx, "keeper stopped")
			return ctx.Err()
		case <-ticker.C:
			k.tick(ctx)
		}
	}
}

// tick resolves every market currently past its grace window, up to the
// batch limit. Failures are logged per market and never abort the sweep.
func (k *Keeper) tick(ctx context.Context) {
	due, err := k.markets.ListResolvable(ctx, k.now().Unix(), k.batch)
	if err != nil {
		k.logger.ErrorContext(ctx, "listing resolvable markets failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if len(due) == 0 {
		return
	}

	k.logger.InfoContext(ctx, "resolving due markets", slog.Int("count", len(due)))

	for _, m := range due {
		if ctx.Err() != nil {
			return
		}
		resolved, err := k.resolver.ResolveMarket(ctx, k.identity, m.ID)
		switch {
		case err == nil:
			k.logger.InfoContext(ctx, "market resolved",
				slog.String("market", m.ID.Hex()),
				slog.String("asset", m.AssetName),
				slog.String("outcome", string(resolved.Outcome)),
				slog.Uint64("settlement_price", resolved.SettlementPrice),
			)
		case errors.Is(err, domain.ErrMarketAlreadyResolved):
			// Another keeper instance got there first.
		case errors.Is(err, domain.ErrStaleOracleReading),
			errors.Is(err, domain.ErrInvalidOraclePrice),
			errors.Is(err, domain.ErrInvalidOracleConfidence):
			k.logger.WarnContext(ctx, "oracle reading rejected, will retry",
				slog.String("market", m.ID.Hex()),
				slog.String("feed", m.OracleFeed),
				slog.String("error", err.Error()),
			)
		default:
			k.logger.ErrorContext(ctx, "market resolution failed",
				slog.String("market", m.ID.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
}
