package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/flashmarket/internal/crypto"
	"github.com/alanyoungcy/flashmarket/internal/keeper"
	"github.com/alanyoungcy/flashmarket/internal/server"
	"github.com/alanyoungcy/flashmarket/internal/server/handler"
	"github.com/alanyoungcy/flashmarket/internal/server/ws"
)

// ServerMode runs the HTTP + WebSocket API without the resolver loop. Bets
// and claims flow through the API; resolution is left to a separate keeper
// process.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// KeeperMode runs only the resolver loop: poll for expired markets and
// resolve them under the configured keeper identity. Headless; the HTTP
// server is not started even when server.enabled is set.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startKeeper(ctx, g, deps); err != nil {
		return fmt.Errorf("keeper mode: %w", err)
	}
	return g.Wait()
}

// ArchiveMode runs the cold-storage archiver: one pass immediately, then
// periodically per archive.interval.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.BlobWriter == nil {
		return fmt.Errorf("archive mode: archive.enabled must be true and s3 configured")
	}

	arch := a.newArchiver(deps)
	if err := arch.Run(ctx); err != nil {
		a.logger.ErrorContext(ctx, "initial archive pass failed",
			slog.String("error", err.Error()),
		)
	}
	return arch.RunPeriodic(ctx, a.cfg.Archive.Interval.Duration)
}

// FullMode runs everything in one process: the HTTP server, the keeper
// resolver loop, and the archiver when enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	if err := a.startKeeper(ctx, g, deps); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	if a.cfg.Archive.Enabled && deps.BlobWriter != nil {
		arch := a.newArchiver(deps)
		g.Go(func() error {
			return arch.RunPeriodic(ctx, a.cfg.Archive.Interval.Duration)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// startKeeper loads the keeper signing key, derives its identity, and adds
// the resolver loop to the errgroup.
func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Keeper.PrivateKey,
		EncryptedKeyPath: a.cfg.Keeper.EncryptedKeyPath,
		KeyPassword:      a.cfg.Keeper.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("load keeper key: %w", err)
	}
	signer, err := crypto.NewSigner(keyHex)
	if err != nil {
		return fmt.Errorf("create keeper signer: %w", err)
	}

	a.logger.InfoContext(ctx, "keeper identity loaded",
		slog.String("address", signer.Address().Hex()),
	)

	k := keeper.New(
		deps.MarketStore,
		deps.Engine,
		signer.Address(),
		a.cfg.Keeper.PollInterval.Duration,
		a.cfg.Keeper.BatchSize,
		a.logger,
	)
	g.Go(func() error {
		return k.Run(ctx)
	})
	return nil
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
		},
		server.Handlers{
			Health:    handler.NewHealthHandler(a.logger),
			Markets:   handler.NewMarketHandler(deps.Engine, deps.MarketStore, a.logger),
			Positions: handler.NewPositionHandler(deps.Engine, deps.PositionStore, a.logger),
			Accounts:  handler.NewAccountHandler(deps.Ledger, deps.Namespace, a.logger),
			Audit:     handler.NewAuditHandler(deps.AuditStore, a.logger),
		},
		hub,
		a.logger,
	)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
