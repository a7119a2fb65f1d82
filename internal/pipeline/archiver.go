// Package pipeline contains the background jobs that move settled data out
// of the hot store.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/flashmarket/internal/domain"
)

// BlobWriter uploads one archive object as JSON. The S3 writer implements it.
type BlobWriter interface {
	PutJSON(ctx context.Context, key string, v any) error
}

// archivePageSize is how many records each store query fetches per page.
const archivePageSize = 200

// Archiver copies settled markets, their positions, and aged audit entries
// to object storage. Market rows stay in the database; the archive is a
// cold replica for analytics and audits, not a deletion pass.
type Archiver struct {
	markets   domain.MarketStore
	positions domain.PositionStore
	audit     domain.AuditStore
	blobs     BlobWriter

	prefix        string
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiver creates an Archiver. prefix is the object key prefix under
// which all archive objects are written.
func NewArchiver(
	markets domain.MarketStore,
	positions domain.PositionStore,
	audit domain.AuditStore,
	blobs BlobWriter,
	prefix string,
	retentionDays int,
	logger *slog.Logger,
) *Archiver {
	if prefix == "" {
		prefix = "archive"
	}
	return &Archiver{
		markets:       markets,
		positions:     positions,
		audit:         audit,
		blobs:         blobs,
		prefix:        prefix,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// marketSnapshot is the archived form of one settled market and every
// position it ever held.
type marketSnapshot struct {
	Market     domain.Market     `json:"market"`
	Positions  []domain.Position `json:"positions"`
	ArchivedAt time.Time         `json:"archived_at"`
}

// Run executes a single archive pass. Markets settled before the retention
// cutoff are snapshotted one object per market; audit entries older than
// the cutoff are batched into one object per pass.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.now().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	var archived int
	for _, outcome := range []domain.Outcome{domain.OutcomeYes, domain.OutcomeNo, domain.OutcomeRefunded} {
		n, err := a.archiveOutcome(ctx, outcome, cutoff)
		if err != nil {
			return fmt.Errorf("archiving %s markets before %v: %w", outcome, cutoff, err)
		}
		archived += n
	}
	a.logger.InfoContext(ctx, "archived markets", slog.Int("count", archived))

	auditCount, err := a.archiveAudit(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving audit entries before %v: %w", cutoff, err)
	}
	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int("markets_archived", archived),
		slog.Int("audit_archived", auditCount),
	)
	return nil
}

// RunPeriodic runs the archiver at the given interval until the context is
// cancelled.
func (a *Archiver) RunPeriodic(ctx context.Context, interval time.Duration) error {
	a.logger.InfoContext(ctx, "archiver started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.InfoContext(ctx, "archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// archiveOutcome pages through markets in one terminal state and uploads a
// snapshot for each market that settled before the cutoff.
func (a *Archiver) archiveOutcome(ctx context.Context, outcome domain.Outcome, cutoff time.Time) (int, error) {
	archived := 0
	for offset := 0; ; offset += archivePageSize {
		page, err := a.markets.ListByOutcome(ctx, outcome, domain.ListOpts{
			Limit:  archivePageSize,
			Offset: offset,
		})
		if err != nil {
			return archived, err
		}
		for _, m := range page {
			if !m.UpdatedAt.Before(cutoff) {
				continue
			}
			if err := a.archiveMarket(ctx, m); err != nil {
				return archived, err
			}
			archived++
		}
		if len(page) < archivePageSize {
			return archived, nil
		}
	}
}

// archiveMarket snapshots one market with all its positions.
func (a *Archiver) archiveMarket(ctx context.Context, m domain.Market) error {
	var positions []domain.Position
	for offset := 0; ; offset += archivePageSize {
		page, err := a.positions.ListByMarket(ctx, m.ID, domain.ListOpts{
			Limit:  archivePageSize,
			Offset: offset,
		})
		if err != nil {
			return fmt.Errorf("listing positions for %s: %w", m.ID.Hex(), err)
		}
		positions = append(positions, page...)
		if len(page) < archivePageSize {
			break
		}
	}

	snapshot := marketSnapshot{
		Market:     m,
		Positions:  positions,
		ArchivedAt: a.now(),
	}
	key := fmt.Sprintf("%s/markets/%s/%s.json", a.prefix, m.UpdatedAt.UTC().Format("2006/01/02"), m.ID.Hex())
	if err := a.blobs.PutJSON(ctx, key, snapshot); err != nil {
		return err
	}

	a.logger.DebugContext(ctx, "market archived",
		slog.String("market", m.ID.Hex()),
		slog.String("key", key),
		slog.Int("positions", len(positions)),
	)
	return nil
}

// archiveAudit batches audit entries older than the cutoff into a single
// object keyed by the run timestamp.
func (a *Archiver) archiveAudit(ctx context.Context, cutoff time.Time) (int, error) {
	var entries []domain.AuditEntry
	for offset := 0; ; offset += archivePageSize {
		page, err := a.audit.List(ctx, domain.ListOpts{
			Limit:  archivePageSize,
			Offset: offset,
			Until:  &cutoff,
		})
		if err != nil {
			return 0, err
		}
		entries = append(entries, page...)
		if len(page) < archivePageSize {
			break
		}
	}
	if len(entries) == 0 {
		return 0, nil
	}

	key := fmt.Sprintf("%s/audit/%s.json", a.prefix, a.now().Format("2006-01-02T15-04-05Z"))
	if err := a.blobs.PutJSON(ctx, key, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}
