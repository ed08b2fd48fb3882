// Package catalog maintains a Postgres-backed index of finalized MRT
// segments: one row per segment recording where it lives, what it hashes
// to, and the outcome of its latest replication attempt. It never
// stores archived record bytes, only the manifest fields already written
// to each segment's JSON sidecar.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/bgpkit-collab/bgparchive/internal/archive"
	"github.com/bgpkit-collab/bgparchive/internal/metrics"
)

// Writer upserts segment_catalog rows from archive lifecycle events.
type Writer struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewWriter(pool *pgxpool.Pool, logger *zap.Logger) *Writer {
	return &Writer{pool: pool, logger: logger}
}

// UpsertFinalized inserts or refreshes the catalog row for a just-finalized
// segment from its manifest, which handleEvent reads from the sidecar since
// the Event itself doesn't carry those fields (hash, size, compression).
func (w *Writer) UpsertFinalized(ctx context.Context, manifest archive.SegmentManifest) error {
	start := time.Now()

	const sql = `
		INSERT INTO segment_catalog (
			collector_id, stream, start_ts, end_ts, record_count, bytes,
			sha256, compression, layout_profile, relative_path, replication_state, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'pending', now())
		ON CONFLICT (collector_id, stream, relative_path, start_ts) DO UPDATE SET
			end_ts            = EXCLUDED.end_ts,
			record_count      = EXCLUDED.record_count,
			bytes             = EXCLUDED.bytes,
			sha256            = EXCLUDED.sha256,
			compression       = EXCLUDED.compression,
			layout_profile    = EXCLUDED.layout_profile,
			updated_at        = now()`

	_, err := w.pool.Exec(ctx, sql,
		manifest.CollectorID, manifest.Stream, manifest.StartTS, manifest.EndTS,
		manifest.RecordCount, manifest.Bytes, manifest.SHA256, string(manifest.Compression),
		string(manifest.LayoutProfile), manifest.RelativePath,
	)

	metrics.CatalogWriteDuration.WithLabelValues("upsert_finalized").Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("catalog: upserting segment %s: %w", manifest.RelativePath, err)
	}
	return nil
}

// UpdateReplicationState records a cataloged segment's replication outcome.
// The catalog keeps a single state per segment rather than per-destination
// rows, and each call overwrites it: the row shows the outcome of the most
// recent replication event from whichever destination reported it.
// Outcomes are not aggregated across destinations.
func (w *Writer) UpdateReplicationState(ctx context.Context, collectorID, stream, relativePath, state string) error {
	start := time.Now()

	const sql = `
		UPDATE segment_catalog
		SET replication_state = $4, updated_at = now()
		WHERE collector_id = $1 AND stream = $2 AND relative_path = $3`

	tag, err := w.pool.Exec(ctx, sql, collectorID, stream, relativePath, state)
	metrics.CatalogWriteDuration.WithLabelValues("update_replication_state").Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("catalog: updating replication state for %s: %w", relativePath, err)
	}
	if tag.RowsAffected() == 0 {
		w.logger.Warn("catalog: replication state update matched no row",
			zap.String("relative_path", relativePath), zap.String("state", state))
	}
	return nil
}

// Run subscribes to the archive service's event stream and drives the
// catalog from segment finalize and replication outcome events until ctx
// is cancelled. Intended to run as a long-lived goroutine from the serve
// subcommand.
func (w *Writer) Run(ctx context.Context, events <-chan archive.EventEnvelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case envelope, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(ctx, envelope.Event)
		}
	}
}

func (w *Writer) handleEvent(ctx context.Context, event archive.Event) {
	switch event.Kind {
	case archive.EventSegmentFinalized:
		manifest, err := archive.ReadManifest(event.Path + ".json")
		if err != nil {
			w.logger.Error("catalog: reading manifest for finalized segment", zap.String("path", event.Path), zap.Error(err))
			return
		}
		if err := w.UpsertFinalized(ctx, manifest); err != nil {
			w.logger.Error("catalog: upsert failed", zap.Error(err))
		}
	case archive.EventReplicationSucceeded, archive.EventReplicationFailed:
		manifest, err := archive.ReadManifest(event.Path + ".json")
		if err != nil {
			w.logger.Error("catalog: reading manifest for replication event", zap.String("path", event.Path), zap.Error(err))
			return
		}
		state := "replicated"
		if event.Kind == archive.EventReplicationFailed {
			state = "failed"
		}
		if err := w.UpdateReplicationState(ctx, manifest.CollectorID, manifest.Stream, manifest.RelativePath, state); err != nil {
			w.logger.Error("catalog: replication state update failed", zap.Error(err))
		}
	}
}
