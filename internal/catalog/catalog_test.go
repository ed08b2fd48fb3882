package catalog

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bgpkit-collab/bgparchive/internal/archive"
)

// handleEvent never reaches the pool for an event whose manifest sidecar
// can't be read, so these exercise that branch without a live Postgres.
func TestHandleEvent_MissingManifestIsSkipped(t *testing.T) {
	w := NewWriter(nil, zap.NewNop())

	w.handleEvent(context.Background(), archive.Event{
		Kind: archive.EventSegmentFinalized,
		Path: "/nonexistent/updates.20260221.1330.gz",
	})
	w.handleEvent(context.Background(), archive.Event{
		Kind: archive.EventReplicationSucceeded,
		Path: "/nonexistent/updates.20260221.1330.gz",
	})
	w.handleEvent(context.Background(), archive.Event{
		Kind: archive.EventReplicationFailed,
		Path: "/nonexistent/updates.20260221.1330.gz",
	})
	// No panic and no pool access: success.
}

func TestRun_ExitsWhenContextCancelled(t *testing.T) {
	w := NewWriter(nil, zap.NewNop())
	events := make(chan archive.EventEnvelope)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Run(ctx, events)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after context cancellation")
	}
}

func TestRun_ExitsWhenEventsChannelClosed(t *testing.T) {
	w := NewWriter(nil, zap.NewNop())
	events := make(chan archive.EventEnvelope)

	done := make(chan struct{})
	go func() {
		w.Run(context.Background(), events)
		close(done)
	}()

	close(events)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after events channel closed")
	}
}
