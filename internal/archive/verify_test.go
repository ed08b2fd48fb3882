package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/bgpkit-collab/bgparchive/internal/config"
)

func testArchiveConfig(root string) *config.ArchiveConfig {
	return &config.ArchiveConfig{
		CollectorID:   "focl01",
		LayoutProfile: config.LayoutProfileRouteViews,
		Compression:   config.CompressionGzip,
		Root:          root,
	}
}

func TestVerifyManifests_MatchingSidecarPasses(t *testing.T) {
	dir := t.TempDir()
	segmentPath := filepath.Join(dir, "updates.20260221.1330.gz")
	if err := os.WriteFile(segmentPath, []byte("mrt-bytes"), 0o644); err != nil {
		t.Fatalf("failed to write fixture segment: %v", err)
	}

	m, err := BuildManifest("focl01", StreamUpdates, 1_700_000_000, 1_700_000_900, 1,
		config.CompressionGzip, config.LayoutProfileRouteViews, segmentPath, "updates.20260221.1330.gz")
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}
	if _, err := m.WriteSidecar(segmentPath); err != nil {
		t.Fatalf("WriteSidecar: %v", err)
	}

	result, err := VerifyManifests(context.Background(), testArchiveConfig(dir), zap.NewNop())
	if err != nil {
		t.Fatalf("VerifyManifests: %v", err)
	}
	if result.Checked != 1 || result.Mismatched != 0 || result.Rebuilt != 0 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestVerifyManifests_TamperedSegmentReportsMismatch(t *testing.T) {
	dir := t.TempDir()
	segmentPath := filepath.Join(dir, "updates.20260221.1330.gz")
	if err := os.WriteFile(segmentPath, []byte("mrt-bytes"), 0o644); err != nil {
		t.Fatalf("failed to write fixture segment: %v", err)
	}

	m, err := BuildManifest("focl01", StreamUpdates, 1_700_000_000, 1_700_000_900, 1,
		config.CompressionGzip, config.LayoutProfileRouteViews, segmentPath, "updates.20260221.1330.gz")
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}
	if _, err := m.WriteSidecar(segmentPath); err != nil {
		t.Fatalf("WriteSidecar: %v", err)
	}

	if err := os.WriteFile(segmentPath, []byte("tampered-bytes"), 0o644); err != nil {
		t.Fatalf("failed to tamper with segment: %v", err)
	}

	result, err := VerifyManifests(context.Background(), testArchiveConfig(dir), zap.NewNop())
	if err != nil {
		t.Fatalf("VerifyManifests: %v", err)
	}
	if result.Mismatched != 1 {
		t.Errorf("expected 1 mismatch, got %+v", result)
	}
}

func TestVerifyManifests_MissingSidecarIsRebuilt(t *testing.T) {
	dir := t.TempDir()
	segmentPath := filepath.Join(dir, "rib.20260221.0000.gz")
	if err := os.WriteFile(segmentPath, []byte("rib-bytes"), 0o644); err != nil {
		t.Fatalf("failed to write fixture segment: %v", err)
	}

	result, err := VerifyManifests(context.Background(), testArchiveConfig(dir), zap.NewNop())
	if err != nil {
		t.Fatalf("VerifyManifests: %v", err)
	}
	if result.Rebuilt != 1 {
		t.Errorf("expected 1 rebuilt, got %+v", result)
	}

	rebuilt, err := ReadManifest(segmentPath + ".json")
	if err != nil {
		t.Fatalf("expected rebuilt sidecar to be readable: %v", err)
	}
	if rebuilt.Stream != StreamRibs.String() {
		t.Errorf("expected stream %q, got %q", StreamRibs.String(), rebuilt.Stream)
	}
}

func TestVerifyManifests_UnrecognizedFilenameIsUnverifiable(t *testing.T) {
	dir := t.TempDir()
	segmentPath := filepath.Join(dir, "mystery-blob.dat")
	if err := os.WriteFile(segmentPath, []byte("???"), 0o644); err != nil {
		t.Fatalf("failed to write fixture segment: %v", err)
	}

	result, err := VerifyManifests(context.Background(), testArchiveConfig(dir), zap.NewNop())
	if err != nil {
		t.Fatalf("VerifyManifests: %v", err)
	}
	if result.Unverifiable != 1 {
		t.Errorf("expected 1 unverifiable, got %+v", result)
	}
}
