package archive

import (
	"testing"
	"time"

	"github.com/bgpkit-collab/bgparchive/internal/config"
)

func baseArchiveConfig() *config.ArchiveConfig {
	return &config.ArchiveConfig{
		Enabled:             true,
		CollectorID:         "focl01",
		LayoutProfile:       config.LayoutProfileRouteViews,
		UpdatesIntervalSecs: 900,
		RibsIntervalSecs:    7200,
		Compression:         config.CompressionGzip,
		Root:                "/archive",
		TmpRoot:             "/archive/.tmp",
	}
}

func TestAlignedEpoch(t *testing.T) {
	got := AlignedEpoch(1_700_000_001, 900)
	if got != 1_699_999_200 {
		t.Errorf("expected 1699999200, got %d", got)
	}
}

func TestAlignedEpoch_NegativeTimestampStable(t *testing.T) {
	got := AlignedEpoch(-1, 900)
	if got%900 != 0 || got > -1 {
		t.Errorf("expected aligned epoch <= -1 and a multiple of 900, got %d", got)
	}
}

func TestSegmentPathsFor_RouteViewsLayout(t *testing.T) {
	cfg := baseArchiveConfig()
	ts := time.Date(2026, 2, 21, 13, 43, 0, 0, time.UTC).Unix()

	paths, err := SegmentPathsFor(cfg, StreamUpdates, ts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "focl01/2026.02/UPDATES/updates.20260221.1330.gz"
	if paths.RelativePath != want {
		t.Errorf("expected %q, got %q", want, paths.RelativePath)
	}
}

func TestSegmentPathsFor_RisLayout(t *testing.T) {
	cfg := baseArchiveConfig()
	cfg.LayoutProfile = config.LayoutProfileRis
	cfg.CollectorID = "rrc00"
	ts := time.Date(2026, 2, 21, 13, 43, 0, 0, time.UTC).Unix()

	paths, err := SegmentPathsFor(cfg, StreamRibs, ts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "rrc00/2026.02/bview.20260221.1200.gz"
	if paths.RelativePath != want {
		t.Errorf("expected %q, got %q", want, paths.RelativePath)
	}
}

func TestSegmentPathsFor_CustomLayout(t *testing.T) {
	cfg := baseArchiveConfig()
	cfg.LayoutProfile = config.LayoutProfileCustom
	cfg.CustomTemplates = &config.CustomLayoutTemplates{
		Updates: "{collector}/{yyyy}/{mm}/updates.{yyyymmdd}.{hhmm}.{ext}",
		Ribs:    "{collector}/{yyyy}/{mm}/ribs.{yyyymmdd}.{hhmm}.{ext}",
	}
	ts := time.Date(2026, 2, 21, 13, 43, 0, 0, time.UTC).Unix()

	paths, err := SegmentPathsFor(cfg, StreamUpdates, ts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "focl01/2026/02/updates.20260221.1330.gz"
	if paths.RelativePath != want {
		t.Errorf("expected %q, got %q", want, paths.RelativePath)
	}
}

func TestSegmentPathsFor_CustomLayoutMissingTokenFails(t *testing.T) {
	cfg := baseArchiveConfig()
	cfg.LayoutProfile = config.LayoutProfileCustom
	cfg.CustomTemplates = &config.CustomLayoutTemplates{
		Updates: "{collector}/updates.{ext}",
		Ribs:    "{collector}/{yyyy}/{mm}/ribs.{yyyymmdd}.{hhmm}.{ext}",
	}
	ts := time.Date(2026, 2, 21, 13, 43, 0, 0, time.UTC).Unix()

	_, err := SegmentPathsFor(cfg, StreamUpdates, ts)
	if err == nil {
		t.Fatal("expected error for template missing required tokens")
	}
}

func TestSegmentPathsFor_TmpPathDerivedFromFinalName(t *testing.T) {
	cfg := baseArchiveConfig()
	ts := time.Date(2026, 2, 21, 13, 43, 0, 0, time.UTC).Unix()

	paths, err := SegmentPathsFor(cfg, StreamUpdates, ts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "/archive/.tmp/focl01/2026.02/UPDATES/.updates.20260221.1330.gz.tmp"
	if paths.TmpPath != want {
		t.Errorf("expected tmp path %q, got %q", want, paths.TmpPath)
	}
}
