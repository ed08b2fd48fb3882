package archive

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/bgpkit-collab/bgparchive/internal/config"
)

func writerTestConfig(t *testing.T, compression config.CompressionKind) (*config.ArchiveConfig, string) {
	t.Helper()
	root := t.TempDir()
	return &config.ArchiveConfig{
		Enabled:             true,
		CollectorID:         "focl01",
		LayoutProfile:       config.LayoutProfileRouteViews,
		UpdatesIntervalSecs: 900,
		RibsIntervalSecs:    7200,
		Compression:         compression,
		Root:                filepath.Join(root, "archive"),
		TmpRoot:             filepath.Join(root, "archive", ".tmp"),
		FsyncOnRotate:       true,
	}, root
}

func TestSegmentWriter_WriteAndFinalizeGzip(t *testing.T) {
	cfg, _ := writerTestConfig(t, config.CompressionGzip)
	paths, err := SegmentPathsFor(cfg, StreamUpdates, 1_700_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w, err := NewSegmentWriter(cfg, StreamUpdates, 1_700_000_000, paths)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(paths.TmpPath); err != nil {
		t.Fatalf("expected tmp file to exist: %v", err)
	}

	if err := w.WriteRecord([]byte("record-one")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.WriteRecord([]byte("record-two")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.RecordCount() != 2 {
		t.Errorf("expected record count 2, got %d", w.RecordCount())
	}

	finalized, err := w.Finalize(1_700_000_900)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(paths.TmpPath); !os.IsNotExist(err) {
		t.Errorf("expected tmp file to be gone after finalize, got err=%v", err)
	}
	if _, err := os.Stat(finalized.FinalPath); err != nil {
		t.Errorf("expected final file to exist: %v", err)
	}
	if _, err := os.Stat(finalized.ManifestPath); err != nil {
		t.Errorf("expected manifest sidecar to exist: %v", err)
	}

	f, err := os.Open(finalized.FinalPath)
	if err != nil {
		t.Fatalf("failed to open final segment: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("expected valid gzip stream: %v", err)
	}
	defer gz.Close()
	got, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("failed to decompress: %v", err)
	}
	want := "record-onerecord-two"
	if string(got) != want {
		t.Errorf("expected decompressed content %q, got %q", want, string(got))
	}

	manifest, err := ReadManifest(finalized.ManifestPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := VerifySegment(finalized.FinalPath, manifest); err != nil {
		t.Errorf("expected manifest hash to verify: %v", err)
	}
}

func TestSegmentWriter_WriteAndFinalizeZstd(t *testing.T) {
	cfg, _ := writerTestConfig(t, config.CompressionZstd)
	paths, err := SegmentPathsFor(cfg, StreamRibs, 1_700_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w, err := NewSegmentWriter(cfg, StreamRibs, 1_700_000_000, paths)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.WriteRecord([]byte("zstd-record")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	finalized, err := w.Finalize(1_700_000_900)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if finalized.RecordCount != 1 {
		t.Errorf("expected record count 1, got %d", finalized.RecordCount)
	}
}

func TestNewSegmentWriter_RejectsBzip2(t *testing.T) {
	cfg, _ := writerTestConfig(t, config.CompressionBzip2)
	paths, err := SegmentPathsFor(cfg, StreamUpdates, 1_700_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = NewSegmentWriter(cfg, StreamUpdates, 1_700_000_000, paths)
	if err == nil {
		t.Fatal("expected bzip2 segment encoding to be rejected")
	}
}

func TestSegmentWriter_Abort_RemovesTmpFile(t *testing.T) {
	cfg, _ := writerTestConfig(t, config.CompressionGzip)
	paths, err := SegmentPathsFor(cfg, StreamUpdates, 1_700_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w, err := NewSegmentWriter(cfg, StreamUpdates, 1_700_000_000, paths)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.WriteRecord([]byte("abandoned")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := w.Abort(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(paths.TmpPath); !os.IsNotExist(err) {
		t.Errorf("expected tmp file removed after abort, got err=%v", err)
	}
}
