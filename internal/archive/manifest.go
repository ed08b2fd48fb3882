package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/bgpkit-collab/bgparchive/internal/config"
)

// SegmentManifest is the JSON sidecar written next to every finalized
// segment at "<final_path>.json". It is the unit of truth the Replicator
// and catalog verification read back.
type SegmentManifest struct {
	CollectorID   string                 `json:"collector_id"`
	Stream        string                 `json:"stream"`
	StartTS       int64                  `json:"start_ts"`
	EndTS         int64                  `json:"end_ts"`
	RecordCount   uint64                 `json:"record_count"`
	Bytes         uint64                 `json:"bytes"`
	SHA256        string                 `json:"sha256"`
	Compression   config.CompressionKind `json:"compression"`
	LayoutProfile config.LayoutProfile   `json:"layout_profile"`
	RelativePath  string                 `json:"relative_path"`
}

// BuildManifest stats and hashes the finalized segment at segmentPath and
// returns its manifest. The hash is computed by re-reading the file rather
// than accumulated during the write, so the manifest always reflects
// exactly what landed on disk.
func BuildManifest(collectorID string, stream ArchiveStream, startTS, endTS int64, recordCount uint64, compression config.CompressionKind, layoutProfile config.LayoutProfile, segmentPath, relativePath string) (SegmentManifest, error) {
	info, err := os.Stat(segmentPath)
	if err != nil {
		return SegmentManifest{}, fmt.Errorf("%w: failed to stat segment %s: %v", ErrIO, segmentPath, err)
	}

	sum, err := computeSHA256(segmentPath)
	if err != nil {
		return SegmentManifest{}, err
	}

	return SegmentManifest{
		CollectorID:   collectorID,
		Stream:        stream.String(),
		StartTS:       startTS,
		EndTS:         endTS,
		RecordCount:   recordCount,
		Bytes:         uint64(info.Size()),
		SHA256:        sum,
		Compression:   compression,
		LayoutProfile: layoutProfile,
		RelativePath:  relativePath,
	}, nil
}

// WriteSidecar serializes the manifest as indented JSON to
// "<segmentPath>.json" and returns the sidecar's path. The write is a
// plain file write, not an atomic rename — the segment itself is already
// durable by the time the manifest is written, and losing a manifest write
// to a crash is recoverable by re-hashing the segment.
func (m SegmentManifest) WriteSidecar(segmentPath string) (string, error) {
	manifestPath := segmentPath + ".json"
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: failed to marshal manifest: %v", ErrIO, err)
	}
	if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: failed to write manifest %s: %v", ErrIO, manifestPath, err)
	}
	return manifestPath, nil
}

func computeSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: failed to open segment for hashing %s: %v", ErrHash, path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("%w: failed reading %s for hashing: %v", ErrHash, path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// ReadManifest loads a manifest sidecar from disk, used by the Replicator
// to recover a job's destination-bound metadata and by manifest
// re-verification.
func ReadManifest(manifestPath string) (SegmentManifest, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return SegmentManifest{}, fmt.Errorf("%w: failed reading manifest %s: %v", ErrIO, manifestPath, err)
	}
	var m SegmentManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return SegmentManifest{}, fmt.Errorf("%w: failed parsing manifest %s: %v", ErrIO, manifestPath, err)
	}
	return m, nil
}

// VerifySegment re-hashes the segment at segmentPath and compares it
// against the manifest's recorded hash, returning ErrHash if they differ.
func VerifySegment(segmentPath string, manifest SegmentManifest) error {
	sum, err := computeSHA256(segmentPath)
	if err != nil {
		return err
	}
	if sum != manifest.SHA256 {
		return fmt.Errorf("%w: segment %s hash mismatch: manifest has %s, computed %s", ErrHash, segmentPath, manifest.SHA256, sum)
	}
	return nil
}
