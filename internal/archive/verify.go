package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/bgpkit-collab/bgparchive/internal/config"
)

// VerificationResult summarizes one pass of VerifyManifests.
type VerificationResult struct {
	Checked       int
	Mismatched    int
	Rebuilt       int
	Unverifiable  int
}

// VerifyManifests walks root and, for every segment file it finds,
// recomputes its SHA-256 and compares it against the manifest sidecar.
// A segment with no sidecar has one rebuilt from what can be inferred from
// its path and current size; a segment whose hash disagrees with an
// existing sidecar is reported as mismatched but left on disk untouched.
func VerifyManifests(ctx context.Context, cfg *config.ArchiveConfig, logger *zap.Logger) (VerificationResult, error) {
	var result VerificationResult

	err := filepath.Walk(cfg.Root, func(path string, info os.FileInfo, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasSuffix(path, ".json") {
			return nil
		}

		result.Checked++
		manifestPath := path + ".json"

		manifest, readErr := ReadManifest(manifestPath)
		if readErr != nil {
			// ReadManifest wraps the underlying os error as a plain string, so a
			// missing sidecar can't be distinguished from a corrupt one by type;
			// either way the fix is the same: rebuild from the segment itself.
			rebuilt, rebuildErr := rebuildManifest(cfg, path, info)
			if rebuildErr != nil {
				result.Unverifiable++
				logger.Warn("verify: segment has no manifest and could not infer one",
					zap.String("path", path), zap.Error(rebuildErr))
				return nil
			}
			if _, err := rebuilt.WriteSidecar(path); err != nil {
				result.Unverifiable++
				logger.Warn("verify: failed writing rebuilt manifest", zap.String("path", path), zap.Error(err))
				return nil
			}
			result.Rebuilt++
			logger.Info("verify: rebuilt missing manifest", zap.String("path", path))
			return nil
		}

		if verifyErr := VerifySegment(path, manifest); verifyErr != nil {
			result.Mismatched++
			logger.Error("verify: segment hash mismatch", zap.String("path", path), zap.Error(verifyErr))
			return nil
		}

		return nil
	})
	if err != nil {
		return result, fmt.Errorf("%w: walking archive root %s: %v", ErrIO, cfg.Root, err)
	}

	return result, nil
}

// rebuildManifest infers what it can about a sidecar-less segment from its
// path and filesystem metadata. The stream is guessed from the filename
// ("updates.*"/"rib.*"/"bview.*"), which holds for every built-in layout
// profile; a custom profile whose templates don't follow that convention
// is left unverifiable rather than guessed at.
func rebuildManifest(cfg *config.ArchiveConfig, path string, info os.FileInfo) (SegmentManifest, error) {
	base := filepath.Base(path)
	var stream ArchiveStream
	switch {
	case strings.HasPrefix(base, "updates."):
		stream = StreamUpdates
	case strings.HasPrefix(base, "rib.") || strings.HasPrefix(base, "bview."):
		stream = StreamRibs
	default:
		return SegmentManifest{}, fmt.Errorf("cannot infer stream from filename %q", base)
	}

	relativePath, err := filepath.Rel(cfg.Root, path)
	if err != nil {
		relativePath = path
	}
	relativePath = filepath.ToSlash(relativePath)

	return BuildManifest(cfg.CollectorID, stream, info.ModTime().Unix(), info.ModTime().Unix(), 0,
		cfg.Compression, cfg.LayoutProfile, path, relativePath)
}
