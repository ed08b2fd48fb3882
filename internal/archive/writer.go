package archive

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/bgpkit-collab/bgparchive/internal/config"
	"github.com/bgpkit-collab/bgparchive/internal/metrics"
)

// segmentEncoder abstracts the compressed stream sitting on top of the
// tmp-file handle. Only one of gzip or zstd is active per SegmentWriter;
// bzip2 is accepted by configuration but rejected at open time since no
// Go bzip2 encoder is in use here (see NewSegmentWriter).
type segmentEncoder interface {
	io.Writer
	Flush() error
	Close() error
}

type gzipEncoder struct {
	w *gzip.Writer
}

func (g *gzipEncoder) Write(p []byte) (int, error) { return g.w.Write(p) }
func (g *gzipEncoder) Flush() error                { return g.w.Flush() }
func (g *gzipEncoder) Close() error                { return g.w.Close() }

type zstdEncoder struct {
	w *zstd.Encoder
}

func (z *zstdEncoder) Write(p []byte) (int, error) { return z.w.Write(p) }
func (z *zstdEncoder) Flush() error                { return z.w.Flush() }
func (z *zstdEncoder) Close() error                { return z.w.Close() }

// SegmentWriter owns one open MRT segment: a tmp file, its compression
// stream, and the running record count. It is not safe for concurrent use;
// the owning ArchiveService serializes access with its own mutex.
type SegmentWriter struct {
	cfg         *config.ArchiveConfig
	stream      ArchiveStream
	startTS     int64
	paths       SegmentPaths
	file        *os.File
	buffered    *bufio.Writer
	encoder     segmentEncoder
	recordCount uint64
	openedAt    time.Time
}

// NewSegmentWriter creates the tmp file (and parent directories for both
// the tmp and final paths) and opens the configured compression stream.
func NewSegmentWriter(cfg *config.ArchiveConfig, stream ArchiveStream, startTS int64, paths SegmentPaths) (*SegmentWriter, error) {
	if cfg.Compression == config.CompressionBzip2 {
		return nil, fmt.Errorf("%w: bzip2 segment encoding is not supported", ErrCompression)
	}

	if err := os.MkdirAll(filepath.Dir(paths.TmpPath), 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create tmp directory for %s: %v", ErrIO, paths.TmpPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(paths.FinalPath), 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create final directory for %s: %v", ErrIO, paths.FinalPath, err)
	}

	file, err := os.Create(paths.TmpPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create tmp segment %s: %v", ErrIO, paths.TmpPath, err)
	}
	buffered := bufio.NewWriter(file)

	var encoder segmentEncoder
	switch cfg.Compression {
	case config.CompressionGzip:
		encoder = &gzipEncoder{w: gzip.NewWriter(buffered)}
	case config.CompressionZstd:
		zw, err := zstd.NewWriter(buffered)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("%w: failed to create zstd encoder: %v", ErrCompression, err)
		}
		encoder = &zstdEncoder{w: zw}
	default:
		file.Close()
		return nil, fmt.Errorf("%w: unsupported compression kind %q", ErrCompression, cfg.Compression)
	}

	return &SegmentWriter{
		cfg:      cfg,
		stream:   stream,
		startTS:  startTS,
		paths:    paths,
		file:     file,
		buffered: buffered,
		encoder:  encoder,
		openedAt: time.Now(),
	}, nil
}

// WriteRecord appends one already wire-encoded MRT record to the segment.
func (w *SegmentWriter) WriteRecord(record []byte) error {
	if _, err := w.encoder.Write(record); err != nil {
		return fmt.Errorf("%w: failed writing record to %s: %v", ErrIO, w.paths.TmpPath, err)
	}
	w.recordCount++
	return nil
}

// Path returns the final (post-rename) path this segment will occupy.
func (w *SegmentWriter) Path() string { return w.paths.FinalPath }

// RecordCount returns the number of records written so far.
func (w *SegmentWriter) RecordCount() uint64 { return w.recordCount }

// StartTS returns the aligned bucket start timestamp this segment was opened for.
func (w *SegmentWriter) StartTS() int64 { return w.startTS }

// Finalize flushes and closes the compression stream, optionally fsyncs,
// atomically renames the tmp file into its final location, computes and
// writes the manifest sidecar, and returns the finalized segment summary.
// The SegmentWriter must not be used after Finalize returns.
func (w *SegmentWriter) Finalize(endTS int64) (FinalizedSegment, error) {
	if err := w.encoder.Close(); err != nil {
		w.file.Close()
		return FinalizedSegment{}, fmt.Errorf("%w: failed to finish compression stream for %s: %v", ErrCompression, w.paths.TmpPath, err)
	}
	if err := w.buffered.Flush(); err != nil {
		w.file.Close()
		return FinalizedSegment{}, fmt.Errorf("%w: failed to flush %s: %v", ErrIO, w.paths.TmpPath, err)
	}

	if w.cfg.FsyncOnRotate {
		if err := w.file.Sync(); err != nil {
			w.file.Close()
			return FinalizedSegment{}, fmt.Errorf("%w: failed to fsync %s: %v", ErrIO, w.paths.TmpPath, err)
		}
	}
	if err := w.file.Close(); err != nil {
		return FinalizedSegment{}, fmt.Errorf("%w: failed to close %s: %v", ErrIO, w.paths.TmpPath, err)
	}

	if err := os.Rename(w.paths.TmpPath, w.paths.FinalPath); err != nil {
		return FinalizedSegment{}, fmt.Errorf("%w: failed to move %s to %s: %v", ErrIO, w.paths.TmpPath, w.paths.FinalPath, err)
	}

	manifest, err := BuildManifest(w.cfg.CollectorID, w.stream, w.startTS, endTS, w.recordCount,
		w.cfg.Compression, w.cfg.LayoutProfile, w.paths.FinalPath, w.paths.RelativePath)
	if err != nil {
		return FinalizedSegment{}, err
	}

	manifestPath, err := manifest.WriteSidecar(w.paths.FinalPath)
	if err != nil {
		return FinalizedSegment{}, err
	}

	streamLabel := w.stream.String()
	metrics.SegmentsFinalizedTotal.WithLabelValues(streamLabel).Inc()
	metrics.SegmentWriteDuration.WithLabelValues(streamLabel).Observe(time.Since(w.openedAt).Seconds())
	metrics.SegmentBytes.WithLabelValues(streamLabel).Observe(float64(manifest.Bytes))
	metrics.SegmentRecordsTotal.WithLabelValues(streamLabel).Add(float64(w.recordCount))

	return FinalizedSegment{
		Stream:       w.stream,
		StartTS:      w.startTS,
		EndTS:        endTS,
		RecordCount:  w.recordCount,
		Bytes:        manifest.Bytes,
		Compression:  w.cfg.Compression,
		FinalPath:    w.paths.FinalPath,
		RelativePath: w.paths.RelativePath,
		ManifestPath: manifestPath,
	}, nil
}

// Abort discards the in-progress tmp file without finalizing, used when an
// open segment must be abandoned (e.g. when encoding or writing a RIB
// snapshot fails).
func (w *SegmentWriter) Abort() error {
	_ = w.encoder.Close()
	_ = w.file.Close()
	if err := os.Remove(w.paths.TmpPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: failed to remove aborted tmp segment %s: %v", ErrIO, w.paths.TmpPath, err)
	}
	return nil
}
