package archive

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bgpkit-collab/bgparchive/internal/config"
	"github.com/bgpkit-collab/bgparchive/internal/metrics"
)

const ingestSourceInProcess = "inproc"

// schedulerTickInterval is how often the background scheduler checks
// whether the open updates segment needs rotating or a RIB snapshot is due.
const schedulerTickInterval = 5 * time.Second

// ArchiveService is the single entry point the rest of the collector talks
// to: it owns the currently-open updates segment, the most recent finalized
// RIB snapshot, and (if configured) the replication queue and its
// background worker. All state mutation goes through its mutex; callers
// never touch a SegmentWriter directly.
type ArchiveService struct {
	cfg            *config.ArchiveConfig
	collectorBGPID net.IP
	logger         *zap.Logger

	mu            sync.Mutex
	updatesWriter *SegmentWriter
	ribsLast      *FinalizedSegment
	lastRibBucket *int64

	queue      *ReplicationQueue
	replicator *Replicator
	events     *eventBroadcaster

	cancel context.CancelFunc
}

// NewArchiveService constructs the service. When cfg.Enabled is false it
// returns a service that accepts ingest and rollover calls as no-ops, so
// callers never need to branch on whether the archive subsystem is on;
// SnapshotNow on a disabled service returns ErrDisabled.
func NewArchiveService(cfg *config.ArchiveConfig, collectorBGPID net.IP, logger *zap.Logger) (*ArchiveService, error) {
	svc := &ArchiveService{
		cfg:            cfg,
		collectorBGPID: collectorBGPID,
		logger:         logger,
		events:         newEventBroadcaster(),
	}

	if !cfg.Enabled {
		return svc, nil
	}

	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed creating archive root %s: %v", ErrIO, cfg.Root, err)
	}
	if err := os.MkdirAll(cfg.TmpRoot, 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed creating archive tmp root %s: %v", ErrIO, cfg.TmpRoot, err)
	}
	if err := cleanupTmpRoot(cfg.TmpRoot); err != nil {
		return nil, fmt.Errorf("%w: failed cleaning tmp root %s: %v", ErrIO, cfg.TmpRoot, err)
	}

	queue, err := NewReplicationQueue(cfg.Root)
	if err != nil {
		return nil, err
	}
	svc.queue = queue
	svc.replicator = NewReplicator(cfg, queue, logger, svc.events)

	if err := svc.ensureUpdatesWriter(time.Now().Unix()); err != nil {
		queue.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	svc.cancel = cancel
	go svc.replicator.Run(ctx)
	go svc.runScheduler(ctx)

	return svc, nil
}

// Close stops background goroutines and closes the replication queue. Any
// open updates segment is not finalized: its tmp file is left behind, and
// its records are not carried into the segment opened on the next startup.
func (s *ArchiveService) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.queue != nil {
		return s.queue.Close()
	}
	return nil
}

// SubscribeEvents registers a new listener for archive lifecycle events.
// The returned unsubscribe func must be called when the caller stops
// listening.
func (s *ArchiveService) SubscribeEvents() (<-chan EventEnvelope, func()) {
	return s.events.subscribe()
}

// Destinations reports the configured replication destinations for status
// reporting.
func (s *ArchiveService) Destinations() []config.ArchiveDestinationConfig {
	return s.cfg.Destinations
}

// IngestUpdate encodes and appends one observed BGP UPDATE to the open
// updates segment, rotating it first if the update's timestamp has crossed
// into a new bucket.
func (s *ArchiveService) IngestUpdate(input UpdateRecordInput) error {
	if !s.cfg.Enabled {
		return nil
	}

	if err := s.ensureUpdatesWriter(input.Timestamp); err != nil {
		metrics.IngestErrorsTotal.WithLabelValues(ingestSourceInProcess, "rotate").Inc()
		return err
	}

	record, err := EncodeBGP4MPUpdate(input)
	if err != nil {
		metrics.IngestErrorsTotal.WithLabelValues(ingestSourceInProcess, "encode").Inc()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updatesWriter == nil {
		metrics.IngestErrorsTotal.WithLabelValues(ingestSourceInProcess, "no_writer").Inc()
		return fmt.Errorf("%w: updates writer not initialized", ErrIO)
	}
	if err := s.updatesWriter.WriteRecord(record); err != nil {
		metrics.IngestErrorsTotal.WithLabelValues(ingestSourceInProcess, "write").Inc()
		return err
	}
	metrics.IngestMessagesTotal.WithLabelValues(ingestSourceInProcess, "update").Inc()
	return nil
}

// IngestPeerState encodes and appends one observed BGP FSM transition, when
// peer-state recording is enabled.
func (s *ArchiveService) IngestPeerState(input PeerStateRecordInput) error {
	if !s.cfg.Enabled || !s.cfg.IncludePeerStateRecords {
		return nil
	}

	if err := s.ensureUpdatesWriter(input.Timestamp); err != nil {
		metrics.IngestErrorsTotal.WithLabelValues(ingestSourceInProcess, "rotate").Inc()
		return err
	}

	record, err := EncodeBGP4MPStateChange(input)
	if err != nil {
		metrics.IngestErrorsTotal.WithLabelValues(ingestSourceInProcess, "encode").Inc()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updatesWriter == nil {
		metrics.IngestErrorsTotal.WithLabelValues(ingestSourceInProcess, "no_writer").Inc()
		return fmt.Errorf("%w: updates writer not initialized", ErrIO)
	}
	if err := s.updatesWriter.WriteRecord(record); err != nil {
		metrics.IngestErrorsTotal.WithLabelValues(ingestSourceInProcess, "write").Inc()
		return err
	}
	metrics.IngestMessagesTotal.WithLabelValues(ingestSourceInProcess, "peer_state").Inc()
	return nil
}

// SnapshotNow writes a RIB snapshot segment immediately, outside the
// scheduler's regular interval. CollectorBGPID defaults to the service's
// configured collector BGP ID when left unset.
func (s *ArchiveService) SnapshotNow(input RibSnapshotInput) (FinalizedSegment, error) {
	if !s.cfg.Enabled {
		return FinalizedSegment{}, fmt.Errorf("%w", ErrDisabled)
	}

	if input.CollectorBGPID == nil || input.CollectorBGPID.IsUnspecified() {
		input.CollectorBGPID = s.collectorBGPID
	}

	paths, err := SegmentPathsFor(s.cfg, StreamRibs, input.Timestamp)
	if err != nil {
		return FinalizedSegment{}, err
	}
	startTS := AlignedEpoch(input.Timestamp, s.cfg.RibsIntervalSecs)
	s.events.publish(Event{Kind: EventSegmentOpened, Stream: StreamRibs.String(), Path: paths.FinalPath, StartTS: startTS})

	writer, err := NewSegmentWriter(s.cfg, StreamRibs, startTS, paths)
	if err != nil {
		return FinalizedSegment{}, err
	}

	records, err := BuildTableDumpV2(input)
	if err != nil {
		_ = writer.Abort()
		return FinalizedSegment{}, err
	}
	for _, record := range records {
		if err := writer.WriteRecord(record); err != nil {
			_ = writer.Abort()
			return FinalizedSegment{}, err
		}
	}

	finalized, err := writer.Finalize(input.Timestamp)
	if err != nil {
		return FinalizedSegment{}, err
	}
	s.events.publish(Event{Kind: EventSegmentFinalized, Stream: StreamRibs.String(), Path: finalized.FinalPath, EndTS: finalized.EndTS, Records: finalized.RecordCount})

	if s.replicator != nil {
		if err := s.replicator.EnqueueSegment(finalized); err != nil {
			return FinalizedSegment{}, err
		}
	}

	s.mu.Lock()
	s.ribsLast = &finalized
	s.mu.Unlock()

	return finalized, nil
}

// Rollover forces an out-of-schedule rotation of the named stream: for
// updates it finalizes and reopens the current segment; for ribs it takes
// an immediate empty-input snapshot.
func (s *ArchiveService) Rollover(stream ArchiveStream) error {
	if !s.cfg.Enabled {
		return nil
	}

	switch stream {
	case StreamUpdates:
		return s.rotateUpdates(time.Now().Unix())
	case StreamRibs:
		_, err := s.SnapshotNow(RibSnapshotInput{
			Timestamp:      time.Now().Unix(),
			CollectorBGPID: s.collectorBGPID,
			ViewName:       "main",
		})
		return err
	default:
		return fmt.Errorf("%w: unknown stream %v", ErrConfig, stream)
	}
}

// RetryFailedReplications resets every terminally failed replication job
// back to pending, returning the number of jobs reset.
func (s *ArchiveService) RetryFailedReplications() (int64, error) {
	if s.replicator == nil {
		return 0, nil
	}
	return s.replicator.RetryFailed()
}

// Status reports the current state of the archive subsystem for health
// and operator inspection.
func (s *ArchiveService) Status() (ArchiveStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := ArchiveStatus{
		Enabled:             s.cfg.Enabled,
		CollectorID:         s.cfg.CollectorID,
		UpdatesIntervalSecs: s.cfg.UpdatesIntervalSecs,
		RibsIntervalSecs:    s.cfg.RibsIntervalSecs,
	}

	if s.updatesWriter != nil {
		status.UpdatesOpenPath = s.updatesWriter.Path()
		status.UpdatesRecordCount = s.updatesWriter.RecordCount()
	}
	if s.ribsLast != nil {
		status.RibsLastPath = s.ribsLast.FinalPath
		status.RibsLastRecordCount = s.ribsLast.RecordCount
	}

	if s.queue != nil {
		queued, err := s.queue.PendingCount()
		if err != nil {
			return ArchiveStatus{}, err
		}
		status.QueuedReplicationJobs = queued
	}
	if s.replicator != nil {
		status.ReplicationFailures = s.replicator.Failures()
	}

	return status, nil
}

func (s *ArchiveService) runScheduler(ctx context.Context) {
	ticker := time.NewTicker(schedulerTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.tick(); err != nil {
				s.logger.Error("archive scheduler tick failed", zap.Error(err))
			}
		}
	}
}

func (s *ArchiveService) tick() error {
	now := time.Now().Unix()
	if err := s.ensureUpdatesWriter(now); err != nil {
		return err
	}

	ribBucket := AlignedEpoch(now, s.cfg.RibsIntervalSecs)

	s.mu.Lock()
	needsSnapshot := s.lastRibBucket == nil || *s.lastRibBucket != ribBucket
	s.mu.Unlock()

	if !needsSnapshot {
		return nil
	}

	if _, err := s.SnapshotNow(RibSnapshotInput{
		Timestamp:      now,
		CollectorBGPID: s.collectorBGPID,
		ViewName:       "main",
	}); err != nil {
		return err
	}

	s.mu.Lock()
	s.lastRibBucket = &ribBucket
	s.mu.Unlock()
	return nil
}

// ensureUpdatesWriter rotates the open updates segment when nowTS has
// crossed into a new aligned bucket, opening a fresh one in its place.
func (s *ArchiveService) ensureUpdatesWriter(nowTS int64) error {
	updateBucket := AlignedEpoch(nowTS, s.cfg.UpdatesIntervalSecs)

	s.mu.Lock()
	needsRotate := s.updatesWriter == nil || s.updatesWriter.StartTS() != updateBucket
	if !needsRotate {
		s.mu.Unlock()
		return nil
	}
	oldWriter := s.updatesWriter
	s.updatesWriter = nil
	s.mu.Unlock()

	if oldWriter != nil {
		finalized, err := oldWriter.Finalize(nowTS)
		if err != nil {
			return err
		}
		s.events.publish(Event{Kind: EventSegmentFinalized, Stream: StreamUpdates.String(), Path: finalized.FinalPath, EndTS: finalized.EndTS, Records: finalized.RecordCount})
		if s.replicator != nil {
			if err := s.replicator.EnqueueSegment(finalized); err != nil {
				return err
			}
		}
	}

	paths, err := SegmentPathsFor(s.cfg, StreamUpdates, nowTS)
	if err != nil {
		return err
	}
	s.events.publish(Event{Kind: EventSegmentOpened, Stream: StreamUpdates.String(), Path: paths.FinalPath, StartTS: updateBucket})

	writer, err := NewSegmentWriter(s.cfg, StreamUpdates, updateBucket, paths)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.updatesWriter = writer
	s.mu.Unlock()

	return nil
}

func (s *ArchiveService) rotateUpdates(nowTS int64) error {
	s.mu.Lock()
	oldWriter := s.updatesWriter
	s.updatesWriter = nil
	s.mu.Unlock()

	if oldWriter != nil {
		finalized, err := oldWriter.Finalize(nowTS)
		if err != nil {
			return err
		}
		s.events.publish(Event{Kind: EventSegmentFinalized, Stream: StreamUpdates.String(), Path: finalized.FinalPath, EndTS: finalized.EndTS, Records: finalized.RecordCount})
		if s.replicator != nil {
			if err := s.replicator.EnqueueSegment(finalized); err != nil {
				return err
			}
		}
	}

	return s.ensureUpdatesWriter(nowTS)
}

func cleanupTmpRoot(tmpRoot string) error {
	entries, err := os.ReadDir(tmpRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(tmpRoot, entry.Name())
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed removing temp segment %s: %w", path, err)
		}
	}

	return nil
}
