package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/bgpkit-collab/bgparchive/internal/config"
	"github.com/bgpkit-collab/bgparchive/internal/metrics"
)

// replicatorPollInterval is how often the background loop checks the queue
// for newly ready jobs once it has drained what was ready.
const replicatorPollInterval = 2 * time.Second

// Replicator drains the ReplicationQueue, copying each finalized segment
// (and its manifest sidecar) to its configured async-replica destination.
// Local destinations are a plain file copy; S3 destinations upload via the
// AWS SDK. Primary destinations never appear here, since the segment is
// already written to its primary location by the SegmentWriter itself.
type Replicator struct {
	queue        *ReplicationQueue
	destinations map[string]config.ArchiveDestinationConfig
	logger       *zap.Logger
	failures     atomic.Uint64
	events       *eventBroadcaster
}

// NewReplicator builds a Replicator bound to queue, indexing destinations
// by their DestinationKey for job lookup.
func NewReplicator(cfg *config.ArchiveConfig, queue *ReplicationQueue, logger *zap.Logger, events *eventBroadcaster) *Replicator {
	destinations := make(map[string]config.ArchiveDestinationConfig, len(cfg.Destinations))
	for _, d := range cfg.Destinations {
		destinations[d.DestinationKey()] = d
	}

	return &Replicator{
		queue:        queue,
		destinations: destinations,
		logger:       logger,
		events:       events,
	}
}

// Failures returns the running count of replication attempts that ended in
// error, for status reporting and metrics.
func (r *Replicator) Failures() uint64 {
	return r.failures.Load()
}

// EnqueueSegment enqueues one replication job per async-replica
// destination for a just-finalized segment.
func (r *Replicator) EnqueueSegment(segment FinalizedSegment) error {
	for _, destination := range r.destinations {
		if destination.Mode != config.DestinationModeAsyncReplica {
			continue
		}
		if err := r.queue.Enqueue(segment.FinalPath, segment.ManifestPath, destination.DestinationKey(), destination.MaxRetries); err != nil {
			return err
		}
	}
	return nil
}

// RetryFailed resets every terminally failed job back to pending.
func (r *Replicator) RetryFailed() (int64, error) {
	return r.queue.RetryFailed()
}

// Run polls the queue until ctx is cancelled, draining ready jobs each
// tick. It never returns an error: job failures are recorded against the
// queue row and via events, not propagated to the caller.
func (r *Replicator) Run(ctx context.Context) {
	ticker := time.NewTicker(replicatorPollInterval)
	defer ticker.Stop()

	for {
		if err := r.runOnce(ctx); err != nil {
			r.logger.Error("replicator run_once failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Replicator) runOnce(ctx context.Context) error {
	jobs, err := r.queue.ClaimReady(32)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		if err := r.processJob(ctx, job); err != nil {
			r.failures.Add(1)
			retrySecs := int64(5)
			if destination, ok := r.destinations[job.DestinationKey]; ok {
				retrySecs = destination.RetryBackoffSecsOrDefault()
			}
			if markErr := r.queue.MarkFailed(job, err, retrySecs); markErr != nil {
				return fmt.Errorf("failed marking replication job %d as failed: %w", job.ID, markErr)
			}
			metrics.ReplicationOutcomesTotal.WithLabelValues(job.DestinationKey, "failed").Inc()
			r.events.publish(Event{
				Kind:        EventReplicationFailed,
				Path:        job.SegmentPath,
				Destination: job.DestinationKey,
				Error:       err.Error(),
			})
			continue
		}

		if err := r.queue.MarkSuccess(job.ID); err != nil {
			return fmt.Errorf("failed marking replication job %d as successful: %w", job.ID, err)
		}
		metrics.ReplicationOutcomesTotal.WithLabelValues(job.DestinationKey, "succeeded").Inc()
		r.events.publish(Event{
			Kind:        EventReplicationSucceeded,
			Path:        job.SegmentPath,
			Destination: job.DestinationKey,
		})
	}

	if pending, pendErr := r.queue.PendingCount(); pendErr == nil {
		metrics.ReplicationQueueDepth.Set(float64(pending))
	}
	if failed, failErr := r.queue.FailedCount(); failErr == nil {
		metrics.ReplicationFailedJobs.Set(float64(failed))
	}

	return nil
}

func (r *Replicator) processJob(ctx context.Context, job ReplicationJob) error {
	destination, ok := r.destinations[job.DestinationKey]
	if !ok {
		return fmt.Errorf("%w: destination %s not found", ErrDestination, job.DestinationKey)
	}

	manifest, err := ReadManifest(job.ManifestPath)
	if err != nil {
		return err
	}

	switch destination.Type {
	case config.DestinationTypeLocal:
		return r.copyToLocal(destination, job, manifest)
	case config.DestinationTypeS3:
		return r.copyToS3(ctx, destination, job, manifest)
	default:
		return fmt.Errorf("%w: unknown destination type %q", ErrDestination, destination.Type)
	}
}

func (r *Replicator) copyToLocal(destination config.ArchiveDestinationConfig, job ReplicationJob, manifest SegmentManifest) error {
	if destination.Path == "" {
		return fmt.Errorf("%w: local destination path missing", ErrDestination)
	}

	targetSegment := filepath.Join(destination.Path, manifest.RelativePath)
	targetManifest := targetSegment + ".json"

	if err := os.MkdirAll(filepath.Dir(targetSegment), 0o755); err != nil {
		return fmt.Errorf("%w: failed creating destination directory %s: %v", ErrDestination, filepath.Dir(targetSegment), err)
	}
	if err := copyFile(job.SegmentPath, targetSegment); err != nil {
		return fmt.Errorf("%w: failed copying segment %s -> %s: %v", ErrDestination, job.SegmentPath, targetSegment, err)
	}
	if err := copyFile(job.ManifestPath, targetManifest); err != nil {
		return fmt.Errorf("%w: failed copying manifest %s -> %s: %v", ErrDestination, job.ManifestPath, targetManifest, err)
	}
	return nil
}

func (r *Replicator) copyToS3(ctx context.Context, destination config.ArchiveDestinationConfig, job ReplicationJob, manifest SegmentManifest) error {
	if destination.Endpoint == "" {
		return fmt.Errorf("%w: s3 endpoint missing", ErrDestination)
	}
	if destination.Bucket == "" {
		return fmt.Errorf("%w: s3 bucket missing", ErrDestination)
	}

	region := destination.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if destination.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(destination.AccessKeyID, destination.SecretAccessKey, destination.SessionToken)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("%w: failed loading aws config: %v", ErrDestination, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(destination.Endpoint)
		o.UsePathStyle = true
	})

	key := objectKey(destination.Prefix, manifest.RelativePath)
	manifestKey := key + ".json"

	if err := putObjectFromFile(ctx, client, destination.Bucket, key, job.SegmentPath); err != nil {
		return fmt.Errorf("%w: failed uploading segment to s3://%s/%s: %v", ErrDestination, destination.Bucket, key, err)
	}
	if err := putObjectFromFile(ctx, client, destination.Bucket, manifestKey, job.ManifestPath); err != nil {
		return fmt.Errorf("%w: failed uploading manifest to s3://%s/%s: %v", ErrDestination, destination.Bucket, manifestKey, err)
	}

	return nil
}

func putObjectFromFile(ctx context.Context, client *s3.Client, bucket, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	return err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func objectKey(prefix, relative string) string {
	relative = strings.TrimPrefix(relative, "/")
	if prefix == "" {
		return relative
	}
	return strings.Trim(prefix, "/") + "/" + relative
}
