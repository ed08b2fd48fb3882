// Package ingestkafka adapts a Kafka topic of pre-decoded BGP session
// events into calls against the archive service, for deployments where the
// BGP session layer runs as its own process and publishes envelopes rather
// than sharing memory with the archiver.
package ingestkafka

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/gob"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"go.uber.org/zap"

	"github.com/bgpkit-collab/bgparchive/internal/archive"
	"github.com/bgpkit-collab/bgparchive/internal/metrics"
)

// envelopeKind distinguishes the two record shapes published to the ingest
// topic.
type envelopeKind string

const (
	envelopeKindUpdate    envelopeKind = "update"
	envelopeKindPeerState envelopeKind = "peer_state"
)

// Envelope is the gob-encoded payload of one ingest topic record. Exactly
// one of Update/PeerState is populated, selected by Kind.
type Envelope struct {
	Kind      envelopeKind
	Update    *archive.UpdateRecordInput
	PeerState *archive.PeerStateRecordInput
}

// DecodeEnvelope gob-decodes one Kafka record value into an Envelope. Kafka
// already length-prefixes each record on the wire, so the envelope itself
// carries no additional framing.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("ingestkafka: decoding envelope: %w", err)
	}
	return env, nil
}

// EncodeEnvelope gob-encodes an Envelope for publication by the BGP session
// worker. Exported for that worker's use even though nothing in this module
// calls it.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return nil, fmt.Errorf("ingestkafka: encoding envelope: %w", err)
	}
	return buf.Bytes(), nil
}

// Consumer pulls ingest-topic records and plays them into an
// *archive.ArchiveService, marking each record's offset for commit only once
// the archive service has accepted it.
type Consumer struct {
	client  *kgo.Client
	archive *archive.ArchiveService
	logger  *zap.Logger
	joined  atomic.Bool
}

// NewConsumer builds a Consumer bound to the ingest_kafka configuration
// surface. Mirrors the teacher's state consumer's group-balance callbacks
// so partition ownership changes are visible for health reporting.
func NewConsumer(brokers []string, groupID, topic, clientID string, fetchMaxBytes int32,
	tlsCfg *tls.Config, saslMech sasl.Mechanism, archiveSvc *archive.ArchiveService, logger *zap.Logger) (*Consumer, error) {
	c := &Consumer{archive: archiveSvc, logger: logger}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.ClientID(clientID),
		kgo.FetchMaxBytes(fetchMaxBytes),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, _ map[string][]int32) {
			c.joined.Store(true)
			logger.Info("ingest consumer: partitions assigned")
		}),
		kgo.OnPartitionsRevoked(func(ctx context.Context, cl *kgo.Client, _ map[string][]int32) {
			if err := cl.CommitMarkedOffsets(ctx); err != nil {
				logger.Error("ingest consumer: commit on revoke failed", zap.Error(err))
			}
			c.joined.Store(false)
			logger.Info("ingest consumer: partitions revoked")
		}),
		kgo.OnPartitionsLost(func(_ context.Context, _ *kgo.Client, _ map[string][]int32) {
			c.joined.Store(false)
			logger.Info("ingest consumer: partitions lost")
		}),
	}
	if tlsCfg != nil {
		opts = append(opts, kgo.DialTLSConfig(tlsCfg))
	}
	if saslMech != nil {
		opts = append(opts, kgo.SASL(saslMech))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("ingestkafka: building client: %w", err)
	}
	c.client = client
	return c, nil
}

// IsJoined reports whether this consumer currently holds partition
// assignments, for readiness probes.
func (c *Consumer) IsJoined() bool {
	return c.joined.Load()
}

// Close releases the underlying Kafka client.
func (c *Consumer) Close() {
	c.client.Close()
}

// Run polls fetches and plays each record into the archive service until
// ctx is cancelled. A record's offset is marked for commit only after its
// envelope has been successfully ingested. Malformed or rejected records
// are logged and skipped without being marked; once a later record of the
// same partition is committed, the committed offset moves past them, so
// they are not redelivered after a restart.
func (c *Consumer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	commitTicker := time.NewTicker(2 * time.Second)
	defer commitTicker.Stop()
	defer wg.Wait()

	for {
		fetches := c.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return
		}

		if errs := fetches.Errors(); len(errs) > 0 {
			for _, e := range errs {
				c.logger.Error("ingest consumer: fetch error",
					zap.String("topic", e.Topic), zap.Int32("partition", e.Partition), zap.Error(e.Err))
			}
		}

		fetches.EachRecord(func(rec *kgo.Record) {
			if err := c.processRecord(rec); err != nil {
				metrics.IngestErrorsTotal.WithLabelValues("kafka", "process").Inc()
				c.logger.Warn("ingest consumer: dropping unprocessable record",
					zap.String("topic", rec.Topic), zap.Int64("offset", rec.Offset), zap.Error(err))
				return
			}
			c.client.MarkCommitRecords(rec)
		})

		select {
		case <-commitTicker.C:
			commitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.client.CommitMarkedOffsets(commitCtx); err != nil {
				c.logger.Error("ingest consumer: commit offsets failed", zap.Error(err))
			}
			cancel()
		default:
		}
	}
}

func (c *Consumer) processRecord(rec *kgo.Record) error {
	env, err := DecodeEnvelope(rec.Value)
	if err != nil {
		return err
	}

	switch env.Kind {
	case envelopeKindUpdate:
		if env.Update == nil {
			return fmt.Errorf("ingestkafka: update envelope missing payload")
		}
		if err := c.archive.IngestUpdate(*env.Update); err != nil {
			return err
		}
		metrics.IngestMessagesTotal.WithLabelValues("kafka", "update").Inc()
	case envelopeKindPeerState:
		if env.PeerState == nil {
			return fmt.Errorf("ingestkafka: peer_state envelope missing payload")
		}
		if err := c.archive.IngestPeerState(*env.PeerState); err != nil {
			return err
		}
		metrics.IngestMessagesTotal.WithLabelValues("kafka", "peer_state").Inc()
	default:
		return fmt.Errorf("ingestkafka: unknown envelope kind %q", env.Kind)
	}

	return nil
}
