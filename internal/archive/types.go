// Package archive writes BGP UPDATE traffic and periodic RIB snapshots to
// MRT-format (RFC 6396) files on disk, in the directory conventions used by
// public route collector projects, and mirrors finalized segments to one or
// more replication destinations.
package archive

import (
	"net"
	"time"

	"github.com/bgpkit-collab/bgparchive/internal/config"
)

// CompressionKind is re-exported from config so archive package signatures
// don't need to import both packages by name at every call site.
type CompressionKind = config.CompressionKind

// ArchiveStream distinguishes the two append-only record streams the
// archive subsystem maintains.
type ArchiveStream int

const (
	StreamUpdates ArchiveStream = iota
	StreamRibs
)

// String returns the lowercase stream name used in layout paths and
// manifest sidecars.
func (s ArchiveStream) String() string {
	switch s {
	case StreamUpdates:
		return "updates"
	case StreamRibs:
		return "ribs"
	default:
		return "unknown"
	}
}

// SegmentPaths is the triple of locations a segment occupies during its
// lifetime: a temporary path written to while open, the final path it is
// atomically renamed to on finalize, and the path relative to the archive
// root recorded in manifests and used as the replication object key.
type SegmentPaths struct {
	TmpPath      string
	FinalPath    string
	RelativePath string
}

// FinalizedSegment is the immutable record of a closed segment, produced by
// SegmentWriter.Finalize and consumed by the Replicator.
type FinalizedSegment struct {
	Stream       ArchiveStream
	StartTS      int64
	EndTS        int64
	RecordCount  uint64
	Bytes        uint64
	Compression  CompressionKind
	FinalPath    string
	RelativePath string
	ManifestPath string
}

// UpdateRecordInput is the input to ArchiveService.IngestUpdate: a single raw BGP
// UPDATE message observed on a session, plus the session identity fields
// the BGP4MP wrapper requires.
type UpdateRecordInput struct {
	Timestamp       int64
	PeerASN         uint32
	LocalASN        uint32
	InterfaceIndex  uint16
	PeerIP          net.IP
	LocalIP         net.IP
	BGPMessage      []byte
}

// PeerStateRecordInput is the input to ArchiveService.IngestPeerState: a BGP FSM
// transition observed on a session.
type PeerStateRecordInput struct {
	Timestamp      int64
	PeerASN        uint32
	LocalASN       uint32
	InterfaceIndex uint16
	PeerIP         net.IP
	LocalIP        net.IP
	OldState       uint16
	NewState       uint16
}

// SnapshotPeer is one row of a TABLE_DUMP_V2 peer index table.
type SnapshotPeer struct {
	PeerBGPID net.IP
	PeerIP    net.IP
	PeerASN   uint32
}

// SnapshotRoute is one RIB entry included in a RIB snapshot, referencing a
// peer by its index into the snapshot's peer table.
type SnapshotRoute struct {
	Sequence       uint32
	Prefix         net.IP
	PrefixLen      uint8
	PeerIndex      uint16
	OriginatedTime uint32
	PathAttributes []byte
}

// RibSnapshotInput is the input to ArchiveService.SnapshotNow: a full-table view
// to encode as a TABLE_DUMP_V2 peer index table plus one RIB entry record
// per route.
type RibSnapshotInput struct {
	Timestamp       int64
	CollectorBGPID  net.IP
	ViewName        string
	Peers           []SnapshotPeer
	Routes          []SnapshotRoute
}

// ArchiveStatus is a point-in-time snapshot of the archive subsystem's
// operational state, returned by ArchiveService.Status.
type ArchiveStatus struct {
	Enabled                  bool
	CollectorID              string
	UpdatesIntervalSecs      uint32
	RibsIntervalSecs         uint32
	UpdatesOpenPath          string
	UpdatesRecordCount       uint64
	RibsLastPath             string
	RibsLastRecordCount      uint64
	QueuedReplicationJobs    int
	ReplicationFailures      uint64
}

// EventKind identifies the variant of an Event.
type EventKind int

const (
	EventSegmentOpened EventKind = iota
	EventSegmentFinalized
	EventReplicationSucceeded
	EventReplicationFailed
)

// Event is a notification the archive subsystem publishes to subscribers
// for observability: segment lifecycle transitions and replication
// outcomes. Only the fields relevant to Kind are populated.
type Event struct {
	Kind        EventKind
	Stream      string
	Path        string
	StartTS     int64
	EndTS       int64
	Records     uint64
	Destination string
	Error       string
}

// EventEnvelope timestamps an Event at the moment it was emitted.
type EventEnvelope struct {
	Event Event
	At    time.Time
}
