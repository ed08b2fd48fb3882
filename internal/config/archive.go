package config

import "fmt"

// ArchiveConfig configures the MRT archive subsystem: where segments are
// written, how often streams rotate, which compression codec to use, and
// which destinations finalized segments replicate to.
type ArchiveConfig struct {
	Enabled                 bool                  `koanf:"enabled"`
	CollectorID             string                `koanf:"collector_id"`
	LayoutProfile           LayoutProfile         `koanf:"layout_profile"`
	UpdatesIntervalSecs     uint32                `koanf:"updates_interval_secs"`
	RibsIntervalSecs        uint32                `koanf:"ribs_interval_secs"`
	Compression             CompressionKind       `koanf:"compression"`
	Root                    string                `koanf:"root"`
	TmpRoot                 string                `koanf:"tmp_root"`
	FsyncOnRotate           bool                  `koanf:"fsync_on_rotate"`
	IncludePeerStateRecords bool                  `koanf:"include_peer_state_records"`
	CustomTemplates         *CustomLayoutTemplates `koanf:"custom_templates"`
	Destinations            []ArchiveDestinationConfig `koanf:"destinations"`
}

// Validate checks archive-specific invariants. It is a no-op when the
// archive subsystem is disabled, mirroring the rest of this config's
// "validate what's turned on" policy.
func (a *ArchiveConfig) Validate() error {
	if !a.Enabled {
		return nil
	}

	if a.CollectorID == "" {
		return fmt.Errorf("config: archive.collector_id must not be empty")
	}
	if a.UpdatesIntervalSecs == 0 || 3600%a.UpdatesIntervalSecs != 0 {
		return fmt.Errorf("config: archive.updates_interval_secs must be >0 and divide 3600, got %d", a.UpdatesIntervalSecs)
	}
	if a.RibsIntervalSecs == 0 || a.RibsIntervalSecs%a.UpdatesIntervalSecs != 0 {
		return fmt.Errorf("config: archive.ribs_interval_secs must be >0 and a multiple of updates_interval_secs")
	}
	if a.Root == "" {
		return fmt.Errorf("config: archive.root must not be empty")
	}
	if a.TmpRoot == "" {
		return fmt.Errorf("config: archive.tmp_root must not be empty")
	}
	if len(a.Destinations) == 0 {
		return fmt.Errorf("config: archive.destinations must include at least one destination")
	}

	primaryCount := 0
	for _, d := range a.Destinations {
		if d.Mode == DestinationModePrimary {
			primaryCount++
		}
	}
	if primaryCount == 0 {
		return fmt.Errorf("config: archive.destinations must include at least one mode=primary destination")
	}

	if a.LayoutProfile == LayoutProfileCustom {
		if a.CustomTemplates == nil {
			return fmt.Errorf("config: archive.layout_profile=custom requires archive.custom_templates")
		}
		if err := a.CustomTemplates.Validate(); err != nil {
			return err
		}
	}

	for i := range a.Destinations {
		if err := a.Destinations[i].Validate(); err != nil {
			return err
		}
	}

	return nil
}

// LayoutProfile selects the directory/filename convention segment paths
// follow.
type LayoutProfile string

const (
	LayoutProfileRouteViews LayoutProfile = "routeviews"
	LayoutProfileRis        LayoutProfile = "ris"
	LayoutProfileCustom     LayoutProfile = "custom"
)

// CustomLayoutTemplates provides path templates for LayoutProfileCustom,
// one per archive stream.
type CustomLayoutTemplates struct {
	Updates string `koanf:"updates"`
	Ribs    string `koanf:"ribs"`
}

func (t *CustomLayoutTemplates) Validate() error {
	for name, value := range map[string]string{"updates": t.Updates, "ribs": t.Ribs} {
		if !contains(value, "{collector}") {
			return fmt.Errorf("config: archive.custom_templates.%s must contain {collector} token", name)
		}
		if !contains(value, "{yyyymmdd}") || !contains(value, "{hhmm}") {
			return fmt.Errorf("config: archive.custom_templates.%s must contain {yyyymmdd} and {hhmm} tokens", name)
		}
	}
	return nil
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// CompressionKind selects the segment compression codec. Its Extension
// method gives the canonical file extension used by Layout.
type CompressionKind string

const (
	CompressionGzip  CompressionKind = "gzip"
	CompressionBzip2 CompressionKind = "bzip2"
	CompressionZstd  CompressionKind = "zstd"
)

// Extension returns the canonical filename suffix for the codec.
func (c CompressionKind) Extension() string {
	switch c {
	case CompressionGzip:
		return "gz"
	case CompressionBzip2:
		return "bz2"
	case CompressionZstd:
		return "zst"
	default:
		return "bin"
	}
}

// DestinationType identifies the transport a replication destination uses.
type DestinationType string

const (
	DestinationTypeLocal DestinationType = "local"
	DestinationTypeS3    DestinationType = "s3"
)

// DestinationMode distinguishes the archive root itself (primary, written
// directly by SegmentWriter) from destinations fed through the durable
// replication queue (async_replica).
type DestinationMode string

const (
	DestinationModePrimary      DestinationMode = "primary"
	DestinationModeAsyncReplica DestinationMode = "async_replica"
)

// ArchiveDestinationConfig describes one place finalized segments are
// written or replicated to.
type ArchiveDestinationConfig struct {
	Type               DestinationType `koanf:"type"`
	Mode               DestinationMode `koanf:"mode"`
	Path               string          `koanf:"path"`
	Endpoint           string          `koanf:"endpoint"`
	Bucket             string          `koanf:"bucket"`
	Prefix             string          `koanf:"prefix"`
	UploadConcurrency  int             `koanf:"upload_concurrency"`
	RetryBackoffSecs   int64           `koanf:"retry_backoff_secs"`
	MaxRetries         uint32          `koanf:"max_retries"`
	Region             string          `koanf:"region"`
	AccessKeyID        string          `koanf:"access_key_id"`
	SecretAccessKey    string          `koanf:"secret_access_key"`
	SessionToken       string          `koanf:"session_token"`
}

func (d *ArchiveDestinationConfig) Validate() error {
	switch d.Type {
	case DestinationTypeLocal:
		if d.Path == "" {
			return fmt.Errorf("config: archive destination type=local requires path")
		}
	case DestinationTypeS3:
		if d.Endpoint == "" || d.Bucket == "" {
			return fmt.Errorf("config: archive destination type=s3 requires endpoint and bucket")
		}
	default:
		return fmt.Errorf("config: archive destination has unknown type %q", d.Type)
	}
	return nil
}

// RetryBackoffSecsOrDefault returns the configured backoff, defaulting to
// 5 seconds when unset.
func (d *ArchiveDestinationConfig) RetryBackoffSecsOrDefault() int64 {
	if d.RetryBackoffSecs <= 0 {
		return 5
	}
	return d.RetryBackoffSecs
}

// DestinationKey returns the stable identifier used to correlate
// replication jobs with destinations across restarts.
func (d *ArchiveDestinationConfig) DestinationKey() string {
	switch d.Type {
	case DestinationTypeLocal:
		return fmt.Sprintf("local:%s", d.Path)
	case DestinationTypeS3:
		return fmt.Sprintf("s3:%s:%s", d.Endpoint, d.Bucket)
	default:
		return "unknown:"
	}
}
