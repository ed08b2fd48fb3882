package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			InstanceID:             "test",
			HTTPListen:             ":8080",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		Archive: ArchiveConfig{
			Enabled:                 true,
			CollectorID:             "focl01",
			LayoutProfile:           LayoutProfileRouteViews,
			UpdatesIntervalSecs:     900,
			RibsIntervalSecs:        7200,
			Compression:             CompressionGzip,
			Root:                    "/tmp/archive",
			TmpRoot:                 "/tmp/archive/.tmp",
			FsyncOnRotate:           true,
			IncludePeerStateRecords: true,
			Destinations: []ArchiveDestinationConfig{
				{Type: DestinationTypeLocal, Mode: DestinationModePrimary, Path: "/tmp/archive"},
			},
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidate_ShutdownTimeoutZero(t *testing.T) {
	cfg := validConfig()
	cfg.Service.ShutdownTimeoutSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for shutdown_timeout_seconds = 0")
	}
}

func TestValidate_ArchiveEmptyCollectorID(t *testing.T) {
	cfg := validConfig()
	cfg.Archive.CollectorID = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty collector_id")
	}
}

func TestValidate_ArchiveUpdatesIntervalMustDivide3600(t *testing.T) {
	cfg := validConfig()
	cfg.Archive.UpdatesIntervalSecs = 1000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for updates_interval_secs not dividing 3600")
	}
}

func TestValidate_ArchiveRibsIntervalMustBeMultiple(t *testing.T) {
	cfg := validConfig()
	cfg.Archive.RibsIntervalSecs = 1000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for ribs_interval_secs not a multiple of updates interval")
	}
}

func TestValidate_ArchiveRequiresPrimaryDestination(t *testing.T) {
	cfg := validConfig()
	cfg.Archive.Destinations = []ArchiveDestinationConfig{
		{Type: DestinationTypeLocal, Mode: DestinationModeAsyncReplica, Path: "/tmp/replica"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when no primary destination is configured")
	}
}

func TestValidate_ArchiveCustomProfileRequiresTemplates(t *testing.T) {
	cfg := validConfig()
	cfg.Archive.LayoutProfile = LayoutProfileCustom
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when custom profile has no templates")
	}
}

func TestValidate_ArchiveDisabledSkipsValidation(t *testing.T) {
	cfg := validConfig()
	cfg.Archive.Enabled = false
	cfg.Archive.CollectorID = ""
	cfg.Archive.Destinations = nil
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected disabled archive to skip validation, got: %v", err)
	}
}

func TestValidate_CatalogRequiresDSNWhenEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.Catalog.Enabled = true
	cfg.Catalog.Postgres.MaxConns = 10
	cfg.Catalog.Retention = RetentionConfig{Days: 30, Timezone: "UTC"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty catalog.postgres.dsn")
	}
}

func TestValidate_IngestKafkaRequiresBrokersWhenEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.IngestKafka.Enabled = true
	cfg.IngestKafka.Topic = "updates"
	cfg.IngestKafka.GroupID = "g1"
	cfg.IngestKafka.FetchMaxBytes = 1024
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty ingest_kafka.brokers")
	}
}

func writeMinimalYAML(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	data := `
archive:
  enabled: true
  collector_id: "focl01"
  updates_interval_secs: 900
  ribs_interval_secs: 7200
  root: "/tmp/archive"
  tmp_root: "/tmp/archive/.tmp"
  destinations:
    - type: local
      mode: primary
      path: "/tmp/archive"
`
	if err := os.WriteFile(p, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_EnvOverrideCollectorID(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("BGPARCHIVE_ARCHIVE__COLLECTOR_ID", "rrc00")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Archive.CollectorID != "rrc00" {
		t.Errorf("expected collector_id from env, got %q", cfg.Archive.CollectorID)
	}
}

func TestLoad_EnvOverrideLogLevel(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("BGPARCHIVE_SERVICE__LOG_LEVEL", "debug")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Service.LogLevel != "debug" {
		t.Errorf("expected log_level 'debug' from env, got %q", cfg.Service.LogLevel)
	}
}

func TestLoad_EnvEmptyCollectorIDFailsValidation(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("BGPARCHIVE_ARCHIVE__COLLECTOR_ID", "")

	_, err := Load(p)
	if err == nil {
		t.Fatal("expected validation error for empty collector_id via env")
	}
}
