package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

// envPrefix is stripped from environment variables before they overlay the
// loaded file; BGPARCHIVE_ARCHIVE__ROOT -> archive.root.
const envPrefix = "BGPARCHIVE_"

type Config struct {
	Service     ServiceConfig     `koanf:"service"`
	Archive     ArchiveConfig     `koanf:"archive"`
	Catalog     CatalogConfig     `koanf:"catalog"`
	IngestKafka IngestKafkaConfig `koanf:"ingest_kafka"`
}

type ServiceConfig struct {
	InstanceID             string `koanf:"instance_id"`
	HTTPListen             string `koanf:"http_listen"`
	LogLevel               string `koanf:"log_level"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
}

// CatalogConfig configures the optional Postgres segment catalog: a
// metadata-only index of finalized segments (path, manifest fields, hash)
// kept alongside the archive for fleet-wide inventory queries. It never
// stores or serves archived record bytes themselves.
type CatalogConfig struct {
	Enabled   bool            `koanf:"enabled"`
	Postgres  PostgresConfig  `koanf:"postgres"`
	Retention RetentionConfig `koanf:"retention"`
}

type PostgresConfig struct {
	DSN      string `koanf:"dsn"`
	MaxConns int32  `koanf:"max_conns"`
	MinConns int32  `koanf:"min_conns"`
}

type RetentionConfig struct {
	Days     int    `koanf:"days"`
	Timezone string `koanf:"timezone"`
}

// IngestKafkaConfig configures the optional Kafka ingest adapter: an
// out-of-process BGP session worker publishes gob-encoded update/peer-state
// envelopes to this topic, and the adapter calls into the archive service
// on this process's behalf.
type IngestKafkaConfig struct {
	Enabled       bool       `koanf:"enabled"`
	Brokers       []string   `koanf:"brokers"`
	Topic         string     `koanf:"topic"`
	GroupID       string     `koanf:"group_id"`
	ClientID      string     `koanf:"client_id"`
	TLS           TLSConfig  `koanf:"tls"`
	SASL          SASLConfig `koanf:"sasl"`
	FetchMaxBytes int32      `koanf:"fetch_max_bytes"`
}

type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CAFile   string `koanf:"ca_file"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

type SASLConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Mechanism string `koanf:"mechanism"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Overlay environment variables: BGPARCHIVE_ARCHIVE__ROOT -> archive.root
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := &Config{
		Service: ServiceConfig{
			InstanceID:             "bgparchived-1",
			HTTPListen:             ":8080",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		Archive: ArchiveConfig{
			CollectorID:             "focl01",
			LayoutProfile:           LayoutProfileRouteViews,
			UpdatesIntervalSecs:     900,
			RibsIntervalSecs:        7200,
			Compression:             CompressionGzip,
			Root:                    "/var/lib/bgparchived/archive",
			TmpRoot:                 "/var/lib/bgparchived/archive/.tmp",
			FsyncOnRotate:           true,
			IncludePeerStateRecords: true,
		},
		Catalog: CatalogConfig{
			Postgres: PostgresConfig{
				MaxConns: 20,
				MinConns: 2,
			},
			Retention: RetentionConfig{
				Days:     30,
				Timezone: "UTC",
			},
		},
		IngestKafka: IngestKafkaConfig{
			ClientID:      "bgparchived",
			GroupID:       "bgparchived-ingest",
			FetchMaxBytes: 52428800,
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if len(cfg.IngestKafka.Brokers) == 1 && strings.Contains(cfg.IngestKafka.Brokers[0], ",") {
		cfg.IngestKafka.Brokers = strings.Split(cfg.IngestKafka.Brokers[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Service.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("config: service.shutdown_timeout_seconds must be > 0 (got %d)", c.Service.ShutdownTimeoutSeconds)
	}

	if err := c.Archive.Validate(); err != nil {
		return err
	}

	if c.Catalog.Enabled {
		if c.Catalog.Postgres.DSN == "" {
			return fmt.Errorf("config: catalog.postgres.dsn is required when catalog.enabled")
		}
		if c.Catalog.Postgres.MaxConns <= 0 {
			return fmt.Errorf("config: catalog.postgres.max_conns must be > 0 (got %d)", c.Catalog.Postgres.MaxConns)
		}
		if c.Catalog.Postgres.MinConns < 0 {
			return fmt.Errorf("config: catalog.postgres.min_conns must be >= 0 (got %d)", c.Catalog.Postgres.MinConns)
		}
		if c.Catalog.Retention.Days <= 0 {
			return fmt.Errorf("config: catalog.retention.days must be > 0 (got %d)", c.Catalog.Retention.Days)
		}
		if _, err := time.LoadLocation(c.Catalog.Retention.Timezone); err != nil {
			return fmt.Errorf("config: catalog.retention.timezone is invalid: %w", err)
		}
	}

	if c.IngestKafka.Enabled {
		if len(c.IngestKafka.Brokers) == 0 {
			return fmt.Errorf("config: ingest_kafka.brokers is required when ingest_kafka.enabled")
		}
		if c.IngestKafka.Topic == "" {
			return fmt.Errorf("config: ingest_kafka.topic is required when ingest_kafka.enabled")
		}
		if c.IngestKafka.GroupID == "" {
			return fmt.Errorf("config: ingest_kafka.group_id is required when ingest_kafka.enabled")
		}
		if c.IngestKafka.FetchMaxBytes <= 0 {
			return fmt.Errorf("config: ingest_kafka.fetch_max_bytes must be > 0 (got %d)", c.IngestKafka.FetchMaxBytes)
		}
	}

	return nil
}

// BuildTLSConfig creates a *tls.Config from the Kafka TLS settings. Returns nil if TLS is disabled.
func (k *IngestKafkaConfig) BuildTLSConfig() (*tls.Config, error) {
	if !k.TLS.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{}
	if k.TLS.CAFile != "" {
		caPEM, err := os.ReadFile(k.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsCfg.RootCAs = pool
	}
	if k.TLS.CertFile != "" && k.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(k.TLS.CertFile, k.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

// BuildSASLMechanism creates a SASL mechanism from the Kafka SASL settings. Returns nil if SASL is disabled.
func (k *IngestKafkaConfig) BuildSASLMechanism() sasl.Mechanism {
	if !k.SASL.Enabled {
		return nil
	}
	switch strings.ToUpper(k.SASL.Mechanism) {
	case "PLAIN":
		return plain.Auth{User: k.SASL.Username, Pass: k.SASL.Password}.AsMechanism()
	default:
		return nil
	}
}
