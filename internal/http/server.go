package http

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bgpkit-collab/bgparchive/internal/archive"
)

// ConsumerStatus abstracts the ingest Kafka consumer's group-join state.
type ConsumerStatus interface {
	IsJoined() bool
}

// DBChecker abstracts the catalog database health check for testability.
type DBChecker interface {
	Ping(ctx context.Context) error
}

// Server exposes health, readiness, and Prometheus metrics endpoints. It
// carries no business endpoints: the archive is inspected through the
// mrtdump and verify CLIs, not over HTTP.
type Server struct {
	srv            *http.Server
	dbChecker      DBChecker
	ingestConsumer ConsumerStatus
	archiveSvc     *archive.ArchiveService
	logger         *zap.Logger
}

func NewServer(addr string, catalogPool *pgxpool.Pool, ingestConsumer ConsumerStatus, archiveSvc *archive.ArchiveService, logger *zap.Logger) *Server {
	s := &Server{
		ingestConsumer: ingestConsumer,
		archiveSvc:     archiveSvc,
		logger:         logger,
	}
	if catalogPool != nil {
		s.dbChecker = catalogPool
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return s
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("HTTP server listening", zap.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	allOK := true

	// Catalog database, only checked when the optional catalog is enabled.
	if s.dbChecker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.dbChecker.Ping(ctx); err != nil {
			checks["catalog_postgres"] = "error"
			allOK = false
		} else {
			checks["catalog_postgres"] = "ok"
		}
	}

	// Ingest Kafka consumer, only checked when the optional adapter is enabled.
	if s.ingestConsumer != nil {
		if s.ingestConsumer.IsJoined() {
			checks["ingest_kafka"] = "ok"
		} else {
			checks["ingest_kafka"] = "not_joined"
			allOK = false
		}
	}

	if s.archiveSvc != nil {
		if status, err := s.archiveSvc.Status(); err != nil {
			checks["archive"] = "error"
			allOK = false
		} else if status.Enabled && status.UpdatesOpenPath == "" {
			checks["archive"] = "no_open_segment"
			allOK = false
		} else {
			checks["archive"] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	status := "ready"
	httpStatus := http.StatusOK
	if !allOK {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": checks,
	})
}
