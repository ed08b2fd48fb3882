package http

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/bgpkit-collab/bgparchive/internal/archive"
	"github.com/bgpkit-collab/bgparchive/internal/config"
)

// mockConsumer implements ConsumerStatus for testing.
type mockConsumer struct {
	joined bool
}

func (m *mockConsumer) IsJoined() bool { return m.joined }

// mockDBChecker implements DBChecker for testing.
type mockDBChecker struct {
	err error
}

func (m *mockDBChecker) Ping(_ context.Context) error { return m.err }

func disabledArchiveService(t *testing.T) *archive.ArchiveService {
	t.Helper()
	svc, err := archive.NewArchiveService(&config.ArchiveConfig{Enabled: false}, net.ParseIP("192.0.2.1"), zap.NewNop())
	if err != nil {
		t.Fatalf("NewArchiveService: %v", err)
	}
	return svc
}

func TestHealthz_AlwaysOK(t *testing.T) {
	s := NewServer(":0", nil, nil, nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	s.handleHealthz(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status 'ok', got '%s'", body["status"])
	}
}

func TestHealthz_ContentType(t *testing.T) {
	s := NewServer(":0", nil, nil, nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	s.handleHealthz(w, req)

	ct := w.Header().Get("Content-Type")
	if ct != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", ct)
	}
}

func TestReadyz_NoOptionalDependencies_IsReady(t *testing.T) {
	// No catalog, no ingest consumer, no archive service wired in: none of
	// those checks should be reported, and readiness should pass.
	s := NewServer(":0", nil, nil, nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	checks := body["checks"].(map[string]any)
	if _, ok := checks["catalog_postgres"]; ok {
		t.Errorf("expected no catalog_postgres check when catalog not wired, got %v", checks["catalog_postgres"])
	}
	if _, ok := checks["ingest_kafka"]; ok {
		t.Errorf("expected no ingest_kafka check when consumer not wired, got %v", checks["ingest_kafka"])
	}
}

func TestReadyz_IngestConsumerNotJoined(t *testing.T) {
	s := NewServer(":0", nil, &mockConsumer{joined: false}, nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	checks := body["checks"].(map[string]any)
	if checks["ingest_kafka"] != "not_joined" {
		t.Errorf("expected ingest_kafka 'not_joined', got '%v'", checks["ingest_kafka"])
	}
}

func TestReadyz_CatalogDown(t *testing.T) {
	s := NewServer(":0", nil, nil, nil, zap.NewNop())
	s.dbChecker = &mockDBChecker{err: context.DeadlineExceeded}

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	s.handleReadyz(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	checks := body["checks"].(map[string]any)
	if checks["catalog_postgres"] != "error" {
		t.Errorf("expected catalog_postgres 'error', got '%v'", checks["catalog_postgres"])
	}
}

func TestReadyz_AllHealthy(t *testing.T) {
	s := NewServer(":0", nil, &mockConsumer{joined: true}, disabledArchiveService(t), zap.NewNop())
	s.dbChecker = &mockDBChecker{err: nil}

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	s.handleReadyz(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ready" {
		t.Errorf("expected status 'ready', got '%v'", body["status"])
	}

	checks := body["checks"].(map[string]any)
	if checks["catalog_postgres"] != "ok" {
		t.Errorf("expected catalog_postgres 'ok', got '%v'", checks["catalog_postgres"])
	}
	if checks["ingest_kafka"] != "ok" {
		t.Errorf("expected ingest_kafka 'ok', got '%v'", checks["ingest_kafka"])
	}
	if checks["archive"] != "ok" {
		t.Errorf("expected archive 'ok', got '%v'", checks["archive"])
	}
}

func TestReadyz_ContentType(t *testing.T) {
	s := NewServer(":0", nil, nil, nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	ct := w.Header().Get("Content-Type")
	if ct != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", ct)
	}
}
