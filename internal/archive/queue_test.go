package archive

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestReplicationQueue_EnqueueClaimAndAck(t *testing.T) {
	dir := t.TempDir()
	q, err := NewReplicationQueue(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer q.Close()

	if err := q.Enqueue("/tmp/segment.gz", "/tmp/segment.gz.json", "local:/tmp/archive", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pending, err := q.PendingCount()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pending != 1 {
		t.Fatalf("expected 1 pending job, got %d", pending)
	}

	jobs, err := q.ClaimReady(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 claimed job, got %d", len(jobs))
	}

	if err := q.MarkSuccess(jobs[0].ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pending, err = q.PendingCount()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pending != 0 {
		t.Fatalf("expected 0 pending jobs after ack, got %d", pending)
	}
}

func TestReplicationQueue_ClaimDoesNotDoubleHand(t *testing.T) {
	dir := t.TempDir()
	q, err := NewReplicationQueue(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer q.Close()

	if err := q.Enqueue(filepath.Join(dir, "a.gz"), filepath.Join(dir, "a.gz.json"), "local:/tmp/archive", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, err := q.ClaimReady(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 job on first claim, got %d", len(first))
	}

	second, err := q.ClaimReady(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected 0 jobs on second claim (already in_progress), got %d", len(second))
	}
}

func TestReplicationQueue_MarkFailedRetriesUntilExhausted(t *testing.T) {
	dir := t.TempDir()
	q, err := NewReplicationQueue(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer q.Close()

	if err := q.Enqueue("/tmp/segment.gz", "/tmp/segment.gz.json", "s3:endpoint:bucket", 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	jobs, err := q.ClaimReady(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	job := jobs[0]

	if err := q.MarkFailed(job, errors.New("connection refused"), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	failed, err := q.FailedCount()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if failed != 0 {
		t.Fatalf("expected job to remain pending after first failure, got %d failed", failed)
	}

	jobs, err = q.ClaimReady(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected job to be claimable again after backoff elapses, got %d", len(jobs))
	}
	job = jobs[0]
	if job.Attempts != 1 {
		t.Fatalf("expected attempts=1 after first failure, got %d", job.Attempts)
	}

	if err := q.MarkFailed(job, errors.New("connection refused"), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	failed, err = q.FailedCount()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if failed != 1 {
		t.Fatalf("expected job to be terminally failed after exhausting max_retries, got %d", failed)
	}
}

func TestReplicationQueue_RetryFailedResetsToPending(t *testing.T) {
	dir := t.TempDir()
	q, err := NewReplicationQueue(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer q.Close()

	if err := q.Enqueue("/tmp/segment.gz", "/tmp/segment.gz.json", "local:/tmp/archive", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	jobs, err := q.ClaimReady(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.MarkFailed(jobs[0], errors.New("boom"), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	failed, err := q.FailedCount()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if failed != 1 {
		t.Fatalf("expected 1 failed job, got %d", failed)
	}

	reset, err := q.RetryFailed()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reset != 1 {
		t.Fatalf("expected 1 job reset, got %d", reset)
	}

	pending, err := q.PendingCount()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pending != 1 {
		t.Fatalf("expected reset job to be pending, got %d", pending)
	}
}
