package archive

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const replicationQueueSchema = `
CREATE TABLE IF NOT EXISTS replication_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	segment_path TEXT NOT NULL,
	manifest_path TEXT NOT NULL,
	destination_key TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 0,
	next_retry_ts INTEGER NOT NULL,
	status TEXT NOT NULL,
	last_error TEXT,
	created_ts INTEGER NOT NULL,
	updated_ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_replication_queue_ready ON replication_queue(status, next_retry_ts);
`

// ReplicationJob is one pending or in-flight unit of replication work: move
// a finalized segment (and its manifest sidecar) to one destination.
type ReplicationJob struct {
	ID             int64
	SegmentPath    string
	ManifestPath   string
	DestinationKey string
	Attempts       uint32
	MaxRetries     uint32
}

// ReplicationQueue is a durable, crash-safe work queue backed by a SQLite
// database file under "<root>/.replication/queue.sqlite". It survives
// process restarts: a job enqueued but never claimed, or claimed but never
// acknowledged, is simply picked up again.
type ReplicationQueue struct {
	db *sql.DB
}

// NewReplicationQueue opens (creating if necessary) the queue database
// under root, ensures its schema exists, and returns any jobs left
// in_progress by an earlier process to pending.
func NewReplicationQueue(root string) (*ReplicationQueue, error) {
	dbPath := filepath.Join(root, ".replication", "queue.sqlite")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed creating replication directory %s: %v", ErrQueue, filepath.Dir(dbPath), err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed opening queue db %s: %v", ErrQueue, dbPath, err)
	}
	// A single connection avoids SQLITE_BUSY contention between the
	// scheduler's enqueue calls and the replicator's claim/ack loop.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(replicationQueueSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed creating queue schema: %v", ErrQueue, err)
	}

	// A job claimed but never acknowledged before a restart would otherwise
	// stay in_progress forever, since ClaimReady only selects pending rows.
	if _, err := db.Exec(`UPDATE replication_queue SET status = 'pending' WHERE status = 'in_progress'`); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed resetting in_progress jobs: %v", ErrQueue, err)
	}

	return &ReplicationQueue{db: db}, nil
}

// Close releases the underlying database handle.
func (q *ReplicationQueue) Close() error {
	return q.db.Close()
}

// Enqueue records a pending replication job for one destination.
func (q *ReplicationQueue) Enqueue(segmentPath, manifestPath, destinationKey string, maxRetries uint32) error {
	now := time.Now().Unix()
	_, err := q.db.Exec(`
		INSERT INTO replication_queue (
			segment_path, manifest_path, destination_key, attempts, max_retries,
			next_retry_ts, status, created_ts, updated_ts
		) VALUES (?, ?, ?, 0, ?, ?, 'pending', ?, ?)`,
		segmentPath, manifestPath, destinationKey, maxRetries, now, now, now)
	if err != nil {
		return fmt.Errorf("%w: failed enqueueing job for %s: %v", ErrQueue, segmentPath, err)
	}
	return nil
}

// ClaimReady atomically selects up to limit pending jobs whose retry time
// has arrived and marks them in_progress, so a second caller (or a second
// process) won't claim the same rows.
func (q *ReplicationQueue) ClaimReady(limit int) ([]ReplicationJob, error) {
	now := time.Now().Unix()

	tx, err := q.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("%w: failed beginning claim transaction: %v", ErrQueue, err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT id, segment_path, manifest_path, destination_key, attempts, max_retries
		FROM replication_queue
		WHERE status = 'pending' AND next_retry_ts <= ?
		ORDER BY id ASC
		LIMIT ?`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed querying ready jobs: %v", ErrQueue, err)
	}

	var jobs []ReplicationJob
	for rows.Next() {
		var j ReplicationJob
		if err := rows.Scan(&j.ID, &j.SegmentPath, &j.ManifestPath, &j.DestinationKey, &j.Attempts, &j.MaxRetries); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: failed scanning ready job: %v", ErrQueue, err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("%w: failed iterating ready jobs: %v", ErrQueue, err)
	}
	rows.Close()

	for _, j := range jobs {
		if _, err := tx.Exec(`UPDATE replication_queue SET status = 'in_progress', updated_ts = ? WHERE id = ?`, now, j.ID); err != nil {
			return nil, fmt.Errorf("%w: failed marking job %d in_progress: %v", ErrQueue, j.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: failed committing claim transaction: %v", ErrQueue, err)
	}

	return jobs, nil
}

// MarkSuccess removes a completed job from the queue.
func (q *ReplicationQueue) MarkSuccess(jobID int64) error {
	if _, err := q.db.Exec(`DELETE FROM replication_queue WHERE id = ?`, jobID); err != nil {
		return fmt.Errorf("%w: failed marking job %d successful: %v", ErrQueue, jobID, err)
	}
	return nil
}

// MarkFailed records a failed attempt. If the job has exhausted max_retries
// (0 means unlimited) it moves to the terminal "failed" status, otherwise
// it is returned to "pending" with next_retry_ts pushed out by
// retryBackoffSecs.
func (q *ReplicationQueue) MarkFailed(job ReplicationJob, replicationErr error, retryBackoffSecs int64) error {
	now := time.Now().Unix()
	nextAttempt := job.Attempts + 1
	errMsg := replicationErr.Error()

	exhausted := job.MaxRetries > 0 && nextAttempt >= job.MaxRetries
	if exhausted {
		_, err := q.db.Exec(`
			UPDATE replication_queue
			SET attempts = ?, status = 'failed', last_error = ?, updated_ts = ?
			WHERE id = ?`, nextAttempt, errMsg, now, job.ID)
		if err != nil {
			return fmt.Errorf("%w: failed marking job %d permanently failed: %v", ErrQueue, job.ID, err)
		}
		return nil
	}

	nextRetry := now + retryBackoffSecs
	_, err := q.db.Exec(`
		UPDATE replication_queue
		SET attempts = ?, status = 'pending', next_retry_ts = ?, last_error = ?, updated_ts = ?
		WHERE id = ?`, nextAttempt, nextRetry, errMsg, now, job.ID)
	if err != nil {
		return fmt.Errorf("%w: failed scheduling retry for job %d: %v", ErrQueue, job.ID, err)
	}
	return nil
}

// PendingCount returns the number of jobs that are pending or in_progress.
func (q *ReplicationQueue) PendingCount() (int, error) {
	var count int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM replication_queue WHERE status IN ('pending', 'in_progress')`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: failed counting pending jobs: %v", ErrQueue, err)
	}
	return count, nil
}

// FailedCount returns the number of jobs that have exhausted their retries.
func (q *ReplicationQueue) FailedCount() (int, error) {
	var count int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM replication_queue WHERE status = 'failed'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: failed counting failed jobs: %v", ErrQueue, err)
	}
	return count, nil
}

// RetryFailed moves every terminally failed job back to pending for
// immediate retry, used by the "retry_failed" operator action.
func (q *ReplicationQueue) RetryFailed() (int64, error) {
	now := time.Now().Unix()
	result, err := q.db.Exec(`
		UPDATE replication_queue
		SET status = 'pending', next_retry_ts = ?, updated_ts = ?
		WHERE status = 'failed'`, now, now)
	if err != nil {
		return 0, fmt.Errorf("%w: failed resetting failed jobs: %v", ErrQueue, err)
	}
	return result.RowsAffected()
}
