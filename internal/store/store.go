// Package store provides the durable on-disk queue for pending ticket
// submissions. Records survive process restarts; the sync controller drains
// them once the portal backend becomes reachable again.
package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/lotusit/supportq/internal/db"
	"github.com/lotusit/supportq/internal/logging"
	"github.com/lotusit/supportq/internal/models"
	"github.com/lotusit/supportq/internal/uuid"
)

// Store persists queued ticket submissions with their retry metadata.
//
// The store degrades gracefully: if the underlying database cannot be opened
// (read-only filesystem, blocked data directory), it marks itself unavailable
// and every operation becomes a safe no-op returning empty results. Offline
// queueing is a best-effort enhancement; the caller's main request path must
// never fail solely because durable storage is missing.
type Store struct {
	dataDir string

	mu          sync.Mutex
	db          *db.DB
	initialized bool
	available   bool
}

// New creates a Store rooted at dataDir. The database is opened lazily by
// Init.
func New(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

// Init opens the underlying database. Idempotent: only the first call does
// work. On failure the store is marked unavailable and a warning is logged
// once; no error is returned.
func (s *Store) Init() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return
	}
	s.initialized = true

	database, err := db.Open(s.dataDir)
	if err != nil {
		logging.Warn("durable ticket store unavailable, offline retry disabled",
			map[string]interface{}{"data_dir": s.dataDir, "reason": err.Error()})
		s.available = false
		return
	}

	s.db = database
	s.available = true
}

// IsAvailable reports whether initialization succeeded.
func (s *Store) IsAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized && s.available
}

// ready initializes the store if needed and reports availability.
func (s *Store) ready() bool {
	s.Init()
	return s.IsAvailable()
}

// Enqueue adds a new record holding the payload verbatim, with zero attempts.
// The assigned key stays internal to the store. Silent no-op when the store
// is unavailable.
func (s *Store) Enqueue(ctx context.Context, payload json.RawMessage) error {
	if !s.ready() {
		return nil
	}

	query := `
	INSERT INTO ticket_queue (id, payload, attempts, last_attempt, created_at)
	VALUES (?, ?, 0, 0, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		models.UUID(uuid.New()), []byte(payload), time.Now().UnixMilli())
	return err
}

// List returns all records in insertion order. Empty when unavailable.
func (s *Store) List(ctx context.Context) ([]models.QueuedTicket, error) {
	if !s.ready() {
		return nil, nil
	}

	query := `
	SELECT id, payload, attempts, last_attempt, created_at
	FROM ticket_queue
	ORDER BY created_at, rowid
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.QueuedTicket
	for rows.Next() {
		var rec models.QueuedTicket
		var payload []byte
		if err := rows.Scan(&rec.ID, &payload, &rec.Attempts, &rec.LastAttempt, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Payload = json.RawMessage(payload)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Remove deletes a record by key. An absent key is not an error.
func (s *Store) Remove(ctx context.Context, id models.UUID) error {
	if !s.ready() {
		return nil
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM ticket_queue WHERE id = ?`, id)
	return err
}

// UpdateAttempt merges new attempt metadata into an existing record. An
// absent key is a no-op: a record removed by a concurrent successful sync
// must never be resurrected.
func (s *Store) UpdateAttempt(ctx context.Context, id models.UUID, attempts int, lastAttempt int64) error {
	if !s.ready() {
		return nil
	}

	query := `UPDATE ticket_queue SET attempts = ?, last_attempt = ? WHERE id = ?`
	_, err := s.db.ExecContext(ctx, query, attempts, lastAttempt, id)
	return err
}

// Count returns the number of records currently stored. Zero when
// unavailable.
func (s *Store) Count(ctx context.Context) (int, error) {
	if !s.ready() {
		return 0, nil
	}

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ticket_queue`).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Clear removes all records (administrative purge).
func (s *Store) Clear(ctx context.Context) error {
	if !s.ready() {
		return nil
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM ticket_queue`)
	return err
}

// ListDeadLetters returns records that have exhausted their retry budget.
// They remain stored but are excluded from automatic retry; this is the
// operator affordance for inspecting and purging them.
func (s *Store) ListDeadLetters(ctx context.Context, maxAttempts int) ([]models.QueuedTicket, error) {
	if !s.ready() {
		return nil, nil
	}

	query := `
	SELECT id, payload, attempts, last_attempt, created_at
	FROM ticket_queue
	WHERE attempts >= ?
	ORDER BY created_at, rowid
	`
	rows, err := s.db.QueryContext(ctx, query, maxAttempts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.QueuedTicket
	for rows.Next() {
		var rec models.QueuedTicket
		var payload []byte
		if err := rows.Scan(&rec.ID, &payload, &rec.Attempts, &rec.LastAttempt, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Payload = json.RawMessage(payload)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.available = false
	return err
}
