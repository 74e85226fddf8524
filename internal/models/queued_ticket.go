package models

import (
	"encoding/json"
	"time"
)

// QueuedTicket represents a ticket submission awaiting delivery.
// The payload is stored verbatim and never mutated by the queue; only the
// attempt metadata changes over the record's lifetime.
type QueuedTicket struct {
	ID          UUID            `db:"id" json:"id"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	Attempts    int             `db:"attempts" json:"attempts"`
	LastAttempt int64           `db:"last_attempt" json:"last_attempt"` // epoch millis, 0 = never attempted
	CreatedAt   int64           `db:"created_at" json:"created_at"`     // epoch millis
}

// TableName returns the table name for QueuedTicket.
func (QueuedTicket) TableName() string {
	return "ticket_queue"
}

// DeadLettered reports whether the record has exhausted its retry budget.
func (q *QueuedTicket) DeadLettered(maxAttempts int) bool {
	return q.Attempts >= maxAttempts
}

// CreatedAtTime returns CreatedAt as time.Time.
func (q *QueuedTicket) CreatedAtTime() time.Time {
	return TimeFromMillis(q.CreatedAt)
}

// LastAttemptTime returns LastAttempt as time.Time (zero time if never attempted).
func (q *QueuedTicket) LastAttemptTime() time.Time {
	return TimeFromMillis(q.LastAttempt)
}
