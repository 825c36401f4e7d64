package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Status represents the lifecycle state of an idempotency record.
type Status string

const (
	// DefaultTTL is the default duration that idempotency records are retained.
	DefaultTTL = 24 * time.Hour
	// StatusPending indicates that a caller claimed the key but has not stored a response yet.
	StatusPending Status = "pending"
	// StatusCompleted indicates that the response for the key has been stored and can be replayed.
	StatusCompleted Status = "completed"
)

// Record is the persisted state for a (key, scope) pair.
type Record struct {
	Key            string
	Scope          string
	RequestHash    string
	Status         Status
	ResponseStatus int
	ResponseBody   []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      time.Time
}

// Expired reports whether the record is past its retention window.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Store persists idempotency records. Create must be an atomic create-if-absent on (key, scope) so
// that exactly one concurrent caller wins.
type Store interface {
	Get(ctx context.Context, key, scope string) (Record, error)
	Create(ctx context.Context, record Record) error
	Complete(ctx context.Context, key, scope, requestHash string, status int, body []byte, now time.Time) error
	Delete(ctx context.Context, key, scope, requestHash string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

var (
	// ErrNotFound is returned by Get when no record exists for (key, scope).
	ErrNotFound = errors.New("idempotency: record not found")
	// ErrAlreadyExists is returned by Create when another caller already holds (key, scope).
	ErrAlreadyExists = errors.New("idempotency: record already exists")
	// ErrHashMismatch is returned when a key is reused within a scope for a different request payload.
	ErrHashMismatch = errors.New("idempotency: key reused with a different request payload")
	// ErrInProgress is returned when another request holds the key and has not completed yet.
	ErrInProgress = errors.New("idempotency: request with this key is still in progress")
)

func recordID(key, scope string) string {
	return sha256Hex([]byte(strings.TrimSpace(scope) + "\x00" + strings.TrimSpace(key)))
}

func cloneBody(body []byte) []byte {
	if len(body) == 0 {
		return nil
	}
	return append([]byte(nil), body...)
}
