package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. It is only suitable for tests and as a degraded mode
// when no durable backend is configured: uniqueness does not hold across instances.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore constructs an empty memory-backed idempotency store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key, scope string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[recordID(key, scope)]
	if !ok {
		return Record{}, ErrNotFound
	}
	record.ResponseBody = cloneBody(record.ResponseBody)
	return record, nil
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := recordID(record.Key, record.Scope)
	if _, exists := s.records[id]; exists {
		return ErrAlreadyExists
	}
	record.ResponseBody = cloneBody(record.ResponseBody)
	s.records[id] = record
	return nil
}

// Complete implements Store.
func (s *MemoryStore) Complete(_ context.Context, key, scope, requestHash string, status int, body []byte, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := recordID(key, scope)
	record, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if record.RequestHash != requestHash {
		return ErrHashMismatch
	}
	record.Status = StatusCompleted
	record.ResponseStatus = status
	record.ResponseBody = cloneBody(body)
	record.UpdatedAt = now
	s.records[id] = record
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key, scope, requestHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := recordID(key, scope)
	if record, ok := s.records[id]; ok && record.RequestHash == requestHash {
		delete(s.records, id)
	}
	return nil
}

// CleanupExpired implements Store.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}

	removed := 0
	for id, record := range s.records {
		if removed >= limit {
			break
		}
		if !record.Expired(now) {
			continue
		}
		delete(s.records, id)
		removed++
	}
	return removed, nil
}
