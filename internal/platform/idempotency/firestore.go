package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCollection  = "idempotency_records"
	defaultMaxAttempts = 5
)

// FirestoreOption customises the FirestoreStore behaviour.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection name used to store idempotency records.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collection = name
		}
	}
}

// WithMaxAttempts configures the transaction retry attempts.
func WithMaxAttempts(attempts int) FirestoreOption {
	return func(store *FirestoreStore) {
		if attempts > 0 {
			store.maxAttempts = attempts
		}
	}
}

// FirestoreStore implements Store on Firestore. Documents are keyed by a digest of (scope, key) and
// created with DocumentRef.Create, which fails when the document already exists.
type FirestoreStore struct {
	client      *firestore.Client
	collection  string
	maxAttempts int
}

// NewFirestoreStore constructs a Firestore-backed idempotency store.
func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) *FirestoreStore {
	store := &FirestoreStore{
		client:      client,
		collection:  defaultCollection,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

func (s *FirestoreStore) doc(key, scope string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(recordID(key, scope))
}

// Get implements Store.
func (s *FirestoreStore) Get(ctx context.Context, key, scope string) (Record, error) {
	snap, err := s.doc(key, scope).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	var rec firestoreRecord
	if err := snap.DataTo(&rec); err != nil {
		return Record{}, err
	}
	return rec.toRecord(), nil
}

// Create implements Store.
func (s *FirestoreStore) Create(ctx context.Context, record Record) error {
	_, err := s.doc(record.Key, record.Scope).Create(ctx, fromRecord(record))
	if status.Code(err) == codes.AlreadyExists {
		return ErrAlreadyExists
	}
	return err
}

// Complete implements Store.
func (s *FirestoreStore) Complete(ctx context.Context, key, scope, requestHash string, responseStatus int, body []byte, now time.Time) error {
	ref := s.doc(key, scope)
	bodyCopy := cloneBody(body)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrNotFound
			}
			return err
		}
		var rec firestoreRecord
		if err := snap.DataTo(&rec); err != nil {
			return err
		}
		if rec.RequestHash != requestHash {
			return ErrHashMismatch
		}
		rec.Status = string(StatusCompleted)
		rec.ResponseStatus = responseStatus
		rec.ResponseBody = bodyCopy
		rec.UpdatedAt = now
		return tx.Set(ref, rec)
	}, firestore.MaxAttempts(s.maxAttempts))
}

// Delete implements Store.
func (s *FirestoreStore) Delete(ctx context.Context, key, scope, requestHash string) error {
	ref := s.doc(key, scope)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		}
		var rec firestoreRecord
		if err := snap.DataTo(&rec); err != nil {
			return err
		}
		if rec.RequestHash != requestHash {
			return nil
		}
		return tx.Delete(ref)
	}, firestore.MaxAttempts(s.maxAttempts))
}

// CleanupExpired removes expired idempotency records up to the provided limit.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}

	docs, err := s.client.Collection(s.collection).Where("expires_at", "<=", now).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	batch := s.client.Batch()
	for _, doc := range docs {
		batch.Delete(doc.Ref)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return 0, err
	}
	return len(docs), nil
}

type firestoreRecord struct {
	Key            string    `firestore:"key"`
	Scope          string    `firestore:"scope"`
	RequestHash    string    `firestore:"request_hash"`
	Status         string    `firestore:"status"`
	ResponseStatus int       `firestore:"response_status"`
	ResponseBody   []byte    `firestore:"response_body"`
	CreatedAt      time.Time `firestore:"created_at"`
	UpdatedAt      time.Time `firestore:"updated_at"`
	ExpiresAt      time.Time `firestore:"expires_at"`
}

func fromRecord(r Record) firestoreRecord {
	return firestoreRecord{
		Key:            r.Key,
		Scope:          r.Scope,
		RequestHash:    r.RequestHash,
		Status:         string(r.Status),
		ResponseStatus: r.ResponseStatus,
		ResponseBody:   cloneBody(r.ResponseBody),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		ExpiresAt:      r.ExpiresAt,
	}
}

func (r firestoreRecord) toRecord() Record {
	return Record{
		Key:            r.Key,
		Scope:          r.Scope,
		RequestHash:    r.RequestHash,
		Status:         Status(r.Status),
		ResponseStatus: r.ResponseStatus,
		ResponseBody:   r.ResponseBody,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		ExpiresAt:      r.ExpiresAt,
	}
}
