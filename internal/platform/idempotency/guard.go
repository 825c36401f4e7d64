package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Claim is held by the caller that won the right to execute the request for (Key, Scope).
type Claim struct {
	Key         string
	Scope       string
	RequestHash string
}

// Outcome is the result of Guard.Begin. Exactly one of Claim or Replay is set.
type Outcome struct {
	Claim  *Claim
	Replay *Record
}

// GuardOption customises Guard behaviour.
type GuardOption func(*Guard)

// WithClock overrides the clock used to stamp records.
func WithClock(clock func() time.Time) GuardOption {
	return func(g *Guard) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithTTL overrides how long records are retained.
func WithTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// Guard deduplicates requests and deliveries by (key, scope, request hash). It knows nothing about
// payments or orders; scopes keep unrelated endpoints from colliding.
type Guard struct {
	store Store
	clock func() time.Time
	ttl   time.Duration
}

// NewGuard constructs a Guard backed by store.
func NewGuard(store Store, opts ...GuardOption) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency guard: store is required")
	}
	g := &Guard{store: store, clock: time.Now, ttl: DefaultTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// Begin hashes payload and resolves (key, scope). A completed record with the same hash is returned for
// replay, a different hash yields ErrHashMismatch, and a pending record held by someone else yields
// ErrInProgress. Otherwise the caller receives a Claim and must call Complete or Abandon.
func (g *Guard) Begin(ctx context.Context, key, scope string, payload any) (Outcome, error) {
	key = strings.TrimSpace(key)
	scope = strings.TrimSpace(scope)
	if key == "" || scope == "" {
		return Outcome{}, errors.New("idempotency guard: key and scope are required")
	}
	hash, err := Hash(payload)
	if err != nil {
		return Outcome{}, fmt.Errorf("idempotency guard: hash payload: %w", err)
	}

	now := g.clock().UTC()
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := g.store.Get(ctx, key, scope)
		switch {
		case err == nil:
			if existing.Expired(now) {
				if delErr := g.store.Delete(ctx, key, scope, existing.RequestHash); delErr != nil {
					return Outcome{}, delErr
				}
				continue
			}
			return resolveExisting(existing, hash)
		case !errors.Is(err, ErrNotFound):
			return Outcome{}, err
		}

		record := Record{
			Key:         key,
			Scope:       scope,
			RequestHash: hash,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(g.ttl),
		}
		err = g.store.Create(ctx, record)
		if err == nil {
			return Outcome{Claim: &Claim{Key: key, Scope: scope, RequestHash: hash}}, nil
		}
		if !errors.Is(err, ErrAlreadyExists) {
			return Outcome{}, err
		}
		// Lost the race; re-read the winner's record.
	}

	existing, err := g.store.Get(ctx, key, scope)
	if err != nil {
		return Outcome{}, err
	}
	return resolveExisting(existing, hash)
}

// Complete freezes the response for a claim so later duplicates replay it.
func (g *Guard) Complete(ctx context.Context, claim *Claim, status int, body []byte) error {
	if claim == nil {
		return nil
	}
	return g.store.Complete(ctx, claim.Key, claim.Scope, claim.RequestHash, status, body, g.clock().UTC())
}

// Abandon drops a pending claim after a failed execution so a retry may run again.
func (g *Guard) Abandon(ctx context.Context, claim *Claim) error {
	if claim == nil {
		return nil
	}
	return g.store.Delete(ctx, claim.Key, claim.Scope, claim.RequestHash)
}

// CleanupExpired removes records past their retention window.
func (g *Guard) CleanupExpired(ctx context.Context, limit int) (int, error) {
	return g.store.CleanupExpired(ctx, g.clock().UTC(), limit)
}

func resolveExisting(record Record, hash string) (Outcome, error) {
	if record.RequestHash != hash {
		return Outcome{}, ErrHashMismatch
	}
	if record.Status == StatusCompleted {
		replay := record
		replay.ResponseBody = cloneBody(record.ResponseBody)
		return Outcome{Replay: &replay}, nil
	}
	return Outcome{}, ErrInProgress
}
