package idempotency

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
)

var fixedTime = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

func newTestGuard(t *testing.T, store Store, now *time.Time) *Guard {
	t.Helper()
	guard, err := NewGuard(store, WithClock(func() time.Time { return *now }), WithTTL(time.Hour))
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	return guard
}

func TestGuard_ClaimThenReplay(t *testing.T) {
	now := fixedTime
	guard := newTestGuard(t, NewMemoryStore(), &now)
	ctx := context.Background()
	payload := map[string]any{"items": []any{map[string]any{"productId": "p1", "quantity": 1}}}

	first, err := guard.Begin(ctx, "key-1", "orders/create", payload)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if first.Claim == nil || first.Replay != nil {
		t.Fatalf("expected a claim, got %+v", first)
	}
	if err := guard.Complete(ctx, first.Claim, http.StatusCreated, []byte(`{"id":"ord_1"}`)); err != nil {
		t.Fatalf("complete: %v", err)
	}

	second, err := guard.Begin(ctx, "key-1", "orders/create", payload)
	if err != nil {
		t.Fatalf("second begin: %v", err)
	}
	if second.Replay == nil {
		t.Fatalf("expected replay, got %+v", second)
	}
	if second.Replay.ResponseStatus != http.StatusCreated || string(second.Replay.ResponseBody) != `{"id":"ord_1"}` {
		t.Fatalf("unexpected replay record: %+v", second.Replay)
	}
}

func TestGuard_HashMismatchIsConflict(t *testing.T) {
	now := fixedTime
	guard := newTestGuard(t, NewMemoryStore(), &now)
	ctx := context.Background()

	outcome, err := guard.Begin(ctx, "key-1", "orders/create", map[string]any{"quantity": 1})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := guard.Complete(ctx, outcome.Claim, http.StatusCreated, []byte(`{}`)); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, err = guard.Begin(ctx, "key-1", "orders/create", map[string]any{"quantity": 2})
	if !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("expected ErrHashMismatch, got %v", err)
	}
}

func TestGuard_ScopesDoNotCollide(t *testing.T) {
	now := fixedTime
	guard := newTestGuard(t, NewMemoryStore(), &now)
	ctx := context.Background()

	if _, err := guard.Begin(ctx, "evt_1", "payments/stripe/webhook", map[string]any{"a": 1}); err != nil {
		t.Fatalf("begin stripe: %v", err)
	}
	outcome, err := guard.Begin(ctx, "evt_1", "payments/paypal/webhook", map[string]any{"b": 2})
	if err != nil {
		t.Fatalf("begin paypal: %v", err)
	}
	if outcome.Claim == nil {
		t.Fatal("expected independent claim for another scope")
	}
}

func TestGuard_PendingClaimBlocksDuplicates(t *testing.T) {
	now := fixedTime
	guard := newTestGuard(t, NewMemoryStore(), &now)
	ctx := context.Background()

	first, err := guard.Begin(ctx, "key-1", "orders/create", "payload")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := guard.Begin(ctx, "key-1", "orders/create", "payload"); !errors.Is(err, ErrInProgress) {
		t.Fatalf("expected ErrInProgress, got %v", err)
	}

	if err := guard.Abandon(ctx, first.Claim); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	retry, err := guard.Begin(ctx, "key-1", "orders/create", "payload")
	if err != nil {
		t.Fatalf("retry begin: %v", err)
	}
	if retry.Claim == nil {
		t.Fatal("expected a fresh claim after abandon")
	}
}

func TestGuard_ExpiredRecordIsReclaimed(t *testing.T) {
	now := fixedTime
	guard := newTestGuard(t, NewMemoryStore(), &now)
	ctx := context.Background()

	first, err := guard.Begin(ctx, "key-1", "orders/create", "a")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := guard.Complete(ctx, first.Claim, http.StatusCreated, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	now = fixedTime.Add(2 * time.Hour)
	outcome, err := guard.Begin(ctx, "key-1", "orders/create", "b")
	if err != nil {
		t.Fatalf("begin after expiry: %v", err)
	}
	if outcome.Claim == nil {
		t.Fatal("expected expired key to be claimable")
	}
}

func TestGuard_ConcurrentBeginHasSingleWinner(t *testing.T) {
	now := fixedTime
	guard := newTestGuard(t, NewMemoryStore(), &now)
	ctx := context.Background()

	const callers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claims  int
		blocked int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := guard.Begin(ctx, "race", "orders/create", "same")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && outcome.Claim != nil:
				claims++
			case errors.Is(err, ErrInProgress):
				blocked++
			default:
				t.Errorf("unexpected outcome %+v err %v", outcome, err)
			}
		}()
	}
	wg.Wait()

	if claims != 1 || blocked != callers-1 {
		t.Fatalf("expected exactly one claim, got claims=%d blocked=%d", claims, blocked)
	}
}

func TestMemoryStore_CleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, key := range []string{"a", "b"} {
		if err := store.Create(ctx, Record{Key: key, Scope: "s", ExpiresAt: fixedTime}); err != nil {
			t.Fatalf("create %s: %v", key, err)
		}
	}
	if err := store.Create(ctx, Record{Key: "c", Scope: "s", ExpiresAt: fixedTime.Add(time.Hour)}); err != nil {
		t.Fatalf("create c: %v", err)
	}

	removed, err := store.CleanupExpired(ctx, fixedTime, 0)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if _, err := store.Get(ctx, "c", "s"); err != nil {
		t.Fatalf("expected live record to remain: %v", err)
	}
}
