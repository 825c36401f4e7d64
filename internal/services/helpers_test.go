package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/tasks"
	"github.com/hanko-field/orders/internal/repositories"
)

var testNow = time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func sequenceIDs() func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%04d", n)
	}
}

func immediateRunner() *tasks.Runner {
	return tasks.NewRunner(tasks.WithSleep(func(time.Duration) {}))
}

type captureNotifier struct {
	mu            sync.Mutex
	notifications []Notification
	notifyFn      func(context.Context, Notification) error
}

func (c *captureNotifier) Notify(ctx context.Context, n Notification) error {
	c.mu.Lock()
	c.notifications = append(c.notifications, n)
	c.mu.Unlock()
	if c.notifyFn != nil {
		return c.notifyFn(ctx, n)
	}
	return nil
}

func (c *captureNotifier) kinds() []domain.NotificationKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	kinds := make([]domain.NotificationKind, 0, len(c.notifications))
	for _, n := range c.notifications {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

type captureOrderEvents struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	event  string
	fields map[string]any
}

func (c *captureLogger) log(_ context.Context, event string, fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, logEntry{event: event, fields: fields})
}

func (c *captureLogger) has(event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		if entry.event == event {
			return true
		}
	}
	return false
}

type stubOrderRepo struct {
	repositories.OrderRepository
	insertFn       func(context.Context, domain.Order) error
	updateStatusFn func(context.Context, repositories.StatusUpdate) error
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return s.OrderRepository.Insert(ctx, order)
}

func (s *stubOrderRepo) UpdateStatus(ctx context.Context, update repositories.StatusUpdate) error {
	if s.updateStatusFn != nil {
		return s.updateStatusFn(ctx, update)
	}
	return s.OrderRepository.UpdateStatus(ctx, update)
}

type stubInventoryRepo struct {
	repositories.InventoryRepository
	releaseFn func(context.Context, string) error
	commitFn  func(context.Context, string) error
}

func (s *stubInventoryRepo) ReleaseOrder(ctx context.Context, orderID string) error {
	if s.releaseFn != nil {
		return s.releaseFn(ctx, orderID)
	}
	return s.InventoryRepository.ReleaseOrder(ctx, orderID)
}

func (s *stubInventoryRepo) CommitOrder(ctx context.Context, orderID string) error {
	if s.commitFn != nil {
		return s.commitFn(ctx, orderID)
	}
	return s.InventoryRepository.CommitOrder(ctx, orderID)
}

type stubRepoError struct {
	notFound, conflict, unavailable bool
}

func (e stubRepoError) Error() string       { return "stub repository error" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }
