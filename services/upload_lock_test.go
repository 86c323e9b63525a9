package services

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestKeyedMutexSerialisesSameKey(t *testing.T) {
	locks := NewKeyedMutex()
	ctx := context.Background()

	release, err := locks.Lock(ctx, "u1", "national_id")
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		r, err := locks.Lock(ctx, "u1", "national_id")
		if err == nil {
			close(acquired)
			r()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while the first was held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock not acquired after release")
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	locks := NewKeyedMutex()
	ctx := context.Background()
	r1, _ := locks.Lock(ctx, "u1", "national_id")
	defer r1()

	done := make(chan error, 1)
	go func() {
		r2, err := locks.Lock(ctx, "u1", "bank_statement")
		if err == nil {
			r2()
		}
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected other category to lock, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("lock on a different category blocked")
	}
}

func TestKeyedMutexHonoursContext(t *testing.T) {
	locks := NewKeyedMutex()
	release, _ := locks.Lock(context.Background(), "u1", "national_id")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	r, err := locks.Lock(ctx, "u1", "national_id")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	r()

	release()
	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.locks) != 0 {
		t.Fatalf("expected lock table to be empty, got %d entries", len(locks.locks))
	}
}
