package workflow

import (
	"context"
	"sync"
	"testing"
	"time"
)

// These tests are DB-free. They check that per-case serialization holds inside one process;
// cross-instance locking needs a Redis and is covered by the version check in the store tests.

func TestLocalCaseLocker_SerializesPerCase(t *testing.T) {
	l := NewLocalCaseLocker()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "case-1")
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected at most 1 holder, saw %d", maxSeen)
	}
	if len(l.locks) != 0 {
		t.Fatalf("expected lock table to be empty, has %d entries", len(l.locks))
	}
}

func TestLocalCaseLocker_DifferentCasesDoNotBlock(t *testing.T) {
	l := NewLocalCaseLocker()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "case-a")
	if err != nil {
		t.Fatalf("Lock a: %v", err)
	}
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := l.Lock(ctx, "case-b")
		if err == nil {
			unlockB()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on case-b blocked behind case-a")
	}
}

func TestLocalCaseLocker_HonoursCancellation(t *testing.T) {
	l := NewLocalCaseLocker()
	unlock, err := l.Lock(context.Background(), "case-1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "case-1"); err == nil {
		t.Fatal("expected the second lock to time out")
	}

	unlock()
	unlock() // second call is a no-op
	again, err := l.Lock(context.Background(), "case-1")
	if err != nil {
		t.Fatalf("Lock after release: %v", err)
	}
	again()
}

func TestRedisCaseLocker_WithoutClientFallsBackToLocal(t *testing.T) {
	l := NewRedisCaseLocker(nil, quietLogger())
	unlock, err := l.Lock(context.Background(), "case-1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	unlock()
}
