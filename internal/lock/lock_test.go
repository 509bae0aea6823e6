package lock

import (
	"context"
	"math/rand"
	"testing"
	"time"
)

func TestTryLockAcquiresAndReleases(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)

	ok, err := l.TryLock()
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if !ok {
		t.Fatal("expected first TryLock to succeed")
	}
	if !l.Locked() {
		t.Fatal("expected Locked() true after acquisition")
	}

	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
}

func TestTryLockFailsWhenAlreadyHeld(t *testing.T) {
	dir := t.TempDir()
	first := New(dir)
	second := New(dir)

	ok, err := first.TryLock()
	if err != nil || !ok {
		t.Fatalf("expected first TryLock to succeed, got ok=%v err=%v", ok, err)
	}
	defer first.Unlock()

	ok, err = second.TryLock()
	if err != nil {
		t.Fatalf("second TryLock: %v", err)
	}
	if ok {
		t.Fatal("expected second TryLock to fail while first holds the lock")
	}
}

func TestLockBlocksUntilContextCancelled(t *testing.T) {
	dir := t.TempDir()
	first := New(dir)
	second := New(dir)

	ok, err := first.TryLock()
	if err != nil || !ok {
		t.Fatalf("expected first TryLock to succeed, got ok=%v err=%v", ok, err)
	}
	defer first.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	rnd := rand.New(rand.NewSource(1))
	err = second.Lock(ctx, rnd)
	if err == nil {
		t.Fatal("expected Lock to fail once the contended lock's holder never releases")
	}
}
