package fs

import (
	"testing"
	"time"
)

func TestParentsLockTryLockExclusiveTimesOutWhenHeld(t *testing.T) {
	var l parentsLock
	if err := l.TryLockExclusive(time.Second); err != nil {
		t.Fatalf("first lock should succeed: %v", err)
	}
	defer l.UnlockExclusive()

	var l2 = &l
	if err := l2.TryLockExclusive(20 * time.Millisecond); err == nil {
		t.Fatalf("expected a CheckoutInProgress error while already held")
	}
}

func TestParentsLockUnlockAllowsNextAcquire(t *testing.T) {
	var l parentsLock
	if err := l.TryLockExclusive(time.Second); err != nil {
		t.Fatalf("first lock: %v", err)
	}
	l.UnlockExclusive()

	if err := l.TryLockExclusive(time.Second); err != nil {
		t.Fatalf("lock should be free after unlock: %v", err)
	}
	l.UnlockExclusive()
}
