package fs

import (
	"os"
	"sync"
	"time"

	edenerrors "github.com/edenfs-go/eden/pkg/errors"
)

// renameLock is the mount-wide shared/exclusive lock serializing
// namespace-changing operations (spec §5: "read-shared for reads that
// need naming stability; write-exclusive for rename/unlink/rmdir/
// checkout"). It is a thin, named wrapper over sync.RWMutex so call sites
// read like the spec's own vocabulary.
type renameLock struct {
	mu sync.RWMutex
}

func (l *renameLock) Lock()    { l.mu.Lock() }
func (l *renameLock) Unlock()  { l.mu.Unlock() }
func (l *renameLock) RLock()   { l.mu.RLock() }
func (l *renameLock) RUnlock() { l.mu.RUnlock() }

// parentsLock guards the current-parent-commit record around checkout
// (spec §4.5, §5). Diff holds it shared; checkout holds it exclusive with
// a short timeout, surfacing CheckoutInProgress with the blocking pid
// when another checkout already holds it.
type parentsLock struct {
	mu        sync.RWMutex
	holderPID int
}

// TryLockExclusive attempts to acquire the parents lock within timeout,
// recording the calling process's pid as the holder on success. It polls
// sync.RWMutex.TryLock rather than blocking so a timed-out caller never
// leaves a stray goroutine waiting to acquire the lock out from under a
// later holder.
func (l *parentsLock) TryLockExclusive(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	const pollInterval = time.Millisecond
	for {
		if l.mu.TryLock() {
			l.holderPID = os.Getpid()
			return nil
		}
		if time.Now().After(deadline) {
			return edenerrors.NewCheckoutInProgress(l.holderPID)
		}
		time.Sleep(pollInterval)
	}
}

func (l *parentsLock) UnlockExclusive() {
	l.holderPID = 0
	l.mu.Unlock()
}

func (l *parentsLock) RLock()   { l.mu.RLock() }
func (l *parentsLock) RUnlock() { l.mu.RUnlock() }
