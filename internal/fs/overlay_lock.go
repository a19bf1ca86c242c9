package fs

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	edenerrors "github.com/edenfs-go/eden/pkg/errors"
)

// overlayLock is the overlay's process-exclusive lock file (spec §4.2,
// §6: "lock - exclusive-access lock file; contains the owner pid as ASCII
// with trailing newline"), following the teacher's stale-lock-detection
// pattern from internal/fs/cache.go but using flock for the exclusivity
// test instead of a file-age heuristic.
type overlayLock struct {
	file *os.File
	path string
}

// acquireOverlayLock opens (creating if absent) and flock(LOCK_EX|LOCK_NB)s
// the lock file, writing the current pid on success. A held lock surfaces
// CheckoutInProgress-flavored information via the returned blocker pid.
func acquireOverlayLock(path string) (*overlayLock, int, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, 0, edenerrors.NewOverlay("open overlay lock", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		blocker := readLockPID(f)
		f.Close()
		return nil, blocker, edenerrors.NewOverlay(fmt.Sprintf("overlay already locked by pid %d", blocker), err)
	}
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, 0, edenerrors.NewOverlay("truncate overlay lock", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		f.Close()
		return nil, 0, edenerrors.NewOverlay("write overlay lock pid", err)
	}
	return &overlayLock{file: f, path: path}, os.Getpid(), nil
}

func readLockPID(f *os.File) int {
	buf := make([]byte, 32)
	n, _ := f.ReadAt(buf, 0)
	s := strings.TrimSpace(string(buf[:n]))
	pid, _ := strconv.Atoi(s)
	return pid
}

func (l *overlayLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	return l.file.Close()
}
