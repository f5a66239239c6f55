// OS-level file locking for cross-process coordination.
//
// A database directory holds a LOCK file; Open takes a non-blocking
// exclusive lock on it so that two processes can never write the same
// segments. The lock is advisory and released automatically by the OS
// if the process dies, so crashes never leave a stale lock behind.
//
// fileLock wraps flock(2) / LockFileEx with a mutex that guards the
// file handle's lifetime: the mutex is held for the duration of the
// syscall so Fd() cannot race with Close on the same *os.File.
package quire

import (
	"os"
	"path/filepath"
	"sync"
)

// lockName is the lock file's name inside the database directory.
const lockName = "LOCK"

// fileLock coordinates OS-level file locks with safe handle teardown.
type fileLock struct {
	mu sync.Mutex
	f  *os.File
}

// acquireDirLock creates (or opens) dir/LOCK and takes an exclusive
// non-blocking lock on it. Returns ErrLocked when another process
// holds it.
func acquireDirLock(dir string) (*fileLock, error) {
	f, err := os.OpenFile(filepath.Join(dir, lockName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	l := &fileLock{f: f}
	if err := l.lock(); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// Release unlocks and closes the lock file.
func (l *fileLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.unlock()
	l.f.Close()
	l.f = nil
	return err
}
