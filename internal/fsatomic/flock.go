//go:build unix

package fsatomic

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// fileLock is a flock(2) lock. It is per open file description, so two
// goroutines of one process exclude each other as well.
type fileLock struct {
	f    *os.File
	once sync.Once
}

func lockExclusive(lockPath string) (*fileLock, error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) Unlock() {
	l.once.Do(func() {
		_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
		_ = l.f.Close()
	})
}
