package helpers

// Random synchronisation util stash

import "sync"

func WithLock(l sync.Locker, f func()) {
	l.Lock()
	defer l.Unlock()
	f()
}

func WithLockError(l sync.Locker, f func() error) error {
	l.Lock()
	defer l.Unlock()
	return f()
}
