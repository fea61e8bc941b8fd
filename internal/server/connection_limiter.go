package server

import "sync"

// UserConnectionLimiter caps concurrent sockets per user across all
// rooms, so a runaway tab loop cannot exhaust the instance.
type UserConnectionLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	maxPer int
}

func NewUserConnectionLimiter(maxPer int) *UserConnectionLimiter {
	return &UserConnectionLimiter{
		counts: make(map[string]int),
		maxPer: maxPer,
	}
}

// Acquire attempts to take a socket slot for the given user key.
// Returns false when the user is at the cap.
func (l *UserConnectionLimiter) Acquire(userKey string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.counts[userKey] >= l.maxPer {
		return false
	}
	l.counts[userKey]++
	return true
}

// Release returns a socket slot for the given user key.
func (l *UserConnectionLimiter) Release(userKey string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if count := l.counts[userKey]; count > 0 {
		l.counts[userKey] = count - 1
		if l.counts[userKey] == 0 {
			delete(l.counts, userKey)
		}
	}
}

// Count returns the active socket count for the given user key.
func (l *UserConnectionLimiter) Count(userKey string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[userKey]
}

// MaxPer returns the per-user socket cap.
func (l *UserConnectionLimiter) MaxPer() int {
	return l.maxPer
}
