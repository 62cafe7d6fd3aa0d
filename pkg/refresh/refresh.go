// Package refresh holds the single invalidation counter shared by the
// connection manager, the transaction submitter and the watcher.
package refresh

import (
	"sync"
)

// Token is a monotonically increasing counter. Every increment invalidates
// all data fetched under a smaller value.
type Token struct {
	mu    sync.Mutex
	value uint64
	subs  map[int]chan uint64
	next  int
}

// Value returns the current token.
func (t *Token) Value() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// Bump increments the token, wakes subscribers and returns the new value.
func (t *Token) Bump() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.value++
	for _, ch := range t.subs {
		// Latest wins: drop an undelivered older value.
		select {
		case <-ch:
		default:
		}
		ch <- t.value
	}
	return t.value
}

// Subscribe returns a channel that receives the token after every Bump.
// Slow readers only see the most recent value. The returned cancel closes the
// channel.
func (t *Token) Subscribe() (<-chan uint64, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subs == nil {
		t.subs = make(map[int]chan uint64)
	}
	id := t.next
	t.next++
	ch := make(chan uint64, 1)
	t.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.subs, id)
			close(ch)
		})
	}
}

// Latest keeps the newest accepted result of one kind of fetch.
type Latest[T any] struct {
	mu    sync.RWMutex
	token uint64
	value T
	set   bool
	err   error
	// cleared until the first outcome for token lands
	cleared bool
}

// Store records the outcome of a fetch dispatched under token. It reports
// whether the outcome was accepted. Outcomes older than the held one are
// discarded. A failed fetch keeps the previous value and records the error.
func (l *Latest[T]) Store(token uint64, v T, err error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.set && token < l.token {
		return false
	}
	if l.err == nil && l.set && !l.cleared && token == l.token && err != nil {
		// a success for this token already landed
		return false
	}
	l.token = token
	l.set = true
	l.cleared = false
	if err != nil {
		l.err = err
		return true
	}
	l.value = v
	l.err = nil
	return true
}

// Get returns the held value, the token it belongs to and the last error.
func (l *Latest[T]) Get() (T, uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.value, l.token, l.err
}

// Stale reports whether the held value comes from an older token than cur,
// or the last fetch failed.
func (l *Latest[T]) Stale(cur uint64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return !l.set || l.err != nil || l.token < cur
}

// Clear drops the held value and keeps rejecting outcomes older than token.
func (l *Latest[T]) Clear(token uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var zero T
	l.value = zero
	l.err = nil
	l.set = true
	l.cleared = true
	if token > l.token {
		l.token = token
	}
}
