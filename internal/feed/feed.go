// Package feed carries "session changed" signals from writers to standing subscriptions.
package feed

import (
	"context"
	"sync"
)

// Notifier signals that the documents of a session changed.
// Implementations: Local (single process), redis.Notifier (across API instances).
type Notifier interface {
	Publish(ctx context.Context, sessionID string) error
	// Listen returns a channel that receives at least one value after every Publish
	// for sessionID. Bursts are coalesced. stop is idempotent.
	Listen(sessionID string) (ch <-chan struct{}, stop func())
}

type listener struct {
	ch chan struct{}
}

// Local fans signals out to listeners in this process.
type Local struct {
	mu        sync.RWMutex
	listeners map[string]map[*listener]struct{}
}

func NewLocal() *Local {
	return &Local{listeners: make(map[string]map[*listener]struct{})}
}

func (l *Local) Publish(ctx context.Context, sessionID string) error {
	l.Signal(sessionID)
	return nil
}

// Signal wakes every listener of sessionID without blocking.
func (l *Local) Signal(sessionID string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for ln := range l.listeners[sessionID] {
		select {
		case ln.ch <- struct{}{}:
		default:
			// already has a pending signal
		}
	}
}

func (l *Local) Listen(sessionID string) (<-chan struct{}, func()) {
	ln := &listener{ch: make(chan struct{}, 1)}
	l.mu.Lock()
	if _, ok := l.listeners[sessionID]; !ok {
		l.listeners[sessionID] = make(map[*listener]struct{})
	}
	l.listeners[sessionID][ln] = struct{}{}
	l.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			set := l.listeners[sessionID]
			delete(set, ln)
			if len(set) == 0 {
				delete(l.listeners, sessionID)
			}
		})
	}
	return ln.ch, stop
}

// Listeners returns the number of open listeners for sessionID.
func (l *Local) Listeners(sessionID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.listeners[sessionID])
}
