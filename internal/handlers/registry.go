package handlers

import (
	"context"
	"sync"
	"time"

	"finitefield.org/fashion-storefront/internal/checkout"
)

// SessionRegistry keeps one checkout machine per session and forgets sessions idle longer than
// the TTL.
type SessionRegistry struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*sessionEntry
}

type sessionEntry struct {
	machine  *checkout.Machine
	lastSeen time.Time
}

// NewSessionRegistry returns an empty registry.
func NewSessionRegistry(ttl time.Duration) *SessionRegistry {
	return &SessionRegistry{ttl: ttl, now: time.Now, entries: make(map[string]*sessionEntry)}
}

// Get returns the machine for id and refreshes its idle timer.
func (r *SessionRegistry) Get(id string) (*checkout.Machine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok || r.expired(entry, r.now()) {
		return nil, false
	}
	entry.lastSeen = r.now()
	return entry.machine, true
}

// GetOrCreate returns the machine for id, creating it with create when missing or expired.
func (r *SessionRegistry) GetOrCreate(id string, create func() (*checkout.Machine, error)) (*checkout.Machine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if entry, ok := r.entries[id]; ok && !r.expired(entry, now) {
		entry.lastSeen = now
		return entry.machine, nil
	}
	m, err := create()
	if err != nil {
		return nil, err
	}
	r.entries[id] = &sessionEntry{machine: m, lastSeen: now}
	return m, nil
}

// Prune drops idle sessions and returns how many were removed.
func (r *SessionRegistry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	removed := 0
	for id, entry := range r.entries {
		if r.expired(entry, now) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}

// Run prunes on every tick until ctx is done.
func (r *SessionRegistry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Prune()
		case <-ctx.Done():
			return
		}
	}
}

// Len returns the number of tracked sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *SessionRegistry) expired(entry *sessionEntry, now time.Time) bool {
	if r.ttl <= 0 || entry.machine.State() == checkout.StateSubmitting {
		return false
	}
	return now.Sub(entry.lastSeen) > r.ttl
}
