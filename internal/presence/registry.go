// Package presence tracks ephemeral "who is typing" state. The registry is
// process-local on purpose: typing signals are high-churn and loss-tolerant,
// so a restart clearing them is an accepted trade-off, not a bug.
package presence

import (
	"sort"
	"sync"
	"time"
)

// DefaultTimeout is how long a heartbeat stays visible without a refresh.
const DefaultTimeout = 3 * time.Second

// Registry is an injectable, in-process typing registry. Entries for
// different conversations are independent; purge-then-read for a single
// conversation is atomic.
type Registry struct {
	timeout time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	convs map[int]*typists
}

type typists struct {
	mu     sync.Mutex
	byUser map[int]time.Time
}

// NewRegistry builds a registry with the given heartbeat timeout; a
// non-positive timeout falls back to DefaultTimeout.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Registry{
		timeout: timeout,
		now:     time.Now,
		convs:   make(map[int]*typists),
	}
}

// SetTyping refreshes the member's heartbeat when typing is true and removes
// the entry immediately when false.
func (r *Registry) SetTyping(conversationID int, userID int, typing bool) {
	if !typing {
		r.mu.RLock()
		conv, ok := r.convs[conversationID]
		r.mu.RUnlock()
		if !ok {
			return
		}
		conv.mu.Lock()
		delete(conv.byUser, userID)
		conv.mu.Unlock()
		return
	}

	r.mu.Lock()
	conv, ok := r.convs[conversationID]
	if !ok {
		conv = &typists{byUser: make(map[int]time.Time)}
		r.convs[conversationID] = conv
	}
	r.mu.Unlock()

	conv.mu.Lock()
	conv.byUser[userID] = r.now()
	conv.mu.Unlock()
}

// ActiveTypists purges expired heartbeats and returns the remaining member
// ids other than excluding, sorted for stable output.
func (r *Registry) ActiveTypists(conversationID int, excluding int) []int {
	r.mu.RLock()
	conv, ok := r.convs[conversationID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	cutoff := r.now().Add(-r.timeout)

	conv.mu.Lock()
	var active []int
	for userID, heartbeat := range conv.byUser {
		if heartbeat.Before(cutoff) {
			delete(conv.byUser, userID)
			continue
		}
		if userID != excluding {
			active = append(active, userID)
		}
	}
	empty := len(conv.byUser) == 0
	conv.mu.Unlock()

	if empty {
		r.dropIfEmpty(conversationID)
	}

	sort.Ints(active)
	return active
}

// dropIfEmpty removes the conversation's map when no heartbeats remain. The
// emptiness check repeats under both locks because a writer may have slipped
// in between.
func (r *Registry) dropIfEmpty(conversationID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[conversationID]
	if !ok {
		return
	}
	conv.mu.Lock()
	if len(conv.byUser) == 0 {
		delete(r.convs, conversationID)
	}
	conv.mu.Unlock()
}
