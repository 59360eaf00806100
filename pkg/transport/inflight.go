package transport

import (
	"context"
	"sync"
)

// InFlightRegistry tracks in-flight message sends per conversation so a
// client can cancel the replies still being produced. Several sends of the
// same conversation may be registered at once (one running, others
// waiting for the conversation).
//
// All methods are safe for concurrent access.
type InFlightRegistry struct {
	mu      sync.Mutex
	next    uint64
	entries map[string]*sendSet
}

type sendSet struct {
	cancels map[uint64]context.CancelFunc
}

// NewInFlightRegistry creates a new empty registry.
func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{
		entries: make(map[string]*sendSet),
	}
}

// Register adds an in-flight send of a conversation. The returned function
// removes it without cancelling and must be called when the send ends.
func (r *InFlightRegistry) Register(conversationID string, cancel context.CancelFunc) (remove func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	key := r.next
	set, ok := r.entries[conversationID]
	if !ok {
		set = &sendSet{cancels: make(map[uint64]context.CancelFunc)}
		r.entries[conversationID] = set
	}
	set.cancels[key] = cancel

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(set.cancels, key)
		if len(set.cancels) == 0 && r.entries[conversationID] == set {
			delete(r.entries, conversationID)
		}
	}
}

// Cancel cancels every in-flight send of a conversation and returns how
// many were cancelled.
func (r *InFlightRegistry) Cancel(conversationID string) int {
	r.mu.Lock()
	set, ok := r.entries[conversationID]
	delete(r.entries, conversationID)
	var cancels []context.CancelFunc
	if ok {
		for _, c := range set.cancels {
			cancels = append(cancels, c)
		}
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

// Len returns the number of in-flight sends of a conversation.
func (r *InFlightRegistry) Len(conversationID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.entries[conversationID]; ok {
		return len(set.cancels)
	}
	return 0
}
