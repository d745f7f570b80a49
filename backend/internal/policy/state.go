package policy

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the shard count used when NewStateStore gets zero
const DefaultShards = 64

// State is what the policy remembers about one continuity key
type State struct {
	Action    Action
	Label     string
	UpdatedAt time.Time
}

// StateStore keeps the last decision per continuity key. Keys are spread
// over independently locked shards: updates to one key are serialised while
// different keys rarely contend.
type StateStore struct {
	shards []*stateShard
	now    func() time.Time
}

type stateShard struct {
	mu     sync.Mutex
	states map[string]State
}

// StoreOption configures a StateStore
type StoreOption func(*StateStore)

// WithClock overrides the clock used to stamp states
func WithClock(now func() time.Time) StoreOption {
	return func(s *StateStore) {
		s.now = now
	}
}

// NewStateStore creates a store with the given number of shards
func NewStateStore(shards int, opts ...StoreOption) *StateStore {
	if shards <= 0 {
		shards = DefaultShards
	}
	s := &StateStore{
		shards: make([]*stateShard, shards),
		now:    time.Now,
	}
	for i := range s.shards {
		s.shards[i] = &stateShard{states: make(map[string]State)}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *StateStore) shard(key string) *stateShard {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// Get returns the state recorded for key
func (s *StateStore) Get(key string) (State, bool) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	st, ok := sh.states[key]
	return st, ok
}

// Update runs fn with the current state of key (nil if none) and stores what
// it returns. fn runs while the key's shard is locked and must not call back
// into the store.
func (s *StateStore) Update(key string, fn func(prev *State) State) State {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var prev *State
	if st, ok := sh.states[key]; ok {
		prev = &st
	}
	next := fn(prev)
	next.UpdatedAt = s.now()
	sh.states[key] = next
	return next
}

// Delete forgets key
func (s *StateStore) Delete(key string) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.states, key)
}

// Len returns the number of tracked keys
func (s *StateStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.states)
		sh.mu.Unlock()
	}
	return n
}

// Prune drops every key last updated before the cutoff and returns how many
// were removed. Conversations that went quiet stop influencing decisions.
func (s *StateStore) Prune(before time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, st := range sh.states {
			if st.UpdatedAt.Before(before) {
				delete(sh.states, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}
