package rules

import (
	"fmt"
	"sort"
	"sync"
)

// TextMatcher is an external text predicate. Implementations must be pure:
// the same text always yields the same answer and nothing is written anywhere.
type TextMatcher interface {
	Match(text string) (bool, error)
}

// MatcherFunc adapts a function to TextMatcher
type MatcherFunc func(text string) (bool, error)

// Match implements TextMatcher
func (f MatcherFunc) Match(text string) (bool, error) {
	return f(text)
}

// MatcherRegistry holds named external matchers that rules can reference
type MatcherRegistry struct {
	mu       sync.RWMutex
	matchers map[string]TextMatcher
}

// NewMatcherRegistry creates an empty registry
func NewMatcherRegistry() *MatcherRegistry {
	return &MatcherRegistry{matchers: make(map[string]TextMatcher)}
}

// Register adds a matcher under name
func (r *MatcherRegistry) Register(name string, m TextMatcher) error {
	if name == "" || m == nil {
		return fmt.Errorf("matcher name and implementation are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.matchers[name]; exists {
		return fmt.Errorf("matcher %q already registered", name)
	}
	r.matchers[name] = m
	return nil
}

// Get looks up a matcher by name
func (r *MatcherRegistry) Get(name string) (TextMatcher, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.matchers[name]
	return m, ok
}

// Names returns the registered matcher names, sorted
func (r *MatcherRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.matchers))
	for n := range r.matchers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
