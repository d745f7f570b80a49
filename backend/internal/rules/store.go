package rules

import (
	"errors"
	"sort"
	"sync"
)

// DefaultOrganization is used when an organization has no rule set of its own
const DefaultOrganization = "default"

// ErrInvalidRuleSet is returned by Replace for a nil set or one without an
// organization
var ErrInvalidRuleSet = errors.New("rule set is nil or has no organization")

// Store maps organizations to their current rule set. Sets are replaced
// wholesale and never patched, so a decision can always be tied to the exact
// rule-set version that produced it.
type Store struct {
	mu   sync.RWMutex
	sets map[string]*RuleSet
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{sets: make(map[string]*RuleSet)}
}

// Replace installs set for its organization and returns the previous set, if any
func (s *Store) Replace(set *RuleSet) (*RuleSet, error) {
	if set == nil || set.Organization == "" {
		return nil, ErrInvalidRuleSet
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.sets[set.Organization]
	s.sets[set.Organization] = set
	return prev, nil
}

// Remove drops the rule set of org
func (s *Store) Remove(org string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sets[org]; !ok {
		return false
	}
	delete(s.sets, org)
	return true
}

// Get returns the rule set for org, falling back to the default organization
// and finally to an empty set.
func (s *Store) Get(org string) *RuleSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if set, ok := s.sets[org]; ok {
		return set
	}
	if set, ok := s.sets[DefaultOrganization]; ok {
		return set
	}
	return EmptyRuleSet(org)
}

// Organizations lists organizations with a rule set, sorted
func (s *Store) Organizations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	orgs := make([]string, 0, len(s.sets))
	for org := range s.sets {
		orgs = append(orgs, org)
	}
	sort.Strings(orgs)
	return orgs
}
