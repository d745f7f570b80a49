package rules

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/safespeak/moderation-engine/backend/internal/fusion"
	"github.com/safespeak/moderation-engine/backend/internal/taxonomy"
)

// OverallCategory lets a score predicate test the fused overall risk
const OverallCategory = "overall"

// Predicate kinds
const (
	KindScore   = "score"
	KindPhrase  = "phrase"
	KindPattern = "pattern"
	KindMatcher = "matcher"
	KindCedar   = "cedar"
	KindCEL     = "cel"
	KindAll     = "all"
	KindAny     = "any"
)

// Input is everything a predicate may look at
type Input struct {
	Organization string
	Fusion       fusion.Result
	Text         string
	Registry     *taxonomy.Registry
}

// probability returns the calibrated score of category, 0 when absent
func (in Input) probability(category string) float64 {
	if category == OverallCategory {
		return in.Fusion.Overall
	}
	if s, ok := in.Fusion.Score(category); ok {
		return s.Probability
	}
	return 0
}

// Predicate is the closed set of rule conditions. Every implementation is
// fully validated when the rule is compiled.
type Predicate interface {
	Kind() string
	Matches(in Input) (bool, error)
}

// Comparator for score predicates
type Comparator string

const (
	OpGreater      Comparator = "gt"
	OpGreaterEqual Comparator = "gte"
	OpLess         Comparator = "lt"
	OpLessEqual    Comparator = "lte"
	OpEqual        Comparator = "eq"
)

// ParseComparator accepts the short names and their symbolic forms
func ParseComparator(s string) (Comparator, error) {
	switch strings.TrimSpace(s) {
	case "gt", ">":
		return OpGreater, nil
	case "gte", ">=":
		return OpGreaterEqual, nil
	case "lt", "<":
		return OpLess, nil
	case "lte", "<=":
		return OpLessEqual, nil
	case "eq", "==", "=":
		return OpEqual, nil
	}
	return "", fmt.Errorf("unknown comparator %q", s)
}

func (c Comparator) compare(a, b float64) bool {
	switch c {
	case OpGreater:
		return a > b
	case OpGreaterEqual:
		return a >= b
	case OpLess:
		return a < b
	case OpLessEqual:
		return a <= b
	case OpEqual:
		return a == b
	}
	return false
}

// ScorePredicate compares a category's calibrated probability with a constant
type ScorePredicate struct {
	Category string
	Op       Comparator
	Value    float64
}

func (p *ScorePredicate) Kind() string { return KindScore }

func (p *ScorePredicate) Matches(in Input) (bool, error) {
	return p.Op.compare(in.probability(p.Category), p.Value), nil
}

// PhrasePredicate matches literal phrases, case-insensitively and on word
// boundaries. Used for allow and deny lists.
type PhrasePredicate struct {
	Phrases []string
	re      *regexp.Regexp
}

func newPhrasePredicate(phrases []string) (*PhrasePredicate, error) {
	parts := make([]string, 0, len(phrases))
	kept := make([]string, 0, len(phrases))
	for _, ph := range phrases {
		words := strings.Fields(ph)
		if len(words) == 0 {
			continue
		}
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		expr := strings.Join(words, `\s+`)
		if isWordRune(firstRune(ph)) {
			expr = `\b` + expr
		}
		if isWordRune(lastRune(ph)) {
			expr += `\b`
		}
		parts = append(parts, expr)
		kept = append(kept, strings.TrimSpace(ph))
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("phrase list is empty")
	}

	re, err := regexp.Compile(`(?i)(?:` + strings.Join(parts, "|") + `)`)
	if err != nil {
		return nil, err
	}
	return &PhrasePredicate{Phrases: kept, re: re}, nil
}

func (p *PhrasePredicate) Kind() string { return KindPhrase }

func (p *PhrasePredicate) Matches(in Input) (bool, error) {
	if in.Text == "" {
		return false, nil
	}
	return p.re.MatchString(in.Text), nil
}

// PatternPredicate matches if any regular expression matches the text
type PatternPredicate struct {
	Patterns []string
	compiled []*regexp.Regexp
}

func newPatternPredicate(patterns []string) (*PatternPredicate, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("pattern list is empty")
	}
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %d: %w", i, err)
		}
		compiled[i] = re
	}
	return &PatternPredicate{Patterns: patterns, compiled: compiled}, nil
}

func (p *PatternPredicate) Kind() string { return KindPattern }

func (p *PatternPredicate) Matches(in Input) (bool, error) {
	if in.Text == "" {
		return false, nil
	}
	for _, re := range p.compiled {
		if re.MatchString(in.Text) {
			return true, nil
		}
	}
	return false, nil
}

// MatcherPredicate delegates to a named external TextMatcher
type MatcherPredicate struct {
	Name    string
	matcher TextMatcher
}

func (p *MatcherPredicate) Kind() string { return KindMatcher }

// Matches recovers from a panicking matcher and reports it as an error
func (p *MatcherPredicate) Matches(in Input) (matched bool, err error) {
	if in.Text == "" {
		return false, nil
	}
	defer func() {
		if r := recover(); r != nil {
			matched = false
			err = fmt.Errorf("matcher %q panicked: %v", p.Name, r)
		}
	}()
	return p.matcher.Match(in.Text)
}

// AllPredicate matches when every child matches
type AllPredicate struct {
	Children []Predicate
}

func (p *AllPredicate) Kind() string { return KindAll }

func (p *AllPredicate) Matches(in Input) (bool, error) {
	for _, c := range p.Children {
		ok, err := c.Matches(in)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// AnyPredicate matches when at least one child matches
type AnyPredicate struct {
	Children []Predicate
}

func (p *AnyPredicate) Kind() string { return KindAny }

func (p *AnyPredicate) Matches(in Input) (bool, error) {
	for _, c := range p.Children {
		ok, err := c.Matches(in)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func firstRune(s string) rune {
	r, _ := utf8.DecodeRuneInString(strings.TrimSpace(s))
	return r
}

func lastRune(s string) rune {
	r, _ := utf8.DecodeLastRuneInString(strings.TrimSpace(s))
	return r
}

// isWordRune mirrors the ASCII-only \w class used by regexp's \b
func isWordRune(r rune) bool {
	return r < unicode.MaxASCII && (r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r))
}
