package matchers

import (
	"regexp"

	"github.com/safespeak/moderation-engine/backend/internal/rules"
)

// Built-in matcher names, usable as `matcher: <name>` in rule files
const (
	PII             = "pii"
	PIIEmail        = "pii_email"
	PIIPhone        = "pii_phone"
	PIISSN          = "pii_ssn"
	PIICreditCard   = "pii_credit_card"
	ViolentLanguage = "violent_language"
	SelfHarm        = "self_harm"
	Weapons         = "weapons"
	Explicit        = "explicit_language"
	Fraud           = "fraud"
)

var (
	emailRegex      = regexp.MustCompile(`(?i)[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phoneRegex      = regexp.MustCompile(`(\+\d{1,2}\s?)?1?\-?\.?\s?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}`)
	ssnRegex        = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	creditCardRegex = regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`)
)

var lexicons = map[string][]string{
	ViolentLanguage: {
		`(?i)\b(kill|murder|attack|destroy|harm)\b`,
		`(?i)\b(threat|threaten|bomb|terror)\b`,
	},
	SelfHarm: {
		`(?i)\b(suicide|self-harm|cut myself)\b`,
	},
	Weapons: {
		`(?i)\b(weapon|explosive|poison|gun|knife)\b`,
		`(?i)\bmake\s+a\s+(bomb|weapon|explosive)\b`,
	},
	Explicit: {
		`(?i)\b(fuck|shit|damn|ass|bitch)\b`,
	},
	Fraud: {
		`(?i)\b(steal|fraud|scam|phishing)\b`,
		`(?i)\b(hack|exploit|breach|crack)\s+(into|password|account|system)\b`,
	},
}

// Lexicon matches when any of its expressions occurs in the text
type Lexicon struct {
	patterns []*regexp.Regexp
}

// NewLexicon compiles expressions into a Lexicon
func NewLexicon(expressions ...string) (*Lexicon, error) {
	l := &Lexicon{patterns: make([]*regexp.Regexp, 0, len(expressions))}
	for _, e := range expressions {
		re, err := regexp.Compile(e)
		if err != nil {
			return nil, err
		}
		l.patterns = append(l.patterns, re)
	}
	return l, nil
}

// Match implements rules.TextMatcher
func (l *Lexicon) Match(text string) (bool, error) {
	for _, re := range l.patterns {
		if re.MatchString(text) {
			return true, nil
		}
	}
	return false, nil
}

// DetectPII returns the PII kinds present in text, in a fixed order
func DetectPII(text string) []string {
	var found []string
	if emailRegex.MatchString(text) {
		found = append(found, "email")
	}
	if phoneRegex.MatchString(text) {
		found = append(found, "phone")
	}
	if ssnRegex.MatchString(text) {
		found = append(found, "ssn")
	}
	if creditCardRegex.MatchString(text) {
		found = append(found, "credit_card")
	}
	return found
}

func regexMatcher(re *regexp.Regexp) rules.MatcherFunc {
	return func(text string) (bool, error) {
		return re.MatchString(text), nil
	}
}

// RegisterBuiltins adds every built-in matcher to reg
func RegisterBuiltins(reg *rules.MatcherRegistry) error {
	builtins := map[string]rules.TextMatcher{
		PII: rules.MatcherFunc(func(text string) (bool, error) {
			return len(DetectPII(text)) > 0, nil
		}),
		PIIEmail:      regexMatcher(emailRegex),
		PIIPhone:      regexMatcher(phoneRegex),
		PIISSN:        regexMatcher(ssnRegex),
		PIICreditCard: regexMatcher(creditCardRegex),
	}
	for name, expressions := range lexicons {
		lex, err := NewLexicon(expressions...)
		if err != nil {
			return err
		}
		builtins[name] = lex
	}

	for name, m := range builtins {
		if err := reg.Register(name, m); err != nil {
			return err
		}
	}
	return nil
}
