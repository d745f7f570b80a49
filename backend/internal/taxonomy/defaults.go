package taxonomy

// DefaultVersion stamps decisions made with the built-in taxonomy
const DefaultVersion = "builtin-1"

// Canonical category identifiers
const (
	Toxicity          = "toxicity"
	HateSpeech        = "hate_speech"
	Harassment        = "harassment"
	Threat            = "threat"
	Profanity         = "profanity"
	UnsafeInstruction = "unsafe_instruction"
	AbusiveTone       = "abusive_tone"
)

// DefaultCategories returns the canonical moderation categories. None of them
// carry control points, so they all calibrate with the identity function.
func DefaultCategories() []Category {
	return []Category{
		{ID: Toxicity, Description: "Rude, disrespectful or unreasonable language", Severity: SeverityHigh, DefaultThreshold: 0.7},
		{ID: HateSpeech, Description: "Attacks on protected groups (religion, caste, ethnicity, gender)", Severity: SeverityCritical, DefaultThreshold: 0.5},
		{ID: Harassment, Description: "Bullying or targeted abuse of an individual", Severity: SeverityHigh, DefaultThreshold: 0.6},
		{ID: Threat, Description: "Intent to inflict harm", Severity: SeverityCritical, DefaultThreshold: 0.4},
		{ID: Profanity, Description: "Explicit or obscene language", Severity: SeverityLow, DefaultThreshold: 0.8},
		{ID: UnsafeInstruction, Description: "Instructions enabling dangerous or illegal activity", Severity: SeverityHigh, DefaultThreshold: 0.5},
		{ID: AbusiveTone, Description: "Aggressive or demeaning tone independent of wording", Severity: SeverityMedium, DefaultThreshold: 0.7},
	}
}

// Default returns a sealed registry holding DefaultCategories
func Default() *Registry {
	return NewRegistry(DefaultVersion).MustRegister(DefaultCategories()...).Seal()
}
