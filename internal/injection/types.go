package injection

// RiskLevel is an ordinal classification of how dangerous a flagged
// prompt is judged to be, independent of the binary block decision.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// DetectionResult is the verdict for a single prompt
type DetectionResult struct {
	IsInjection      bool      `json:"is_injection"`
	Confidence       float64   `json:"confidence"`
	DetectedPatterns []string  `json:"detected_patterns"`
	RiskLevel        RiskLevel `json:"risk_level"`
}

// Pattern category identifiers
const (
	CategoryIgnorePrevious      = "ignore_previous"
	CategoryRolePlay            = "role_play"
	CategorySystemPromptLeak    = "system_prompt_leak"
	CategoryJailbreak           = "jailbreak"
	CategoryDelimiterAttack     = "delimiter_attack"
	CategoryCodeInjection       = "code_injection"
	CategoryContextManipulation = "context_manipulation"
)
