package pii

// Type identifies a category of sensitive data
type Type string

const (
	TypeEmail      Type = "email"
	TypePhone      Type = "phone"
	TypeSSN        Type = "ssn"
	TypeCreditCard Type = "credit_card"
	TypeAPIKey     Type = "api_key"
)

// RedactedValue is the only value ever stored in a redaction map.
// Literal matched text must never appear there.
const RedactedValue = "***REDACTED***"

// Match represents a single PII span in the scanned text.
// Invariant: 0 <= Start < End <= len(text).
type Match struct {
	Type        Type    `json:"pii_type"`
	Start       int     `json:"start_pos"`
	End         int     `json:"end_pos"`
	Placeholder string  `json:"placeholder"` // empty until redaction assigns it
	Confidence  float64 `json:"confidence"`
}

// DetectionResult is the outcome of a detection scan. Matches are
// sorted by start position and non-overlapping.
type DetectionResult struct {
	Detected   bool    `json:"pii_detected"`
	Matches    []Match `json:"matches"`
	TypesFound []Type  `json:"pii_types_found"`
	TotalCount int     `json:"total_count"`
}

// RedactionResult is the outcome of a redaction operation. The
// redaction map records placeholder names only, never matched text.
type RedactionResult struct {
	OriginalLength int               `json:"original_length"`
	RedactedText   string            `json:"redacted_text"`
	Detection      DetectionResult   `json:"detection_result"`
	RedactionMap   map[string]string `json:"redaction_map"`
}
