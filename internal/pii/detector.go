package pii

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/promptgate/promptgate/internal/config"
	"github.com/promptgate/promptgate/internal/logger"
	"go.uber.org/zap"
)

// rule is a single detection pattern with a fixed confidence and an
// optional secondary validity check that discards structural false
// positives.
type rule struct {
	piiType    Type
	pattern    *regexp.Regexp
	confidence float64
	validate   func(string) bool
}

// Detector scans text for typed sensitive-data spans and produces
// redacted copies with stable placeholder substitution. It is purely
// functional over strings and safe for concurrent use.
type Detector struct {
	rules  []rule
	config config.PIIConfig
	logger *logger.Logger
}

var (
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

	// Structural 3-2-4 match; prefix validity is checked separately
	// because RE2 has no negative lookahead.
	ssnPattern = regexp.MustCompile(`\b(\d{3})[-\s]?(\d{2})[-\s]?(\d{4})\b`)

	// Major card formats (Visa, MC, Amex, Discover); candidates are
	// validated with the Luhn checksum before they count.
	cardPattern = regexp.MustCompile(`\b(?:4[0-9]{12}(?:[0-9]{3})?|5[1-5][0-9]{14}|3[47][0-9]{13}|6(?:011|5[0-9]{2})[0-9]{12})\b`)

	apiKeyPattern = regexp.MustCompile(`(?i)(?:api[_-]?key|apikey|access[_-]?token|secret[_-]?key|private[_-]?key)[\s:=]+['"]?[A-Za-z0-9_\-]{20,}['"]?`)

	// Matches: (555) 123-4567, 555-123-4567, +1-555-123-4567
	phonePattern = regexp.MustCompile(`(?:\+?1[-.\s]?)?(?:\([0-9]{3}\)|[0-9]{3})[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}\b`)
)

// New creates a PII detector. The scan order puts more specific
// patterns before general ones to reduce false positives from greedy
// general patterns.
func New(cfg config.PIIConfig, log *logger.Logger) *Detector {
	var rules []rule

	if cfg.DetectEmail {
		rules = append(rules, rule{TypeEmail, emailPattern, 0.95, nil})
	}
	if cfg.DetectSSN {
		rules = append(rules, rule{TypeSSN, ssnPattern, 0.85, validSSN})
	}
	if cfg.DetectCard {
		rules = append(rules, rule{TypeCreditCard, cardPattern, 0.95, luhnValid})
	}
	if cfg.DetectAPIKey {
		rules = append(rules, rule{TypeAPIKey, apiKeyPattern, 0.75, nil})
	}
	if cfg.DetectPhone {
		rules = append(rules, rule{TypePhone, phonePattern, 0.90, nil})
	}

	d := &Detector{
		rules:  rules,
		config: cfg,
		logger: log,
	}

	log.Info("PII detector initialized",
		zap.Int("rules", len(rules)),
		zap.Float64("threshold", cfg.Threshold),
	)

	return d
}

// Detect scans text for PII without modifying it
func (d *Detector) Detect(text string) DetectionResult {
	if !d.config.Enabled || strings.TrimSpace(text) == "" {
		return DetectionResult{Matches: []Match{}, TypesFound: []Type{}}
	}

	var matches []Match

	for _, r := range d.rules {
		// Coarse category-level filtering, not per-match
		if r.confidence < d.config.Threshold {
			continue
		}

		for _, loc := range r.pattern.FindAllStringIndex(text, -1) {
			if r.validate != nil && !r.validate(text[loc[0]:loc[1]]) {
				continue // structural match, failed validity check
			}

			matches = append(matches, Match{
				Type:       r.piiType,
				Start:      loc[0],
				End:        loc[1],
				Confidence: r.confidence,
			})
		}
	}

	sortByStart(matches)
	matches = resolveOverlaps(matches)

	typesFound := make([]Type, 0, len(matches))
	seen := make(map[Type]bool)
	for _, m := range matches {
		if !seen[m.Type] {
			seen[m.Type] = true
			typesFound = append(typesFound, m.Type)
		}
	}

	return DetectionResult{
		Detected:   len(matches) > 0,
		Matches:    matches,
		TypesFound: typesFound,
		TotalCount: len(matches),
	}
}

// Redact detects PII and replaces each span with a placeholder
func (d *Detector) Redact(text string) RedactionResult {
	detection := d.Detect(text)

	if !detection.Detected {
		return RedactionResult{
			OriginalLength: len(text),
			RedactedText:   text,
			Detection:      detection,
			RedactionMap:   map[string]string{},
		}
	}

	redacted := text
	redactionMap := make(map[string]string, len(detection.Matches))
	counters := make(map[Type]int)
	offset := 0 // earlier splices change later positions

	for i := range detection.Matches {
		m := &detection.Matches[i]

		counters[m.Type]++
		placeholder := fmt.Sprintf("[%s_%d]", strings.ToUpper(string(m.Type)), counters[m.Type])
		m.Placeholder = placeholder

		start := m.Start + offset
		end := m.End + offset

		// Only the masked marker is recorded, never the matched text
		redactionMap[placeholder] = RedactedValue

		redacted = redacted[:start] + placeholder + redacted[end:]
		offset += len(placeholder) - (m.End - m.Start)
	}

	d.logger.Debug("PII redacted",
		zap.Int("total_count", detection.TotalCount),
		zap.Any("types_found", detection.TypesFound),
	)

	return RedactionResult{
		OriginalLength: len(text),
		RedactedText:   redacted,
		Detection:      detection,
		RedactionMap:   redactionMap,
	}
}

// sortByStart sorts matches by start offset, stable for equal starts
func sortByStart(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Start < matches[j].Start
	})
}

// resolveOverlaps scans position-sorted matches keeping an accepted
// non-overlapping set. An overlapping newcomer replaces an accepted
// match only when its confidence is strictly higher; equal-confidence
// competitors lose to the match accepted first.
func resolveOverlaps(matches []Match) []Match {
	if len(matches) == 0 {
		return matches
	}

	accepted := make([]Match, 0, len(matches))
	for _, m := range matches {
		overlaps := false
		for i, a := range accepted {
			if m.Start < a.End && m.End > a.Start {
				if m.Confidence > a.Confidence {
					accepted = append(accepted[:i], accepted[i+1:]...)
				} else {
					overlaps = true
				}
				break
			}
		}
		if !overlaps {
			accepted = append(accepted, m)
		}
	}

	return accepted
}

// luhnValid reports whether a card number passes the Luhn checksum
func luhnValid(cardNumber string) bool {
	digits := strings.NewReplacer(" ", "", "-", "").Replace(cardNumber)

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		n := int(c - '0')
		if double {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		double = !double
	}

	return sum%10 == 0
}

// validSSN rejects structurally invalid SSN prefixes: 000, 666 or 9xx
// in the area, 00 in the group, 0000 in the serial.
func validSSN(ssn string) bool {
	groups := ssnPattern.FindStringSubmatch(ssn)
	if len(groups) != 4 {
		return false
	}

	area, group, serial := groups[1], groups[2], groups[3]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	if group == "00" {
		return false
	}
	if serial == "0000" {
		return false
	}

	return true
}
