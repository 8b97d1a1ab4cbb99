package injection

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/promptgate/promptgate/internal/config"
	"github.com/promptgate/promptgate/internal/logger"
	"go.uber.org/zap"
)

// category holds the compiled patterns and severity weight for one
// class of injection attempt. A category counts at most once per prompt
// no matter how many of its patterns match.
type category struct {
	name     string
	severity float64
	patterns []*regexp.Regexp
}

// Detector classifies prompts for injection and jailbreak attempts
// using weighted pattern categories. Detection is purely heuristic;
// it holds no per-request state and is safe for concurrent use.
type Detector struct {
	categories []category
	keywords   []string
	config     config.InjectionConfig
	logger     *logger.Logger
}

// highRiskKeywords increase suspicion when present, whether or not a
// pattern category matched.
var highRiskKeywords = []string{
	"bypass", "override", "circumvent", "disable", "ignore", "jailbreak",
	"unrestricted", "unlimited", "unfiltered", "uncensored",
}

// New creates a prompt injection detector
func New(cfg config.InjectionConfig, log *logger.Logger) *Detector {
	d := &Detector{
		categories: defaultCategories(),
		keywords:   highRiskKeywords,
		config:     cfg,
		logger:     log,
	}

	log.Info("Prompt injection detector initialized",
		zap.Int("categories", len(d.categories)),
		zap.Float64("threshold", cfg.Threshold),
	)

	return d
}

// defaultCategories returns the pattern table. Order determines the
// order of category ids in DetectionResult.DetectedPatterns.
func defaultCategories() []category {
	return []category{
		{
			name:     CategoryIgnorePrevious,
			severity: 0.90,
			patterns: compileAll(
				`ignore\s+(previous|above|prior|all)\s+(instructions?|prompts?|commands?)`,
				`disregard\s+(previous|above|all)\s+(instructions?|prompts?)`,
				`forget\s+(previous|all)\s+(instructions?|context|prompts?)`,
			),
		},
		{
			name:     CategoryRolePlay,
			severity: 0.70,
			patterns: compileAll(
				`you\s+are\s+now\s+a`,
				`act\s+as\s+(a|an)\s+\w+`,
				`pretend\s+(you|to)\s+(are|be)`,
				`roleplay\s+as`,
				`simulate\s+(being|a)`,
			),
		},
		{
			name:     CategorySystemPromptLeak,
			severity: 0.95,
			patterns: compileAll(
				`(show|display|print|reveal|tell)\s+(me\s+)?(your|the)\s+(system|initial|original)\s+(prompt|instructions?)`,
				`what\s+(are|were)\s+your\s+(original|initial)\s+instructions?`,
				`repeat\s+your\s+(instructions?|prompt|rules)`,
			),
		},
		{
			name:     CategoryJailbreak,
			severity: 1.00,
			patterns: compileAll(
				`DAN\s+mode`,
				`developer\s+mode`,
				`sudo\s+mode`,
				`evil\s+(mode|bot)`,
				`jailbreak`,
				`unrestricted\s+mode`,
			),
		},
		{
			name:     CategoryDelimiterAttack,
			severity: 0.80,
			patterns: compileAll(
				`[{}<>]+\s*(system|user|assistant|instruction|prompt)`,
				"```\\s*(system|assistant|user)",
				`###\s*(system|instruction|new\s+prompt)`,
			),
		},
		{
			name:     CategoryCodeInjection,
			severity: 0.85,
			patterns: compileAll(
				`(execute|run|eval|exec)\s+(this|the\s+following)?\s*(code|script|command)`,
				"```(python|javascript|bash|sh|shell)",
			),
		},
		{
			name:     CategoryContextManipulation,
			severity: 0.75,
			patterns: compileAll(
				`new\s+(conversation|chat|session|context)`,
				`reset\s+(conversation|context|memory|history)`,
				`clear\s+(previous|all)\s+(messages?|context|history)`,
			),
		},
	}
}

func compileAll(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(`(?i)`+p))
	}
	return compiled
}

// Detect analyzes a prompt for injection attempts
func (d *Detector) Detect(prompt string) DetectionResult {
	var detected []string
	var severities []float64

	for _, cat := range d.categories {
		for _, re := range cat.patterns {
			if re.MatchString(prompt) {
				detected = append(detected, cat.name)
				severities = append(severities, cat.severity)
				break // count each category once
			}
		}
	}

	keywordCount := d.countKeywords(prompt)
	confidence := d.calculateConfidence(severities, keywordCount, len(prompt))
	riskLevel := d.determineRiskLevel(confidence, detected)

	result := DetectionResult{
		IsInjection:      confidence >= d.config.Threshold,
		Confidence:       confidence,
		DetectedPatterns: detected,
		RiskLevel:        riskLevel,
	}

	if len(detected) > 0 {
		d.logger.Debug("Injection patterns matched",
			zap.Strings("categories", detected),
			zap.Float64("confidence", confidence),
			zap.String("risk_level", string(riskLevel)),
		)
	}

	return result
}

// countKeywords counts high-risk keywords present in the prompt
func (d *Detector) countKeywords(prompt string) int {
	lower := strings.ToLower(prompt)
	count := 0
	for _, keyword := range d.keywords {
		if strings.Contains(lower, keyword) {
			count++
		}
	}
	return count
}

// calculateConfidence combines pattern severities, high-risk keyword
// count and prompt length into an overall score in [0, 1].
func (d *Detector) calculateConfidence(severities []float64, keywordCount, promptLength int) float64 {
	if len(severities) == 0 {
		// No patterns matched, score on keywords only
		return math.Min(float64(keywordCount)*0.2, 0.5)
	}

	var sum float64
	for _, s := range severities {
		sum += s
	}
	base := sum / float64(len(severities))

	boost := math.Min(float64(keywordCount)*d.config.KeywordWeight, d.config.KeywordBoostCap)

	// Very short prompts with multiple pattern matches are more suspicious
	lengthFactor := 1.0
	if promptLength < d.config.ShortPromptLength && len(severities) >= 2 {
		lengthFactor = d.config.ShortPromptFactor
	}

	confidence := math.Min((base+boost)*lengthFactor, 1.0)
	return math.Round(confidence*100) / 100
}

// determineRiskLevel maps confidence and matched categories to a tier.
// The tier is computed independently of the block threshold so a
// request can be tagged high risk yet still pass.
func (d *Detector) determineRiskLevel(confidence float64, detected []string) RiskLevel {
	for _, name := range detected {
		if name == CategoryJailbreak {
			return RiskCritical
		}
	}

	switch {
	case confidence >= 0.9:
		return RiskCritical
	case confidence >= 0.75:
		return RiskHigh
	case confidence >= 0.5:
		return RiskMedium
	default:
		return RiskLow
	}
}

// SafeResponse generates the user-facing message for a blocked prompt.
// It includes only the risk tier, never the matched pattern names or
// any fragment of the original prompt.
func (d *Detector) SafeResponse(result DetectionResult) string {
	return fmt.Sprintf(
		"Your request has been blocked due to potential security concerns. "+
			"Please rephrase your prompt without attempting to manipulate the system. "+
			"Risk Level: %s", strings.ToUpper(string(result.RiskLevel)))
}
