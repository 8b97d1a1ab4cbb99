package pipeline

import (
	"context"
	"fmt"

	"github.com/promptgate/promptgate/internal/config"
	"github.com/promptgate/promptgate/internal/injection"
	"github.com/promptgate/promptgate/internal/logger"
	"github.com/promptgate/promptgate/internal/metrics"
	"github.com/promptgate/promptgate/internal/pii"
	"github.com/promptgate/promptgate/internal/ratelimit"
	"go.uber.org/zap"
)

// Reason is the typed cause of a block decision
type Reason string

const (
	ReasonRateLimit Reason = "rate_limit"
	ReasonTooLong   Reason = "too_long"
	ReasonInjection Reason = "injection"
)

// Decision is the terminal state of a request's admission check. When
// Allowed is true, Prompt carries the possibly redacted prompt text to
// forward; when false, Message carries the safe user-facing error.
type Decision struct {
	Allowed bool
	Reason  Reason
	Message string

	// Rate limit metadata, populated on every decision
	Remaining  int
	ResetTime  int64
	RetryAfter int

	// Injection metadata, populated on injection blocks
	RiskLevel  injection.RiskLevel
	Categories []string

	// Admitted prompt, redacted when the policy calls for it
	Prompt       string
	PIIRedaction *pii.RedactionResult
}

// Pipeline composes rate limiting, length validation, injection
// detection and PII redaction into a fixed admission order. Stages
// short-circuit on the first block; later stages never run once a
// block decision is reached.
type Pipeline struct {
	limiter  ratelimit.Limiter
	detector *injection.Detector
	redactor *pii.Detector
	metrics  *metrics.Metrics
	config   config.SecurityConfig
	logger   *logger.Logger
}

// New creates an admission pipeline from explicitly constructed
// collaborators. All dependencies are injected; the pipeline owns no
// global state.
func New(
	cfg config.SecurityConfig,
	limiter ratelimit.Limiter,
	detector *injection.Detector,
	redactor *pii.Detector,
	m *metrics.Metrics,
	log *logger.Logger,
) *Pipeline {
	return &Pipeline{
		limiter:  limiter,
		detector: detector,
		redactor: redactor,
		metrics:  m,
		config:   cfg,
		logger:   log,
	}
}

// Admit runs the admission checks for one request. The identity keys
// rate limiting; the prompt is validated, scored and optionally
// redacted before it may be forwarded.
func (p *Pipeline) Admit(ctx context.Context, identity, prompt string) (*Decision, error) {
	// 1. Rate limiting
	limit := ratelimit.Result{Allowed: true, Remaining: p.config.RateLimit.BurstSize}
	if p.config.RateLimit.Enabled {
		var err error
		limit, err = p.limiter.Check(ctx, identity)
		if err != nil {
			return nil, fmt.Errorf("rate limit check failed: %w", err)
		}
	}

	if !limit.Allowed {
		p.metrics.RequestsBlocked.WithLabelValues(string(ReasonRateLimit)).Inc()
		p.logger.Warn("Rate limit exceeded",
			zap.String("identity", identity),
			zap.Int("retry_after", limit.RetryAfter),
		)

		return &Decision{
			Reason:     ReasonRateLimit,
			Message:    fmt.Sprintf("Rate limit exceeded. Retry after %d seconds.", limit.RetryAfter),
			Remaining:  limit.Remaining,
			ResetTime:  limit.ResetTime,
			RetryAfter: limit.RetryAfter,
		}, nil
	}

	// 2. Length validation
	if len(prompt) > p.config.MaxPromptLength {
		p.metrics.RequestsBlocked.WithLabelValues(string(ReasonTooLong)).Inc()

		return &Decision{
			Reason:    ReasonTooLong,
			Message:   fmt.Sprintf("Prompt exceeds maximum length of %d characters", p.config.MaxPromptLength),
			Remaining: limit.Remaining,
			ResetTime: limit.ResetTime,
		}, nil
	}

	// 3. Prompt injection detection
	if p.config.Injection.Enabled {
		result := p.detector.Detect(prompt)

		if result.IsInjection {
			p.metrics.RequestsBlocked.WithLabelValues(string(ReasonInjection)).Inc()
			p.metrics.InjectionDetected.WithLabelValues(string(result.RiskLevel)).Inc()

			// Category names and tier only, never prompt text
			p.logger.Warn("Prompt injection detected",
				zap.String("identity", identity),
				zap.Float64("confidence", result.Confidence),
				zap.String("risk_level", string(result.RiskLevel)),
				zap.Strings("patterns", result.DetectedPatterns),
			)

			return &Decision{
				Reason:     ReasonInjection,
				Message:    p.detector.SafeResponse(result),
				Remaining:  limit.Remaining,
				ResetTime:  limit.ResetTime,
				RiskLevel:  result.RiskLevel,
				Categories: result.DetectedPatterns,
			}, nil
		}
	}

	// 4. PII redaction of the prompt, when the policy calls for it
	decision := &Decision{
		Allowed:   true,
		Remaining: limit.Remaining,
		ResetTime: limit.ResetTime,
		Prompt:    prompt,
	}

	if p.config.PII.Enabled && p.config.PII.RedactRequests {
		redaction := p.redactor.Redact(prompt)
		if redaction.Detection.Detected {
			p.countPII(redaction.Detection)
			p.logger.Info("PII redacted from prompt",
				zap.String("identity", identity),
				zap.Int("total_count", redaction.Detection.TotalCount),
				zap.Any("types_found", redaction.Detection.TypesFound),
			)
		}
		decision.Prompt = redaction.RedactedText
		decision.PIIRedaction = &redaction
	}

	return decision, nil
}

// RedactResponse applies PII redaction to backend-generated text when
// the response policy calls for it.
func (p *Pipeline) RedactResponse(text string) string {
	if !p.config.PII.Enabled || !p.config.PII.RedactResponses {
		return text
	}

	redaction := p.redactor.Redact(text)
	if redaction.Detection.Detected {
		p.countPII(redaction.Detection)
		p.logger.Info("PII redacted from response",
			zap.Int("total_count", redaction.Detection.TotalCount),
			zap.Any("types_found", redaction.Detection.TypesFound),
		)
	}

	return redaction.RedactedText
}

func (p *Pipeline) countPII(detection pii.DetectionResult) {
	for _, m := range detection.Matches {
		p.metrics.PIIDetected.WithLabelValues(string(m.Type)).Inc()
	}
}
