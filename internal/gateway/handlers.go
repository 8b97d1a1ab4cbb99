package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/promptgate/promptgate/internal/backend"
	"github.com/promptgate/promptgate/internal/pipeline"
	"go.uber.org/zap"
)

// chatRequest is the inbound chat payload. MaxTokens and Temperature
// are pointers so absence is distinguishable from zero.
type chatRequest struct {
	Prompt      string   `json:"prompt"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Model       string   `json:"model,omitempty"`
}

type chatResponse struct {
	Response   string                 `json:"response"`
	Model      string                 `json:"model"`
	TokensUsed int                    `json:"tokens_used,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// handleChat runs a prompt through the admission pipeline and, when
// admitted, forwards it to the configured LLM backend.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r.Context())
	log := s.logger.WithRequestID(requestID)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body must be valid JSON")
		return
	}

	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Prompt must not be empty")
		return
	}

	identity, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	decision, err := s.pipeline.Admit(r.Context(), identity, req.Prompt)
	if err != nil {
		log.Error("Admission check failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
		return
	}

	if !decision.Allowed {
		s.writeBlocked(w, decision)
		return
	}

	opts := backend.Options{
		Model:       req.Model,
		Temperature: req.Temperature,
	}
	if req.MaxTokens != nil {
		opts.MaxTokens = *req.MaxTokens
	}

	result, err := s.backend.Generate(r.Context(), decision.Prompt, opts)
	if err != nil {
		s.metrics.RequestsTotal.WithLabelValues("error", s.config.Backend.Type).Inc()
		log.Error("Backend request failed", zap.Error(err))
		// Generic failure only; backend detail stays in the logs
		writeError(w, http.StatusBadGateway, "backend_unavailable", "LLM backend request failed")
		return
	}

	s.metrics.RequestsTotal.WithLabelValues("success", s.config.Backend.Type).Inc()
	log.Info("LLM request successful",
		zap.String("model", result.Model),
		zap.Int("tokens_used", result.TokensUsed),
	)

	writeJSON(w, http.StatusOK, chatResponse{
		Response:   s.pipeline.RedactResponse(result.Content),
		Model:      result.Model,
		TokensUsed: result.TokensUsed,
		Metadata: map[string]interface{}{
			"remaining_requests": decision.Remaining,
		},
	})
}

// authenticate resolves the caller identity used for rate limiting.
// With authentication required, the API key is the identity; otherwise
// the client IP stands in.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	if !s.config.Security.RequireAuth {
		return getClientIP(r), true
	}

	apiKey := r.Header.Get("X-API-Key")
	if apiKey == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "API key required. Provide X-API-Key header.")
		return "", false
	}

	if !s.apiKeys[apiKey] {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid API key")
		return "", false
	}

	return apiKey, true
}

// writeBlocked maps a block decision to its HTTP representation
func (s *Server) writeBlocked(w http.ResponseWriter, decision *pipeline.Decision) {
	switch decision.Reason {
	case pipeline.ReasonRateLimit:
		w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetTime, 10))
		writeError(w, http.StatusTooManyRequests, string(decision.Reason), decision.Message)
	case pipeline.ReasonInjection:
		w.Header().Set("X-Security-Risk", string(decision.RiskLevel))
		writeError(w, http.StatusBadRequest, string(decision.Reason), decision.Message)
	default:
		writeError(w, http.StatusBadRequest, string(decision.Reason), decision.Message)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := s.backend.HealthCheck(r.Context())

	status := "healthy"
	if !healthy {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          status,
		"backend":         s.config.Backend.Type,
		"backend_healthy": healthy,
		"version":         version,
		"timestamp":       time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":              "promptgate",
		"version":           version,
		"backend":           s.config.Backend.Type,
		"injection_enabled": s.config.Security.Injection.Enabled,
		"pii_enabled":       s.config.Security.PII.Enabled,
		"rate_limit_enabled": s.config.Security.RateLimit.Enabled,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		fmt.Fprintf(w, `{"error":"encoding failure"}`)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}
