package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Security SecurityConfig `yaml:"security" mapstructure:"security"`
	Backend  BackendConfig  `yaml:"backend" mapstructure:"backend"`
	Redis    RedisConfig    `yaml:"redis" mapstructure:"redis"`
	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" mapstructure:"metrics"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// SecurityConfig contains the admission pipeline configuration
type SecurityConfig struct {
	RateLimit       RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	Injection       InjectionConfig `yaml:"injection" mapstructure:"injection"`
	PII             PIIConfig       `yaml:"pii" mapstructure:"pii"`
	MaxPromptLength int             `yaml:"max_prompt_length" mapstructure:"max_prompt_length"`
	RequireAuth     bool            `yaml:"require_auth" mapstructure:"require_auth"`
	APIKeys         []string        `yaml:"api_keys" mapstructure:"api_keys"`
}

// RateLimitConfig contains token bucket rate limiter configuration
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size" mapstructure:"burst_size"`
	StoreTimeout      time.Duration `yaml:"store_timeout" mapstructure:"store_timeout"`
}

// InjectionConfig contains prompt injection detector configuration.
//
// KeywordWeight, KeywordBoostCap, ShortPromptFactor and ShortPromptLength
// are empirically chosen scoring constants. They are exposed here so they
// can be calibrated per deployment instead of re-derived in code.
type InjectionConfig struct {
	Enabled           bool    `yaml:"enabled" mapstructure:"enabled"`
	Threshold         float64 `yaml:"threshold" mapstructure:"threshold"`
	KeywordWeight     float64 `yaml:"keyword_weight" mapstructure:"keyword_weight"`
	KeywordBoostCap   float64 `yaml:"keyword_boost_cap" mapstructure:"keyword_boost_cap"`
	ShortPromptFactor float64 `yaml:"short_prompt_factor" mapstructure:"short_prompt_factor"`
	ShortPromptLength int     `yaml:"short_prompt_length" mapstructure:"short_prompt_length"`
}

// PIIConfig contains PII detection and redaction configuration
type PIIConfig struct {
	Enabled         bool    `yaml:"enabled" mapstructure:"enabled"`
	Threshold       float64 `yaml:"threshold" mapstructure:"threshold"`
	RedactRequests  bool    `yaml:"redact_requests" mapstructure:"redact_requests"`
	RedactResponses bool    `yaml:"redact_responses" mapstructure:"redact_responses"`
	DetectEmail     bool    `yaml:"detect_email" mapstructure:"detect_email"`
	DetectPhone     bool    `yaml:"detect_phone" mapstructure:"detect_phone"`
	DetectSSN       bool    `yaml:"detect_ssn" mapstructure:"detect_ssn"`
	DetectCard      bool    `yaml:"detect_credit_card" mapstructure:"detect_credit_card"`
	DetectAPIKey    bool    `yaml:"detect_api_key" mapstructure:"detect_api_key"`
}

// BackendConfig contains LLM backend configuration
type BackendConfig struct {
	Type            string        `yaml:"type" mapstructure:"type"` // ollama, openai, or anthropic
	Model           string        `yaml:"model" mapstructure:"model"`
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxTokens       int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature     float64       `yaml:"temperature" mapstructure:"temperature"`
	OllamaBaseURL   string        `yaml:"ollama_base_url" mapstructure:"ollama_base_url"`
	OpenAIAPIKey    string        `yaml:"openai_api_key" mapstructure:"openai_api_key"`
	AnthropicAPIKey string        `yaml:"anthropic_api_key" mapstructure:"anthropic_api_key"`
}

// RedisConfig contains rate limit store configuration
type RedisConfig struct {
	URL            string `yaml:"url" mapstructure:"url"`
	MaxConnections int    `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int    `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
		Path     string `yaml:"path" mapstructure:"path"`
		MaxSize  int    `yaml:"max_size" mapstructure:"max_size"`
		MaxAge   int    `yaml:"max_age" mapstructure:"max_age"`
		Compress bool   `yaml:"compress" mapstructure:"compress"`
	} `yaml:"file" mapstructure:"file"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 60,
				BurstSize:         10,
				StoreTimeout:      2 * time.Second,
			},
			Injection: InjectionConfig{
				Enabled:           true,
				Threshold:         0.8,
				KeywordWeight:     0.05,
				KeywordBoostCap:   0.15,
				ShortPromptFactor: 1.1,
				ShortPromptLength: 100,
			},
			PII: PIIConfig{
				Enabled:         true,
				Threshold:       0.75,
				RedactRequests:  true,
				RedactResponses: true,
				DetectEmail:     true,
				DetectPhone:     true,
				DetectSSN:       true,
				DetectCard:      true,
				DetectAPIKey:    true,
			},
			MaxPromptLength: 4000,
			RequireAuth:     false,
		},
		Backend: BackendConfig{
			Type:          "ollama",
			Model:         "llama2",
			Timeout:       30 * time.Second,
			MaxTokens:     1000,
			Temperature:   0.7,
			OllamaBaseURL: "http://localhost:11434",
		},
		Redis: RedisConfig{
			URL:            "redis://localhost:6379/0",
			MaxConnections: 10,
			MinIdleConns:   2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}

	cfg.Logging.File.Path = "logs/promptgate.log"
	cfg.Logging.File.MaxSize = 100 // MB
	cfg.Logging.File.MaxAge = 30   // days
	cfg.Logging.File.Compress = true

	return cfg
}
