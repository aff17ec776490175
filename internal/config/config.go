// Package config loads the daemon's environment-driven configuration into
// one validated struct, following the teacher's internal/config shape:
// read -> apply defaults -> validate -> return from a single exported
// entrypoint.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// SafetyLevel gates how strict the SafetyValidator is about warnings.
type SafetyLevel string

const (
	SafetyStrict     SafetyLevel = "strict"
	SafetyModerate   SafetyLevel = "moderate"
	SafetyPermissive SafetyLevel = "permissive"
)

// Config is the daemon's full runtime configuration, assembled from the
// environment variables named in the external-interfaces section.
type Config struct {
	EventStoreURL    string `validate:"required,url"`
	RegistryURL      string `validate:"required,url"`
	OrchestratorURL  string `validate:"required,url"`
	OrchestratorToken string `validate:"required"`
	LLMAPIKey        string `validate:"required"`
	LLMModel         string `validate:"required"`
	ScheduleCron     string `validate:"required"`
	DatabaseURL      string `validate:"required"`
	RedisURL         string
	SafetyLevel      SafetyLevel `validate:"required,oneof=strict moderate permissive"`
	SafetyMinScore   int
	LogLevel         string `validate:"required,oneof=debug info warn error"`

	// Behavioural knobs named throughout §4, not individually required by
	// the spec's env var list but needed to run the pipeline.
	RetryCount            int
	RetryInitialBackoff    time.Duration
	RetryMaxBackoff        time.Duration
	EventFetchWindowDays   int `validate:"min=1,max=90"`
	ConcurrencyCap         int `validate:"min=1"`
	PipelineTimeout        time.Duration
	ManualTriggerTimeout   time.Duration
	TimeOfDayMinOccurrences int
	TimeOfDayMinConfidence  float64
	CoOccurrenceWindowMinutes int
	CoOccurrenceMinSupport    int
	CoOccurrenceMinConfidence float64
	SamplingThreshold         int
	SamplingRecentDays        int
	SamplingTargetSize        int
	SamplingSeed              int64
	AllowSafetyOverride       bool
	HTTPAddr                  string
	SlackWebhookURL           string
}

var validate = validator.New()

// Load reads the process environment, applies defaults, validates, and
// returns the assembled Config. The only exported entrypoint, matching the
// teacher's config.Load(path) shape (here the "path" is the environment).
func Load() (*Config, error) {
	cfg := &Config{
		EventStoreURL:     os.Getenv("EVENT_STORE_URL"),
		RegistryURL:       os.Getenv("REGISTRY_URL"),
		OrchestratorURL:   os.Getenv("ORCHESTRATOR_URL"),
		OrchestratorToken: os.Getenv("ORCHESTRATOR_TOKEN"),
		LLMAPIKey:         os.Getenv("LLM_API_KEY"),
		LLMModel:          getenvDefault("LLM_MODEL", "claude-3-5-haiku-latest"),
		ScheduleCron:      getenvDefault("SCHEDULE_CRON", "0 3 * * *"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		SafetyLevel:       SafetyLevel(getenvDefault("SAFETY_LEVEL", string(SafetyModerate))),
		LogLevel:          getenvDefault("LOG_LEVEL", "info"),
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		SlackWebhookURL:   os.Getenv("SLACK_WEBHOOK_URL"),

		RetryCount:                 getenvInt("RETRY_COUNT", 3),
		RetryInitialBackoff:        2 * time.Second,
		RetryMaxBackoff:            10 * time.Second,
		EventFetchWindowDays:       getenvInt("EVENT_FETCH_WINDOW_DAYS", 30),
		ConcurrencyCap:             getenvInt("CONCURRENCY_CAP", 4),
		PipelineTimeout:            getenvDuration("PIPELINE_TIMEOUT", 5*time.Minute),
		ManualTriggerTimeout:       getenvDuration("MANUAL_TRIGGER_TIMEOUT", 300*time.Second),
		TimeOfDayMinOccurrences:    5,
		TimeOfDayMinConfidence:     0.7,
		CoOccurrenceWindowMinutes:  5,
		CoOccurrenceMinSupport:     5,
		CoOccurrenceMinConfidence:  0.7,
		SamplingThreshold:          50000,
		SamplingRecentDays:         7,
		SamplingTargetSize:         20000,
		SamplingSeed:               42,
		AllowSafetyOverride:        getenvBool("ALLOW_SAFETY_OVERRIDE", false),
		SafetyMinScore:             getenvInt("SAFETY_MIN_SCORE", 0),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateConfig(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.SafetyLevel == SafetyStrict && cfg.AllowSafetyOverride {
		return fmt.Errorf("invalid configuration: ALLOW_SAFETY_OVERRIDE cannot be set under SAFETY_LEVEL=strict")
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes"
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
