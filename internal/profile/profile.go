package profile

import (
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Profile is configuration to start the assistant engine.
type Profile struct {
	// Backend endpoints
	BackendBaseURL string // Base URL of the storefront backend (sessions, stream, suggest)
	AnalyticsURL   string // Analytics sink endpoint (empty disables remote delivery)

	// Session handling
	SessionTTL time.Duration // Cached session lifetime per user identity (default: 1h)

	// Streaming safety
	WatchdogStage1 time.Duration // Silence before filler text is injected (default: 7s)
	WatchdogStage2 time.Duration // Further silence before force-completion (default: 8s)

	// Turn throttling
	SubmitCooldown time.Duration // Duplicate-submission window (default: 500ms)
	SearchCooldown time.Duration // Anti-double-fire window for product searches (default: 800ms)

	// Recommendations
	MaxRecommended int // Maximum products recommended per turn (default: 6)

	// Analytics batching
	AnalyticsFlushEvery time.Duration // Flush interval for the analytics sink (default: 10s)
	AnalyticsBatchSize  int           // Maximum events per delivery batch (default: 20)
	AnalyticsFallback   string        // Path to the sqlite fallback store ("" disables persistence)

	Mode    string // "prod", "dev" or "demo"
	Version string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultDuration returns environment variable value as duration or default value.
func getEnvOrDefaultDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	if p.BackendBaseURL == "" {
		p.BackendBaseURL = getEnvOrDefault("VITRINE_BACKEND_URL", "http://localhost:28085")
	}
	p.AnalyticsURL = getEnvOrDefault("VITRINE_ANALYTICS_URL", "")

	p.SessionTTL = getEnvOrDefaultDuration("VITRINE_SESSION_TTL", time.Hour)
	p.WatchdogStage1 = getEnvOrDefaultDuration("VITRINE_WATCHDOG_STAGE1", 7*time.Second)
	p.WatchdogStage2 = getEnvOrDefaultDuration("VITRINE_WATCHDOG_STAGE2", 8*time.Second)
	p.SubmitCooldown = getEnvOrDefaultDuration("VITRINE_SUBMIT_COOLDOWN", 500*time.Millisecond)
	p.SearchCooldown = getEnvOrDefaultDuration("VITRINE_SEARCH_COOLDOWN", 800*time.Millisecond)
	p.MaxRecommended = getEnvOrDefaultInt("VITRINE_MAX_RECOMMENDED", 6)

	p.AnalyticsFlushEvery = getEnvOrDefaultDuration("VITRINE_ANALYTICS_FLUSH_EVERY", 10*time.Second)
	p.AnalyticsBatchSize = getEnvOrDefaultInt("VITRINE_ANALYTICS_BATCH_SIZE", 20)
	p.AnalyticsFallback = getEnvOrDefault("VITRINE_ANALYTICS_FALLBACK", "")
}

// Validate checks the profile for invalid combinations and normalizes it.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.BackendBaseURL == "" {
		return errors.New("backend base URL is required")
	}
	if _, err := url.Parse(p.BackendBaseURL); err != nil {
		return errors.Wrapf(err, "invalid backend base URL %q", p.BackendBaseURL)
	}

	if p.SessionTTL <= 0 {
		p.SessionTTL = time.Hour
	}
	if p.WatchdogStage1 <= 0 {
		p.WatchdogStage1 = 7 * time.Second
	}
	if p.WatchdogStage2 <= 0 {
		p.WatchdogStage2 = 8 * time.Second
	}
	if p.SubmitCooldown < 0 {
		p.SubmitCooldown = 500 * time.Millisecond
	}
	if p.SearchCooldown < 0 {
		p.SearchCooldown = 800 * time.Millisecond
	}
	if p.MaxRecommended <= 0 {
		p.MaxRecommended = 6
	}
	if p.AnalyticsBatchSize <= 0 {
		p.AnalyticsBatchSize = 20
	}
	if p.AnalyticsFlushEvery <= 0 {
		p.AnalyticsFlushEvery = 10 * time.Second
	}
	return nil
}
