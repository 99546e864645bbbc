// Package config parses and validates all application configuration from
// environment variables using caarlos0/env/v11.
//
// Call [Load] once at startup; pass the resulting [Config] to subcommands.
// Serve exits if any field tagged "required" is missing.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration sourced from environment variables.
// Sensitive fields (secrets, tokens, API keys) must never be logged.
type Config struct {
	// ── Server ───────────────────────────────────────────────────────────────────
	ListenAddr             string `env:"LISTEN_ADDR"              envDefault:":8080"`
	AppEnv                 string `env:"APP_ENV"                  envDefault:"development"`
	ShutdownTimeoutSeconds int    `env:"SHUTDOWN_TIMEOUT_SECONDS" envDefault:"30"`

	// ── Persistence ──────────────────────────────────────────────────────────────
	// DataDir holds the append-only JSONL logs (webhook events + analyses).
	DataDir string `env:"DATA_DIR" envDefault:"data"`
	// AnalysisReplayLimit is how many trailing analysis log lines are replayed
	// at startup to rebuild latest/history state.
	AnalysisReplayLimit int `env:"ANALYSIS_REPLAY_LIMIT" envDefault:"200"`

	// ── Webhooks (inbound) ───────────────────────────────────────────────────────
	WebhookSecret string `env:"WEBHOOK_SECRET,required"`

	// ── GitHub ───────────────────────────────────────────────────────────────────
	GitHubToken   string `env:"GITHUB_TOKEN"`
	GitHubAPIBase string `env:"GITHUB_API_BASE" envDefault:"https://api.github.com"`
	DefaultBranch string `env:"DEFAULT_BRANCH"  envDefault:"main"`

	// ── OSV lookups ──────────────────────────────────────────────────────────────
	OSVTimeout         time.Duration `env:"OSV_TIMEOUT"          envDefault:"5s"`
	ScoreMaxConcurrent int           `env:"SCORE_MAX_CONCURRENT" envDefault:"5"`

	// ── Bounds ───────────────────────────────────────────────────────────────────
	MaxEvents         int `env:"MAX_EVENTS"           envDefault:"50"`
	MaxHistoryPerRepo int `env:"MAX_HISTORY_PER_REPO" envDefault:"20"`

	// ── AI explanation ───────────────────────────────────────────────────────────
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIModel   string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`

	// ── Alert delivery ───────────────────────────────────────────────────────────
	AlertWebhookURL    string `env:"ALERT_WEBHOOK_URL"`
	AlertWebhookSecret string `env:"ALERT_WEBHOOK_SECRET"`
	AlertEmailTo       string `env:"ALERT_EMAIL_TO"` // comma-separated

	// ── Email — SMTP ─────────────────────────────────────────────────────────────
	SMTPHost     string `env:"SMTP_HOST" envDefault:"localhost"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"1025"`
	SMTPFrom     string `env:"SMTP_FROM" envDefault:"riskops@localhost"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPTLS      bool   `env:"SMTP_TLS"  envDefault:"false"`

	// ── Rate limiting ────────────────────────────────────────────────────────────
	RateLimitEvictTTL time.Duration `env:"RATE_LIMIT_EVICT_TTL" envDefault:"15m"`

	// ── Logging ──────────────────────────────────────────────────────────────────
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load parses and returns Config from environment variables.
// Returns an error if any required field is missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the application is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}
