package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the base server configuration.
type Config struct {
	Host          string `env:"HOST" envDefault:"0.0.0.0"`
	Port          string `env:"PORT" envDefault:"9093"`
	SQLiteDBPath  string `env:"SQLITE_DB_PATH" envDefault:"./data/playsched.db"`
	NodeEnv       string `env:"NODE_ENV" envDefault:"development"`
	AllowTestMode bool   `env:"ALLOW_TEST_MODE" envDefault:"false"`

	JWTSecret               string `env:"JWT_SECRET"`
	JWTAccessTokenExpirySec int    `env:"JWT_ACCESS_TOKEN_EXPIRY" envDefault:"3600"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	// RedisURL enables the shared trigger guard when set.
	RedisURL string `env:"REDIS_URL"`

	Scheduler SchedulerConfig `envPrefix:"SCHEDULER_"`
	Playback  PlaybackConfig  `envPrefix:"PLAYBACK_"`
	Spotify   SpotifyConfig   `envPrefix:"SPOTIFY_"`
}

// SchedulerConfig controls the poll loop.
type SchedulerConfig struct {
	IntervalSeconds int    `env:"INTERVAL_SECONDS" envDefault:"60"`
	DefaultTimezone string `env:"DEFAULT_TIMEZONE" envDefault:"UTC"`
	// StaleAfter caps how late an occurrence may still fire. Zero leaves
	// only the recurrence period as the bound.
	StaleAfter time.Duration `env:"STALE_AFTER" envDefault:"0s"`
}

// PlaybackConfig bounds calls made to the playback port.
type PlaybackConfig struct {
	Timeout          time.Duration `env:"TIMEOUT" envDefault:"15s"`
	BreakerThreshold int           `env:"BREAKER_THRESHOLD" envDefault:"5"`
	BreakerCooldown  time.Duration `env:"BREAKER_COOLDOWN" envDefault:"5m"`
}

// SpotifyConfig holds Spotify Web API credentials.
type SpotifyConfig struct {
	ClientID     string  `env:"CLIENT_ID"`
	ClientSecret string  `env:"CLIENT_SECRET"`
	RefreshToken string  `env:"REFRESH_TOKEN"`
	APIURL       string  `env:"API_URL" envDefault:"https://api.spotify.com/v1"`
	AccountsURL  string  `env:"ACCOUNTS_URL" envDefault:"https://accounts.spotify.com"`
	RatePerSec   float64 `env:"RATE_PER_SEC" envDefault:"5"`
}

// PollInterval returns the scheduler interval as a duration.
func (c SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Enabled reports whether enough credentials are present to talk to Spotify.
func (c SpotifyConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Load reads configuration from the environment, after applying any .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		var aggErr env.AggregateError
		if errors.As(err, &aggErr) && len(aggErr.Errors) > 0 {
			return Config{}, aggErr.Errors[0]
		}
		return Config{}, err
	}

	// The original deployment named the database file SCHEDULE_DB_FILE.
	if legacy, ok := lookupLegacyDBPath(); ok {
		cfg.SQLiteDBPath = legacy
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that cannot be expressed as env defaults.
func (c Config) Validate() error {
	if len(strings.TrimSpace(c.JWTSecret)) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if c.Scheduler.IntervalSeconds < 1 {
		return fmt.Errorf("SCHEDULER_INTERVAL_SECONDS must be at least 1")
	}
	if _, err := time.LoadLocation(c.Scheduler.DefaultTimezone); err != nil {
		return fmt.Errorf("SCHEDULER_DEFAULT_TIMEZONE %q: %w", c.Scheduler.DefaultTimezone, err)
	}
	if c.Playback.Timeout <= 0 {
		return fmt.Errorf("PLAYBACK_TIMEOUT must be positive")
	}
	return nil
}

func lookupLegacyDBPath() (string, bool) {
	if _, ok := os.LookupEnv("SQLITE_DB_PATH"); ok {
		return "", false
	}
	legacy := strings.TrimSpace(os.Getenv("SCHEDULE_DB_FILE"))
	return legacy, legacy != ""
}
