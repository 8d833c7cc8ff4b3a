package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const devEnv = "development"

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `env:"APP_NAME" envDefault:"PricePin"`
	AppEnv         string        `env:"APP_ENV" envDefault:"development"`
	Port           string        `env:"PORT" envDefault:"8080"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat      string        `env:"LOG_FORMAT" envDefault:"json"`
	ProxyHeader    string        `env:"PROXY_HEADER"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	RedisURL       string        `env:"REDIS_URL"`
	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MigrateOnStart bool          `env:"MIGRATE_ON_START" envDefault:"true"`
	PinListLimit   int           `env:"PIN_LIST_LIMIT" envDefault:"1000"`

	RateLimit RateLimit
	Digest    Digest   `envPrefix:"DIGEST_"`
	Identity  Identity `envPrefix:"IDENTITY_"`
	Google    Google   `envPrefix:"GOOGLE_"`
	Session   Session  `envPrefix:"SESSION_"`
}

// Digest selects the secret digest algorithm and its work factor.
type Digest struct {
	Algorithm     string `env:"ALGORITHM" envDefault:"bcrypt"`
	BcryptCost    int    `env:"BCRYPT_COST" envDefault:"12"`
	Argon2Time    uint32 `env:"ARGON2_TIME" envDefault:"3"`
	Argon2MemKiB  uint32 `env:"ARGON2_MEMORY_KIB" envDefault:"65536"`
	Argon2Threads uint8  `env:"ARGON2_THREADS" envDefault:"2"`
}

// RateLimit holds the boundary throttling policies.
type RateLimit struct {
	PinLimit     int64         `env:"PIN_RATE_LIMIT" envDefault:"10"`
	PinWindow    time.Duration `env:"PIN_RATE_WINDOW" envDefault:"1h"`
	LoginLimit   int64         `env:"LOGIN_RATE_LIMIT" envDefault:"5"`
	LoginIPLimit int64         `env:"LOGIN_IP_RATE_LIMIT" envDefault:"20"`
	LoginWindow  time.Duration `env:"LOGIN_RATE_WINDOW" envDefault:"1m"`
	FailOpen     bool          `env:"RATE_LIMIT_FAIL_OPEN" envDefault:"true"`
	AuthPerSec   float64       `env:"AUTH_RATE_PER_SEC" envDefault:"2"`
	AuthBurst    int           `env:"AUTH_BURST" envDefault:"10"`
}

// Identity tunes account reconciliation.
type Identity struct {
	RelinkPolicy string `env:"RELINK_POLICY" envDefault:"relink"`
}

// Google carries the OAuth client registration.
type Google struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URL" envDefault:"http://localhost:8080/users/auth/google/callback"`
}

// Session configures the signed session token.
type Session struct {
	Secret string        `env:"SECRET"`
	TTL    time.Duration `env:"TTL" envDefault:"336h"`
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.PinListLimit <= 0 {
		return fmt.Errorf("PIN_LIST_LIMIT must be positive")
	}
	if c.RateLimit.PinLimit <= 0 || c.RateLimit.PinWindow <= 0 {
		return fmt.Errorf("PIN_RATE_LIMIT and PIN_RATE_WINDOW must be positive")
	}
	if c.RateLimit.LoginLimit <= 0 || c.RateLimit.LoginWindow <= 0 || c.RateLimit.LoginIPLimit <= 0 {
		return fmt.Errorf("LOGIN_RATE_LIMIT, LOGIN_IP_RATE_LIMIT and LOGIN_RATE_WINDOW must be positive")
	}

	if c.IsDevelopment() {
		if c.Session.Secret == "" {
			c.Session.Secret = "dev-session-secret"
		}
		return nil
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set")
	}
	if c.Session.Secret == "" {
		return fmt.Errorf("SESSION_SECRET must be set")
	}
	return nil
}

// IsDevelopment reports whether in-memory fallbacks are permitted.
func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, devEnv)
}

// GoogleEnabled reports whether the Google sign-in flow is configured.
func (c Config) GoogleEnabled() bool {
	return c.Google.ClientID != "" && c.Google.ClientSecret != ""
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
