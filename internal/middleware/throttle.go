package middleware

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/pricepin/pricepin/internal/ratelimit"
)

const throttledMessage = "Too many submissions in a short time. Please wait a moment and try again."

// ThrottleRecorder observes throttling decisions.
type ThrottleRecorder interface {
	RateLimited(policy string)
	RateLimitStoreError(policy string)
}

// KeyFunc extracts the client key a policy counts against.
type KeyFunc func(c *fiber.Ctx) string

// ClientIP keys by the resolved client address.
func ClientIP(c *fiber.Ctx) string {
	return c.IP()
}

// EmailOrIP keys by the submitted email, falling back to the client address.
func EmailOrIP(c *fiber.Ctx) string {
	var req struct {
		Email string `json:"email" form:"email"`
	}
	_ = c.BodyParser(&req)
	if email := strings.ToLower(strings.TrimSpace(req.Email)); email != "" {
		return "email:" + email
	}
	return "ip:" + c.IP()
}

// ThrottleConfig configures Throttle.
type ThrottleConfig struct {
	Limiter *ratelimit.Limiter
	Policy  ratelimit.Policy
	Key     KeyFunc
	// FailOpen admits requests while the counter store is unreachable.
	FailOpen bool
	Logger   *slog.Logger
	Recorder ThrottleRecorder
}

// Throttle rejects requests over the policy budget with 429 and a
// Retry-After header holding the seconds until the window resets.
func Throttle(cfg ThrottleConfig) fiber.Handler {
	if cfg.Key == nil {
		cfg.Key = ClientIP
	}
	return func(c *fiber.Ctx) error {
		_, err := cfg.Limiter.Allow(c.UserContext(), cfg.Policy, cfg.Key(c))
		if err == nil {
			return c.Next()
		}

		var limited *ratelimit.LimitedError
		switch {
		case errors.As(err, &limited):
			if cfg.Recorder != nil {
				cfg.Recorder.RateLimited(cfg.Policy.Name)
			}
			cfg.Logger.Warn("rate limit exceeded",
				slog.String("policy", cfg.Policy.Name),
				slog.Duration("retry_after", limited.RetryAfter),
			)
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfterSeconds(limited)))
			return c.Status(http.StatusTooManyRequests).JSON(fiber.Map{"error": throttledMessage})

		case errors.Is(err, ratelimit.ErrStoreUnavailable):
			if cfg.Recorder != nil {
				cfg.Recorder.RateLimitStoreError(cfg.Policy.Name)
			}
			cfg.Logger.Error("rate limit store unavailable",
				slog.String("policy", cfg.Policy.Name),
				slog.Bool("fail_open", cfg.FailOpen),
				slog.Any("error", err),
			)
			if cfg.FailOpen {
				return c.Next()
			}
			return fiber.NewError(http.StatusServiceUnavailable, "service temporarily unavailable")

		default:
			return err
		}
	}
}

func retryAfterSeconds(e *ratelimit.LimitedError) int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
