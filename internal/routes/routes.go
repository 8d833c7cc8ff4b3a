package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/pricepin/pricepin/internal/auth"
	"github.com/pricepin/pricepin/internal/captoken"
	"github.com/pricepin/pricepin/internal/config"
	"github.com/pricepin/pricepin/internal/digest"
	"github.com/pricepin/pricepin/internal/identity"
	"github.com/pricepin/pricepin/internal/metrics"
	"github.com/pricepin/pricepin/internal/middleware"
	"github.com/pricepin/pricepin/internal/pin"
	"github.com/pricepin/pricepin/internal/ratelimit"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Logger   *slog.Logger
	Registry *prometheus.Registry
	// Provider overrides the Google provider built from Cfg.
	Provider auth.Provider
}

// Setup configures middlewares and all application routes. The returned
// function stops background workers started here.
func Setup(app *fiber.App, d Deps) (func(), error) {
	// Enforce DB/Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Registry == nil {
		d.Registry = prometheus.NewRegistry()
	}
	collector := metrics.NewCollector(d.Registry)

	hasher, err := digest.New(digest.Config{
		Algorithm:     d.Cfg.Digest.Algorithm,
		BcryptCost:    d.Cfg.Digest.BcryptCost,
		Argon2Time:    d.Cfg.Digest.Argon2Time,
		Argon2MemKiB:  d.Cfg.Digest.Argon2MemKiB,
		Argon2Threads: d.Cfg.Digest.Argon2Threads,
	})
	if err != nil {
		return nil, err
	}
	tokens := captoken.NewManager(hasher)

	relink, err := identity.ParseRelinkPolicy(d.Cfg.Identity.RelinkPolicy)
	if err != nil {
		return nil, err
	}
	sessions, err := auth.NewSessions(d.Cfg.Session.Secret, d.Cfg.Session.TTL)
	if err != nil {
		return nil, err
	}

	var stops []func()
	stop := func() {
		for _, s := range stops {
			s()
		}
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger, collector))

	RegisterHealthRoutes(app, d)
	RegisterMetricsRoute(app, d.Registry)

	// Repositories
	var (
		pinRepo      pin.Repository
		identityRepo identity.Repository
		store        ratelimit.CounterStore
	)
	if d.DB != nil {
		pinRepo = pin.NewPostgresRepository(d.DB)
		identityRepo = identity.NewPostgresRepository(d.DB)
	} else {
		d.Logger.Warn("DATABASE_URL not set, using in-memory repositories")
		pinRepo = pin.NewMemoryRepository()
		identityRepo = identity.NewMemoryRepository()
	}
	if d.Cache != nil {
		store = ratelimit.NewRedisStore(d.Cache)
	} else {
		d.Logger.Warn("REDIS_URL not set, rate limit counters are process local")
		mem := ratelimit.NewMemoryStore(time.Minute)
		stops = append(stops, mem.Stop)
		store = mem
	}
	limiter := ratelimit.New(store)

	// Services and handlers
	pinSvc := pin.NewService(pinRepo, tokens, pin.Config{ListLimit: d.Cfg.PinListLimit}, d.Logger).WithRecorder(collector)
	identitySvc := identity.NewService(identityRepo, hasher, tokens, identity.Config{RelinkPolicy: relink}, d.Logger).WithRecorder(collector)

	provider := d.Provider
	if provider == nil && d.Cfg.GoogleEnabled() {
		provider = auth.NewGoogleProvider(auth.GoogleConfig{
			ClientID:     d.Cfg.Google.ClientID,
			ClientSecret: d.Cfg.Google.ClientSecret,
			RedirectURL:  d.Cfg.Google.RedirectURL,
		})
	}
	if provider == nil {
		d.Logger.Warn("google sign-in disabled: GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET not set")
	}

	pinHandler := pin.NewHandler(pinSvc)
	authHandler := auth.NewHandler(identitySvc, sessions, provider, auth.HandlerConfig{
		CookieSecure: !d.Cfg.IsDevelopment(),
	}, d.Logger)

	burst := middleware.NewBurstLimiter(d.Cfg.RateLimit.AuthPerSec, d.Cfg.RateLimit.AuthBurst, 5*time.Minute)
	stops = append(stops, burst.Stop)

	pinThrottle := middleware.Throttle(middleware.ThrottleConfig{
		Limiter: limiter,
		Policy: ratelimit.Policy{
			Name:   ratelimit.PinCreatePolicy().Name,
			Limit:  int(d.Cfg.RateLimit.PinLimit),
			Window: d.Cfg.RateLimit.PinWindow,
		},
		Key:      middleware.ClientIP,
		FailOpen: d.Cfg.RateLimit.FailOpen,
		Logger:   d.Logger,
		Recorder: collector,
	})
	// Sign in counts against the client address and the submitted email.
	loginIPThrottle := middleware.Throttle(middleware.ThrottleConfig{
		Limiter:  limiter,
		Policy:   ratelimit.Policy{Name: "login:ip", Limit: int(d.Cfg.RateLimit.LoginIPLimit), Window: d.Cfg.RateLimit.LoginWindow},
		Key:      middleware.ClientIP,
		FailOpen: d.Cfg.RateLimit.FailOpen,
		Logger:   d.Logger,
		Recorder: collector,
	})
	loginEmailThrottle := middleware.Throttle(middleware.ThrottleConfig{
		Limiter:  limiter,
		Policy:   ratelimit.Policy{Name: "login", Limit: int(d.Cfg.RateLimit.LoginLimit), Window: d.Cfg.RateLimit.LoginWindow},
		Key:      middleware.EmailOrIP,
		FailOpen: d.Cfg.RateLimit.FailOpen,
		Logger:   d.Logger,
		Recorder: collector,
	})

	// API routes
	v1 := app.Group("/api/v1")
	v1.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.GetRequestID(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterPinRoutes(app, pinHandler, pinThrottle)
	RegisterUserRoutes(app, authHandler, burst.Handler(), loginIPThrottle, loginEmailThrottle)
	RegisterAccountRoutes(app, authHandler, middleware.RequireUser(sessions))

	return stop, nil
}
