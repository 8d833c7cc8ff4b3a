package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// BurstLimiter is a process local token bucket per client address. It sits
// in front of endpoints that call out to external providers.
type BurstLimiter struct {
	rate            rate.Limit
	burst           int
	cleanupInterval time.Duration

	mu      sync.Mutex
	clients map[string]*clientLimiter

	stopCh chan struct{}
	once   sync.Once
}

// NewBurstLimiter starts a BurstLimiter and its cleanup loop.
func NewBurstLimiter(perSecond float64, burst int, cleanupInterval time.Duration) *BurstLimiter {
	if burst < 1 {
		burst = 1
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	bl := &BurstLimiter{
		rate:            rate.Limit(perSecond),
		burst:           burst,
		cleanupInterval: cleanupInterval,
		clients:         make(map[string]*clientLimiter),
		stopCh:          make(chan struct{}),
	}
	go bl.cleanupLoop()
	return bl
}

// Stop ends the cleanup loop.
func (bl *BurstLimiter) Stop() {
	bl.once.Do(func() { close(bl.stopCh) })
}

// Len returns the number of tracked clients.
func (bl *BurstLimiter) Len() int {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	return len(bl.clients)
}

// Handler returns the fiber middleware.
func (bl *BurstLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if bl.limiterFor(c.IP()).Allow() {
			return c.Next()
		}
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(bl.retryAfter()))
		return c.Status(http.StatusTooManyRequests).JSON(fiber.Map{"error": throttledMessage})
	}
}

func (bl *BurstLimiter) limiterFor(key string) *rate.Limiter {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	cl, ok := bl.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(bl.rate, bl.burst)}
		bl.clients[key] = cl
	}
	cl.lastAccess = time.Now()
	return cl.limiter
}

// retryAfter estimates the seconds until one token is replenished.
func (bl *BurstLimiter) retryAfter() int {
	if bl.rate <= 0 {
		return 1
	}
	secs := int(math.Ceil(1.0 / float64(bl.rate)))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (bl *BurstLimiter) cleanupLoop() {
	ticker := time.NewTicker(bl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			bl.cleanup(time.Now())
		case <-bl.stopCh:
			return
		}
	}
}

// cleanup drops clients idle for more than two intervals.
func (bl *BurstLimiter) cleanup(now time.Time) {
	ttl := bl.cleanupInterval * 2
	bl.mu.Lock()
	defer bl.mu.Unlock()
	for key, cl := range bl.clients {
		if now.Sub(cl.lastAccess) > ttl {
			delete(bl.clients, key)
		}
	}
}
