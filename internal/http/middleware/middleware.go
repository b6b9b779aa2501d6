// Package middleware wires the agent's global fiber middleware chain.
package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/xid"

	"ticket-delivery/internal/config"
	"ticket-delivery/internal/infra/logging"
	"ticket-delivery/internal/tokens"
)

// APIKeyLocal is the fiber.Ctx locals key holding the authenticated API key.
const APIKeyLocal = "api_key"

// Limiters builds and caches limiter handlers sharing one storage.
type Limiters struct {
	store    fiber.Storage
	interval time.Duration
	tokens   *tokens.Cache

	mu       sync.RWMutex
	handlers map[int]fiber.Handler
}

func NewLimiters(store fiber.Storage, interval time.Duration, tc *tokens.Cache) *Limiters {
	return &Limiters{store: store, interval: interval, tokens: tc, handlers: make(map[int]fiber.Handler)}
}

func tooManyRequests(c *fiber.Ctx) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    fiber.StatusTooManyRequests,
			"message": "Too Many Requests",
		},
	})
}

func apiKey(c *fiber.Ctx) string {
	token, _ := c.Locals(APIKeyLocal).(string)
	return token
}

// tokenLimiter returns a cached limiter for the given token limit, creating one if needed.
func (l *Limiters) tokenLimiter(limit int) fiber.Handler {
	l.mu.RLock()
	h, ok := l.handlers[limit]
	l.mu.RUnlock()
	if ok {
		return h
	}

	h = limiter.New(limiter.Config{
		Max:               limit,
		Expiration:        l.interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           l.store,
		KeyGenerator:      apiKey,
		LimitReached: func(c *fiber.Ctx) error {
			logging.Warn("Rate limit exceeded", "token_station", l.tokens.Station(apiKey(c)), "path", c.Path())
			return tooManyRequests(c)
		},
	})

	l.mu.Lock()
	if existing, ok := l.handlers[limit]; ok {
		h = existing
	} else {
		l.handlers[limit] = h
	}
	l.mu.Unlock()
	return h
}

// Token applies the per-key limit stored with each API key. Keys without a
// limit, and anonymous requests, pass through.
func (l *Limiters) Token() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := apiKey(c)
		if token == "" {
			return c.Next()
		}
		limit := l.tokens.RateLimit(token)
		if limit <= 0 {
			return c.Next()
		}
		return l.tokenLimiter(limit)(c)
	}
}

func clientKey(c *fiber.Ctx) string {
	sum := sha256.Sum256([]byte(c.IP() + c.Get("User-Agent")))
	return hex.EncodeToString(sum[:])
}

// User limits anonymous callers by IP and User-Agent. Authenticated requests
// are governed by Token instead.
func (l *Limiters) User(max int) fiber.Handler {
	if max <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	userLimiter := limiter.New(limiter.Config{
		Max:               max,
		Expiration:        l.interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           l.store,
		KeyGenerator:      clientKey,
		LimitReached: func(c *fiber.Ctx) error {
			logging.Warn("Rate limit exceeded", "user", clientKey(c), "path", c.Path())
			return tooManyRequests(c)
		},
	})
	return func(c *fiber.Ctx) error {
		if apiKey(c) != "" {
			return c.Next()
		}
		return userLimiter(c)
	}
}

// KeyAuth validates X-API-Key against tc. Every request except preflight must
// carry a known key.
func KeyAuth(tc *tokens.Cache) fiber.Handler {
	return keyauth.New(keyauth.Config{
		KeyLookup:  "header:X-API-Key",
		ContextKey: APIKeyLocal,
		Validator: func(c *fiber.Ctx, key string) (bool, error) {
			if err := tc.Validate(key); err != nil {
				return false, err
			}
			return true, nil
		},
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// keyauth may hand over a nil error.
			status := fiber.StatusUnauthorized
			if err == nil {
				err = fiber.ErrUnauthorized
			}
			if errors.Is(err, tokens.ErrTokenStoreNotReady) {
				status = fiber.StatusServiceUnavailable
			}
			return c.Status(status).JSON(fiber.Map{
				"error": fiber.Map{
					"code":    status,
					"message": err.Error(),
				},
			})
		},
	})
}

// RequestLog logs one line per incoming request.
func RequestLog() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get(fiber.HeaderXRequestID)
		if requestID == "" {
			requestID = c.GetRespHeader(fiber.HeaderXRequestID)
		}
		logging.Info("Incoming request", "method", c.Method(), "path", c.Path(), "request_id", requestID)
		return c.Next()
	}
}

// Register attaches the global middleware to app. tc may be nil when auth is
// disabled.
func Register(app *fiber.App, cfg config.Config, tc *tokens.Cache, store fiber.Storage) {
	if tc == nil {
		tc = tokens.NewCache()
	}

	app.Use(cors.New())

	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			return xid.New().String()
		},
	}))

	app.Use(healthcheck.New(healthcheck.Config{
		ReadinessProbe: func(c *fiber.Ctx) bool {
			return !cfg.Auth.Enabled || tc.Ready()
		},
	}))

	if cfg.Auth.Enabled {
		app.Use(KeyAuth(tc))
	}

	limiters := NewLimiters(store, cfg.RateLimiter.Interval, tc)
	if cfg.Auth.Enabled {
		app.Use(limiters.Token())
	}
	if cfg.RateLimiter.EnableUserLimiter || cfg.RateLimiter.UserLimit > 0 {
		app.Use(limiters.User(cfg.RateLimiter.UserLimit))
	}

	app.Use(RequestLog())
}
