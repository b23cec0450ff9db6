package middleware

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v3"
)

const (
	// Share permissions
	CreateSharePermission  = "write:share"
	ReadSharePermission    = "read:share"
	ReadAllSharePermission = "read:share:all"
	RevokeSharePermission  = "revoke:share"

	// Admin permissions (for backward compatibility)
	AdminPermission   = "admin"
	ManagerPermission = "manager"
)

// RateLimitCounter is the shared atomic counter backing the limiter, so the
// limit holds across every server instance.
type RateLimitCounter interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimit returns a fixed-window rate limiter keyed by the authenticated
// user, falling back to the client IP. The limiter fails open when the
// counter store is unreachable.
func RateLimit(counter RateLimitCounter, limit int64, window time.Duration) fiber.Handler {
	return func(c fiber.Ctx) error {
		if counter == nil {
			return c.Next()
		}

		key := c.Get("X-User-ID")
		if key == "" {
			key = c.IP()
		}

		count, err := counter.IncrementWindow(c.Context(), "ratelimit:share:"+key, window)
		if err != nil {
			log.Printf("Rate limit counter unavailable, allowing request: %v", err)
			return c.Next()
		}

		if count > limit {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later",
			})
		}

		return c.Next()
	}
}
