package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// RequireCronSecret authenticates trigger endpoints with a shared secret.
// The caller sends either "Authorization: Bearer <secret>" or the
// "X-Cron-Secret" header. An empty configured secret locks the route.
func RequireCronSecret(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":   "unavailable",
				"message": "cron trigger secret not configured",
			})
		}
		if !secretMatches(extractBearerToken(c, "X-Cron-Secret"), secret) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "invalid cron secret",
			})
		}
		return c.Next()
	}
}

// RequireAdminToken authenticates the scheduler admin endpoints with a
// static operator token.
func RequireAdminToken(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token == "" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":   "unavailable",
				"message": "admin token not configured",
			})
		}
		if !secretMatches(extractBearerToken(c, "X-Admin-Token"), token) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "invalid admin token",
			})
		}
		return c.Next()
	}
}

func extractBearerToken(c *fiber.Ctx, fallbackHeader string) string {
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(c.Get(fallbackHeader))
}

func secretMatches(got, want string) bool {
	if got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
