package middleware

import (
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"dgt-economy-system/utils"
)

// GatewayAuthMiddleware validates the Bearer token from the Gateway. Every
// request must come through the platform gateway — no exceptions.
func GatewayAuthMiddleware() fiber.Handler {
	log := utils.NewLogger("gateway_auth")

	expectedToken := os.Getenv("ECONOMY_SERVICE_TOKEN")
	if expectedToken == "" {
		log.Fatal("ECONOMY_SERVICE_TOKEN is not set — service cannot authenticate Gateway")
	}

	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			log.WithField("path", c.Path()).Warn("missing Authorization header")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "gateway authentication token missing",
			})
		}

		// Parse "Bearer <token>"; some gateway versions send the raw value.
		token := strings.TrimPrefix(authHeader, "Bearer ")

		if token != expectedToken {
			log.WithField("path", c.Path()).Warn("invalid gateway token")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid gateway authentication token",
			})
		}

		return c.Next()
	}
}

// RequireRole guards admin routes: the gateway-provided role list must
// contain one of the wanted roles.
func RequireRole(wanted ...string) fiber.Handler {
	log := utils.NewLogger("rbac")

	return func(c *fiber.Ctx) error {
		roles, _ := c.Locals("user_roles").([]string)
		for _, have := range roles {
			for _, want := range wanted {
				if have == want {
					return c.Next()
				}
			}
		}
		log.WithFields(logrus.Fields{"path": c.Path(), "roles": roles}).Warn("role check failed")
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "insufficient role",
		})
	}
}
