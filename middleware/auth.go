package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"dgt-economy-system/utils"
)

// UserContextMiddleware extracts user identity and roles set by the Gateway.
// The comma-separated role header is parsed into a clean slice here, at the
// boundary — nothing deeper in the engine touches raw header strings.
func UserContextMiddleware() fiber.Handler {
	log := utils.NewLogger("user_ctx")

	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-ID")
		rolesStr := c.Get("X-User-Roles")

		path := c.Path()
		isSecured := strings.HasPrefix(path, "/s/")
		if isSecured && userID == "" {
			log.WithField("path", path).Warn("X-User-ID missing on secured route")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID — request must come through gateway with auth context",
			})
		}

		var roles []string
		if rolesStr != "" {
			for _, r := range strings.Split(rolesStr, ",") {
				r = strings.TrimSpace(r)
				if r != "" {
					roles = append(roles, r)
				}
			}
		}

		c.Locals("user_id", userID)
		c.Locals("user_roles", roles)

		return c.Next()
	}
}

// UserID pulls the authenticated user id out of the request context.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

// UserRoles pulls the parsed role list out of the request context.
func UserRoles(c *fiber.Ctx) []string {
	roles, _ := c.Locals("user_roles").([]string)
	return roles
}
