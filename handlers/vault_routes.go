package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"dgt-economy-system/middleware"
	"dgt-economy-system/services"
)

func SetupVaultRoutes(app *fiber.App, vaults *services.VaultService) {
	secured := app.Group("/s", middleware.UserContextMiddleware())

	secured.Post("/vault/lock", func(c *fiber.Ctx) error {
		var req struct {
			Amount    int64  `json:"amount" validate:"required,gt=0"`
			UnlockAt  string `json:"unlock_at,omitempty"`
			LockHours int    `json:"lock_hours,omitempty"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if err := validate.Validate(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		var unlockAt time.Time
		switch {
		case req.UnlockAt != "":
			parsed, err := time.Parse(time.RFC3339, req.UnlockAt)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unlock_at must be RFC3339"})
			}
			unlockAt = parsed
		case req.LockHours > 0:
			unlockAt = time.Now().Add(time.Duration(req.LockHours) * time.Hour)
		default:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unlock_at or lock_hours required"})
		}

		vault, err := vaults.Lock(middleware.UserID(c), req.Amount, unlockAt)
		if err != nil {
			return fail(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(vault)
	})

	secured.Post("/vault/:id/unlock", func(c *fiber.Ctx) error {
		vault, err := vaults.Unlock(c.Params("id"), middleware.UserID(c), false)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(vault)
	})

	secured.Get("/vault", func(c *fiber.Ctx) error {
		list, err := vaults.List(middleware.UserID(c))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"vaults": list})
	})

	// Early unlock is the explicit administrative path, outside user flow.
	admin := secured.Group("/admin", middleware.RequireRole("admin"))

	admin.Post("/vault/:id/unlock", func(c *fiber.Ctx) error {
		vault, err := vaults.Unlock(c.Params("id"), middleware.UserID(c), true)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(vault)
	})
}
