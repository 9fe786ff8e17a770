package handlers

import (
	"github.com/gofiber/fiber/v2"

	"dgt-economy-system/middleware"
	"dgt-economy-system/services"
)

func SetupEconomyRoutes(app *fiber.App, distribution *services.DistributionService, cooldown *services.CooldownService, config *services.ConfigService) {
	secured := app.Group("/s", middleware.UserContextMiddleware())

	// Tip: single-recipient transfer with the configured burn split.
	secured.Post("/economy/tip", func(c *fiber.Ctx) error {
		var req struct {
			IdempotencyKey string `json:"idempotency_key" validate:"required"`
			Recipient      string `json:"recipient" validate:"required"`
			Amount         int64  `json:"amount" validate:"required,gt=0"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if err := validate.Validate(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		result, err := distribution.Distribute(services.DistributionRequest{
			IdempotencyKey: req.IdempotencyKey,
			Kind:           "tip",
			SenderID:       middleware.UserID(c),
			TotalAmount:    req.Amount,
			Recipients:     []string{req.Recipient},
			SenderRoles:    middleware.UserRoles(c),
		})
		if err != nil {
			return fail(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(result)
	})

	// Rain: fan out to an explicit list or a number of random active users.
	secured.Post("/economy/rain", func(c *fiber.Ctx) error {
		var req struct {
			IdempotencyKey string   `json:"idempotency_key" validate:"required"`
			Amount         int64    `json:"amount" validate:"required,gt=0"`
			Recipients     []string `json:"recipients,omitempty"`
			RecipientCount int      `json:"recipient_count,omitempty"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if err := validate.Validate(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		result, err := distribution.Distribute(services.DistributionRequest{
			IdempotencyKey: req.IdempotencyKey,
			Kind:           "rain",
			SenderID:       middleware.UserID(c),
			TotalAmount:    req.Amount,
			Recipients:     req.Recipients,
			RecipientCount: req.RecipientCount,
			SenderRoles:    middleware.UserRoles(c),
		})
		if err != nil {
			return fail(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(result)
	})

	// Read-only cooldown lookup for UI countdowns; never arms the gate.
	secured.Get("/economy/cooldown/:action", func(c *fiber.Ctx) error {
		left, err := cooldown.Remaining(middleware.UserID(c), c.Params("action"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{
			"action":            c.Params("action"),
			"remaining_seconds": int64(left.Seconds()),
		})
	})

	secured.Get("/economy/config", func(c *fiber.Ctx) error {
		return c.JSON(config.Snapshot())
	})

	admin := secured.Group("/admin", middleware.RequireRole("admin"))

	admin.Post("/economy/config/reload", func(c *fiber.Ctx) error {
		return c.JSON(config.Reload())
	})
}
