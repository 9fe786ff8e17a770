package handlers

import (
	"github.com/gofiber/fiber/v2"

	"dgt-economy-system/middleware"
	"dgt-economy-system/services"
)

func SetupProgressionRoutes(app *fiber.App, progression *services.ProgressionService) {
	secured := app.Group("/s", middleware.UserContextMiddleware())

	secured.Get("/progression", func(c *fiber.Ctx) error {
		progress, err := progression.EnsureProgressRecord(middleware.UserID(c))
		if err != nil {
			return fail(c, err)
		}
		current, next := services.LevelWindow(progress.Level)
		return c.JSON(fiber.Map{
			"external_user_id":   progress.ExternalUserID,
			"total_xp":           progress.TotalXP,
			"level":              progress.Level,
			"level_floor_xp":     current,
			"next_level_xp":      next,
			"total_tips":         progress.TotalTips,
			"total_rains":        progress.TotalRains,
			"missions_completed": progress.MissionsCompleted,
			"total_referrals":    progress.TotalReferrals,
		})
	})

	// Internal award endpoint: other services (chat, games) report XP-worthy
	// actions here and the daily cap is applied server-side.
	secured.Post("/progression/award", func(c *fiber.Ctx) error {
		var req struct {
			Action string `json:"action" validate:"required,action_key"`
			Amount int64  `json:"amount" validate:"required,gt=0"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if err := validate.Validate(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		progress, err := progression.AwardXP(middleware.UserID(c), req.Action, req.Amount)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(progress)
	})
}
