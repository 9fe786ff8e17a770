package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"dgt-economy-system/middleware"
	"dgt-economy-system/models"
	"dgt-economy-system/services"
)

func SetupMissionRoutes(app *fiber.App, missions *services.MissionService) {
	secured := app.Group("/s", middleware.UserContextMiddleware())

	secured.Get("/missions", func(c *fiber.Ctx) error {
		status, err := missions.MissionStatus(middleware.UserID(c))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"missions": status})
	})

	secured.Post("/missions/assign", func(c *fiber.Ctx) error {
		assigned, err := missions.AssignMissions(middleware.UserID(c))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"assigned": assigned})
	})

	secured.Post("/missions/:id/claim", func(c *fiber.Ctx) error {
		mission, err := missions.ClaimMission(middleware.UserID(c), c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(mission)
	})

	// Other platform services report user actions here; evaluation happens
	// asynchronously in the achievement worker.
	secured.Post("/missions/events", func(c *fiber.Ctx) error {
		var req struct {
			EventID   string            `json:"event_id"`
			EventType string            `json:"event_type" validate:"required,action_key"`
			Payload   map[string]string `json:"payload,omitempty"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if err := validate.Validate(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		if req.EventID == "" {
			req.EventID = uuid.NewString()
		}

		ev, err := missions.SubmitEvent(req.EventID, middleware.UserID(c), req.EventType, req.Payload)
		if err != nil {
			return fail(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"event_id": ev.EventID,
			"status":   ev.Status,
		})
	})

	admin := secured.Group("/admin", middleware.RequireRole("admin"))

	admin.Post("/missions/templates", func(c *fiber.Ctx) error {
		var req struct {
			Name          string           `json:"name" validate:"required"`
			Description   string           `json:"description"`
			Category      string           `json:"category"`
			Type          string           `json:"type" validate:"required,oneof=count threshold streak timebound combo unique competitive"`
			Period        string           `json:"period" validate:"required,oneof=daily weekly monthly special perpetual"`
			Requirements  map[string]int64 `json:"requirements" validate:"required,min=1"`
			Rewards       map[string]int64 `json:"rewards" validate:"required,min=1"`
			Prerequisites []string         `json:"prerequisites,omitempty"`
			Weight        int              `json:"weight"`
			MinLevel      int              `json:"min_level"`
			MaxLevel      int              `json:"max_level"`
			CooldownHours int              `json:"cooldown_hours"`
			Active        *bool            `json:"active,omitempty"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if err := validate.Validate(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		active := true
		if req.Active != nil {
			active = *req.Active
		}
		tpl, err := missions.UpsertTemplate(&models.MissionTemplate{
			Name:          req.Name,
			Description:   req.Description,
			Category:      req.Category,
			Type:          models.MissionType(req.Type),
			Period:        models.MissionPeriod(req.Period),
			Requirements:  req.Requirements,
			Rewards:       req.Rewards,
			Prerequisites: req.Prerequisites,
			Weight:        req.Weight,
			MinLevel:      req.MinLevel,
			MaxLevel:      req.MaxLevel,
			CooldownHours: req.CooldownHours,
			Active:        active,
		})
		if err != nil {
			return fail(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(tpl)
	})
}
