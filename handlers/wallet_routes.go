package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"dgt-economy-system/middleware"
	"dgt-economy-system/models"
	"dgt-economy-system/services"
)

func SetupWalletRoutes(app *fiber.App, ledger *services.LedgerService, progression *services.ProgressionService) {
	secured := app.Group("/s", middleware.UserContextMiddleware())

	// Open (or fetch) the caller's ledger account. Optional referral code is
	// the referrer's user id; it only sticks on first open.
	secured.Post("/wallet/open", func(c *fiber.Ctx) error {
		var req struct {
			ReferredBy *string `json:"referred_by,omitempty"`
		}
		_ = c.BodyParser(&req) // body is optional

		acct, err := ledger.OpenAccount(middleware.UserID(c), req.ReferredBy)
		if err != nil {
			return fail(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(acct)
	})

	secured.Get("/wallet/balance", func(c *fiber.Ctx) error {
		acct, err := ledger.GetBalance(middleware.UserID(c))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{
			"external_user_id": acct.ExternalUserID,
			"balance":          acct.Balance,
			"status":           acct.Status,
		})
	})

	secured.Get("/wallet/history", func(c *fiber.Ctx) error {
		filter := services.HistoryFilter{
			Type:   models.TransactionType(c.Query("type")),
			Status: models.TransactionStatus(c.Query("status")),
			Page:   c.QueryInt("page", 1),
			Size:   c.QueryInt("size", 20),
		}
		if raw := c.Query("since"); raw != "" {
			if since, err := time.Parse(time.RFC3339, raw); err == nil {
				filter.Since = &since
			}
		}

		txns, total, err := ledger.History(middleware.UserID(c), filter)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{
			"transactions": txns,
			"total":        total,
			"page":         filter.Page,
		})
	})

	// Deposit confirmation from the payment pipeline. Also the referral
	// trigger: the referrer's bonus fires on the referred user's first
	// confirmed deposit.
	secured.Post("/wallet/deposit", func(c *fiber.Ctx) error {
		var req struct {
			IdempotencyKey string `json:"idempotency_key" validate:"required"`
			Amount         int64  `json:"amount" validate:"required,gt=0"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if err := validate.Validate(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		userID := middleware.UserID(c)
		txn, err := ledger.Apply(services.TransactionRequest{
			IdempotencyKey: req.IdempotencyKey,
			Type:           models.TxDeposit,
			Amount:         req.Amount,
			DestinationID:  &userID,
		})
		if err != nil {
			return fail(c, err)
		}

		// Referral payout is downstream bookkeeping; its failure never
		// bounces the deposit.
		_ = progression.ProcessReferralAward(userID)

		return c.Status(fiber.StatusCreated).JSON(txn)
	})

	secured.Post("/wallet/withdraw", func(c *fiber.Ctx) error {
		var req struct {
			IdempotencyKey string `json:"idempotency_key" validate:"required"`
			Amount         int64  `json:"amount" validate:"required,gt=0"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if err := validate.Validate(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		userID := middleware.UserID(c)
		txn, err := ledger.Apply(services.TransactionRequest{
			IdempotencyKey: req.IdempotencyKey,
			Type:           models.TxWithdrawal,
			Amount:         req.Amount,
			SourceID:       &userID,
		})
		if err != nil {
			return fail(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(txn)
	})

	// --- Admin ---
	admin := secured.Group("/admin", middleware.RequireRole("admin"))

	admin.Post("/wallet/:user/adjust", func(c *fiber.Ctx) error {
		var req struct {
			Amount int64  `json:"amount" validate:"required"`
			Reason string `json:"reason" validate:"required"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if err := validate.Validate(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		target := c.Params("user")
		txn, err := ledger.Apply(services.TransactionRequest{
			IdempotencyKey: "admin-adjust:" + uuid.NewString(),
			Type:           models.TxAdminAdjust,
			Amount:         req.Amount,
			DestinationID:  &target,
			Metadata:       map[string]string{"reason": req.Reason, "admin": middleware.UserID(c)},
		})
		if err != nil {
			return fail(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(txn)
	})

	admin.Post("/wallet/:user/status", func(c *fiber.Ctx) error {
		var req struct {
			Status models.AccountStatus `json:"status" validate:"required,oneof=active frozen suspended"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if err := validate.Validate(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		acct, err := ledger.SetAccountStatus(c.Params("user"), req.Status)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(acct)
	})

	admin.Post("/transactions/:id/reverse", func(c *fiber.Ctx) error {
		var req struct {
			Reason string `json:"reason"`
		}
		_ = c.BodyParser(&req)

		compensating, err := ledger.Reverse(c.Params("id"), req.Reason)
		if err != nil {
			return fail(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(compensating)
	})
}
