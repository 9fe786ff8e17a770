package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"dgt-economy-system/services"
	"dgt-economy-system/utils"
)

var validate = utils.NewCustomValidator()

// fail maps the service error taxonomy onto HTTP statuses. Validation and
// balance problems are the caller's fault; conflict after retries means the
// service is momentarily unavailable; anything unknown is a 500.
func fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrInsufficientBalance):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "insufficient balance", "code": "InsufficientBalance"})
	case errors.Is(err, services.ErrAccountNotActive):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "account frozen or suspended", "code": "AccountFrozenOrSuspended"})
	case errors.Is(err, services.ErrAccountNotFound), errors.Is(err, services.ErrVaultNotFound), errors.Is(err, services.ErrTxNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error(), "code": "NotFound"})
	case errors.Is(err, services.ErrCooldownActive):
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "cooldown active", "code": "CooldownActive"})
	case errors.Is(err, services.ErrInvalidAmount):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error(), "code": "InvalidAmount"})
	case errors.Is(err, services.ErrVaultNotUnlockable):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "vault unlock time has not elapsed", "code": "VaultNotUnlockable"})
	case errors.Is(err, services.ErrRequirementNotMet):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error(), "code": "RequirementNotMet"})
	case errors.Is(err, services.ErrValidationError), errors.Is(err, services.ErrNoValidRecipients):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error(), "code": "ValidationError"})
	case errors.Is(err, services.ErrAlreadyReversed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "transaction already reversed", "code": "AlreadyReversed"})
	case errors.Is(err, services.ErrTransactionConflict):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "ledger busy, retry later", "code": "TransactionConflict"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}
