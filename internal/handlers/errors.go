package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/example/smartpay/internal/gateway"
	"github.com/example/smartpay/internal/ledger"
	"github.com/example/smartpay/internal/services"
)

// writeError maps service errors onto HTTP responses. Gateway response bodies
// are never passed through.
func writeError(c *fiber.Ctx, err error) error {
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "validation failed",
			"fields":  verr.Errors,
		})
	}

	var gwErr *gateway.Error
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "payment not found")
	case errors.Is(err, ledger.ErrDuplicateSession):
		return fiber.NewError(fiber.StatusConflict, "order already exists")
	case errors.Is(err, services.ErrRefundNotAllowed):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, services.ErrOrderTerminal):
		return fiber.NewError(fiber.StatusConflict, "order already in a terminal state")
	case errors.As(err, &gwErr):
		return fiber.NewError(fiber.StatusBadGateway, "payment gateway error")
	default:
		return err
	}
}
