package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/smartpay/internal/utils"
)

const operatorContextKey = "currentOperator"

// AuthMiddleware validates operator JWTs and stores the operator name in context.
func AuthMiddleware(jwtSecret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid authorization header")
		}

		operator, err := utils.ParseToken(jwtSecret, parts[1])
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}

		c.Locals(operatorContextKey, operator)
		return c.Next()
	}
}

// GetCurrentOperator extracts the authenticated operator from context.
func GetCurrentOperator(c *fiber.Ctx) (string, bool) {
	operator, ok := c.Locals(operatorContextKey).(string)
	return operator, ok && operator != ""
}
