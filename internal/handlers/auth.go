package handlers

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"github.com/example/smartpay/internal/config"
	"github.com/example/smartpay/internal/utils"
)

// AuthHandler issues operator tokens.
type AuthHandler struct {
	cfg *config.Config
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(cfg *config.Config) *AuthHandler {
	return &AuthHandler{cfg: cfg}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates the configured operator.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if h.cfg.OperatorPasswordHash == "" {
		return fiber.NewError(fiber.StatusServiceUnavailable, "operator login is not configured")
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.cfg.OperatorUsername)) == 1
	passOK := utils.CheckPassword(h.cfg.OperatorPasswordHash, req.Password)
	if !userOK || !passOK {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
	}

	token, err := utils.GenerateToken(h.cfg.JWTSecret, h.cfg.OperatorUsername, h.cfg.TokenExpires)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to generate token")
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"operator": h.cfg.OperatorUsername,
		"token":    token,
	})
}
