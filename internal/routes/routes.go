package routes

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/smartpay/internal/config"
	"github.com/example/smartpay/internal/handlers"
	"github.com/example/smartpay/internal/middleware"
	"github.com/example/smartpay/internal/services"
)

// Register wires up all HTTP routes.
func Register(app *fiber.App, cfg *config.Config, payments *services.PaymentService, logger *zap.Logger) {
	authHandler := handlers.NewAuthHandler(cfg)
	paymentHandler := handlers.NewPaymentHandler(payments, handlers.RedirectURLs{
		Success: cfg.PaymentSuccessURL,
		Cancel:  cfg.PaymentCancelURL,
		Pending: cfg.PaymentPendingURL,
	}, logger)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/login", authHandler.Login)

	paymentRoutes := api.Group("/payments")

	// Public: bank callback and payer status
	paymentRoutes.Get("/callback", middleware.CallbackParams(), paymentHandler.Callback)
	paymentRoutes.Post("/callback", middleware.CallbackParams(), paymentHandler.Callback)
	paymentRoutes.Get("/:orderId/status", paymentHandler.Status)

	// Operator routes
	protected := paymentRoutes.Group("", middleware.AuthMiddleware(cfg.JWTSecret))
	protected.Post("/session", paymentHandler.CreateSession)
	protected.Get("/", paymentHandler.ListSessions)
	protected.Get("/:orderId/audit", paymentHandler.AuditTrail)
	protected.Post("/:orderId/refund", paymentHandler.Refund)
	protected.Post("/:orderId/poll", paymentHandler.StartPolling)
	protected.Delete("/:orderId/poll", paymentHandler.StopPolling)
}
