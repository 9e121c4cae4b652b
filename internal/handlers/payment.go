package handlers

import (
	"errors"
	"net/url"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/smartpay/internal/ledger"
	"github.com/example/smartpay/internal/middleware"
	"github.com/example/smartpay/internal/services"
	"github.com/example/smartpay/internal/status"
	"github.com/example/smartpay/internal/utils"
)

// RedirectURLs are where payers land after the bank callback. Empty URLs make
// the callback answer with JSON instead.
type RedirectURLs struct {
	Success string
	Cancel  string
	Pending string
}

// PaymentHandler serves payer and operator payment endpoints.
type PaymentHandler struct {
	payments  *services.PaymentService
	redirects RedirectURLs
	logger    *zap.Logger
}

func NewPaymentHandler(payments *services.PaymentService, redirects RedirectURLs, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		payments:  payments,
		redirects: redirects,
		logger:    logger.With(zap.String("component", "payment_handler")),
	}
}

// CreateSession registers a new order with the gateway.
func (h *PaymentHandler) CreateSession(c *fiber.Ctx) error {
	var req services.CreateSessionInput
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	session, err := h.payments.CreateSession(c.UserContext(), req)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    session,
	})
}

// Callback handles the bank's return redirect and server notifications.
func (h *PaymentHandler) Callback(c *fiber.Ctx) error {
	params := middleware.GetCallbackParams(c)

	view, err := h.payments.HandleCallback(c.UserContext(), services.CallbackInput{
		Params:    params,
		ClientIP:  c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	})

	invalid := errors.Is(err, services.ErrInvalidSignature)
	if err != nil && !invalid {
		return writeError(c, err)
	}

	if target := h.redirectFor(view); target != "" {
		return c.Redirect(target, fiber.StatusSeeOther)
	}

	code := fiber.StatusOK
	if invalid {
		code = fiber.StatusBadRequest
	}
	return c.Status(code).JSON(fiber.Map{
		"success": !invalid,
		"data":    view,
	})
}

func (h *PaymentHandler) redirectFor(view *services.PayerStatus) string {
	if view == nil {
		return ""
	}

	var base string
	switch view.Status {
	case status.OutcomeSuccess:
		base = h.redirects.Success
	case status.OutcomeFailed:
		base = h.redirects.Cancel
	default:
		base = h.redirects.Pending
	}
	if base == "" {
		return ""
	}

	u, err := url.Parse(base)
	if err != nil {
		h.logger.Error("Invalid redirect URL", zap.String("url", base), zap.Error(err))
		return ""
	}
	q := u.Query()
	q.Set("order_id", view.OrderID)
	q.Set("status", string(view.Status))
	u.RawQuery = q.Encode()
	return u.String()
}

// Status returns the payer view of an order.
func (h *PaymentHandler) Status(c *fiber.Ctx) error {
	view, err := h.payments.RefreshStatus(c.UserContext(), c.Params("orderId"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    view,
	})
}

// ListSessions returns a paginated list of sessions.
func (h *PaymentHandler) ListSessions(c *fiber.Ctx) error {
	p := utils.ParsePagination(c)
	filter := ledger.SessionFilter{
		Status:     c.Query("status"),
		CustomerID: c.Query("customer_id"),
	}

	sessions, total, err := h.payments.ListSessions(c.UserContext(), filter, p.Limit, p.Offset)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    sessions,
		"pagination": fiber.Map{
			"page":        p.Page,
			"limit":       p.Limit,
			"total":       total,
			"total_pages": p.TotalPages(total),
		},
	})
}

// AuditTrail returns every record kept for an order.
func (h *PaymentHandler) AuditTrail(c *fiber.Ctx) error {
	trail, err := h.payments.AuditTrail(c.UserContext(), c.Params("orderId"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    trail,
	})
}

// Refund submits a refund for a charged order.
func (h *PaymentHandler) Refund(c *fiber.Ctx) error {
	var req services.RefundInput
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	orderID := c.Params("orderId")
	res, err := h.payments.Refund(c.UserContext(), orderID, req)
	if err != nil {
		return writeError(c, err)
	}

	operator, _ := middleware.GetCurrentOperator(c)
	h.logger.Info("Refund requested",
		zap.String("order_id", orderID),
		zap.String("operator", operator),
		zap.String("amount", req.Amount.StringFixed(2)))

	return c.JSON(fiber.Map{
		"success": res.Success,
		"data":    res,
	})
}

// StartPolling begins background polling for an order.
func (h *PaymentHandler) StartPolling(c *fiber.Ctx) error {
	orderID := c.Params("orderId")
	if err := h.payments.StartPolling(c.UserContext(), orderID); err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
		"polling": true,
	})
}

// StopPolling cancels background polling for an order.
func (h *PaymentHandler) StopPolling(c *fiber.Ctx) error {
	stopped := h.payments.StopPolling(c.Params("orderId"))
	return c.JSON(fiber.Map{
		"success": true,
		"stopped": stopped,
	})
}
