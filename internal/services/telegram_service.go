package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/smartpay/internal/status"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramService sends operator alerts to the admin chat.
type TelegramService struct {
	botToken    string
	adminChatID string
	apiBase     string
	client      *http.Client
	logger      *zap.Logger
}

// NewTelegramService creates a new TelegramService. Without a token or chat id
// every message is dropped.
func NewTelegramService(botToken, adminChatID string, logger *zap.Logger) *TelegramService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TelegramService{
		botToken:    botToken,
		adminChatID: adminChatID,
		apiBase:     telegramAPIBase,
		client:      &http.Client{Timeout: 10 * time.Second},
		logger:      logger.With(zap.String("component", "telegram")),
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends a message to specified chat.
func (s *TelegramService) SendMessage(ctx context.Context, chatID, text string) error {
	if s.botToken == "" {
		s.logger.Debug("Bot token not configured, message dropped")
		return nil
	}

	body, err := json.Marshal(telegramMessage{ChatID: chatID, Text: text, ParseMode: "HTML"})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.apiBase, s.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	return nil
}

// SendToAdmin sends a message to the admin chat.
func (s *TelegramService) SendToAdmin(ctx context.Context, text string) error {
	if s.adminChatID == "" {
		s.logger.Debug("Admin chat ID not configured, message dropped")
		return nil
	}
	return s.SendMessage(ctx, s.adminChatID, text)
}

func (s *TelegramService) alert(ctx context.Context, kind, orderID, text string) {
	if err := s.SendToAdmin(ctx, strings.TrimSpace(text)); err != nil {
		s.logger.Error("Failed to send operator alert",
			zap.String("kind", kind),
			zap.String("order_id", orderID),
			zap.Error(err))
	}
}

// AlertStalledOrder reports an order still pending after the whole poll budget.
func (s *TelegramService) AlertStalledOrder(ctx context.Context, orderID string, cls status.Classification, attempts int) {
	s.alert(ctx, "stalled_order", orderID, fmt.Sprintf(`<b>⚠️ Order status unresolved</b>
<b>Order:</b> %s
<b>Last status:</b> %s (%d)
<b>Attempts:</b> %d
<b>Action:</b> %s`,
		html.EscapeString(orderID), cls.Name, cls.StatusID, attempts, cls.RecommendedAction))
}

// AlertIntegrationError reports a transaction the gateway could not route.
func (s *TelegramService) AlertIntegrationError(ctx context.Context, orderID string, cls status.Classification) {
	s.alert(ctx, "integration_error", orderID, fmt.Sprintf(`<b>🚨 Gateway integration error</b>
<b>Order:</b> %s
<b>Status:</b> %s (%d)
<b>Action:</b> %s`,
		html.EscapeString(orderID), cls.Name, cls.StatusID, cls.RecommendedAction))
}

// AlertSignatureFailure reports a callback whose signature did not verify.
func (s *TelegramService) AlertSignatureFailure(ctx context.Context, orderID, vulnType, clientIP string) {
	s.alert(ctx, "signature_failure", orderID, fmt.Sprintf(`<b>🛑 Callback signature rejected</b>
<b>Order:</b> %s
<b>Type:</b> %s
<b>IP:</b> %s`,
		html.EscapeString(orderID), vulnType, html.EscapeString(clientIP)))
}

// PaymentSuccessNotification contains payment success data.
type PaymentSuccessNotification struct {
	OrderID  string
	TxnID    string
	Amount   decimal.Decimal
	Currency string
}

// NotifyPaymentSuccess sends notification about successful payment.
func (s *TelegramService) NotifyPaymentSuccess(ctx context.Context, payment PaymentSuccessNotification) {
	s.alert(ctx, "payment_success", payment.OrderID, fmt.Sprintf(`<b>✅ Payment received</b>
<b>Order:</b> %s
<b>Transaction:</b> %s
<b>Amount:</b> %s
━━━━━━━━━━━━━━━━━━`,
		html.EscapeString(payment.OrderID),
		html.EscapeString(payment.TxnID),
		FormatAmount(payment.Amount, payment.Currency)))
}

// FormatAmount formats an amount with thousand separators and two decimals.
func FormatAmount(amount decimal.Decimal, currency string) string {
	if currency == "" {
		currency = "INR"
	}
	fixed := amount.StringFixed(2)
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	intPart, frac, _ := strings.Cut(fixed, ".")

	var result strings.Builder
	length := len(intPart)
	for i, digit := range intPart {
		if i > 0 && (length-i)%3 == 0 {
			result.WriteString(",")
		}
		result.WriteRune(digit)
	}

	return sign + result.String() + "." + frac + " " + currency
}
