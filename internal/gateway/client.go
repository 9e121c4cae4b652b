package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Client talks to the SmartGateway HTTP API. It never retries; retry policy
// belongs to the caller.
type Client struct {
	cfg        Config
	baseURL    string
	authHeader string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient validates cfg and returns a ready client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		cfg:        cfg,
		baseURL:    cfg.ResolvedBaseURL(),
		authHeader: "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.APIKey+":")),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// CreateSession registers an order with the bank and returns the hosted payment links.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*SessionResult, error) {
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		orderID = NewOrderID()
	}
	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = c.cfg.ReturnURL
	}

	body := sessionBody{
		OrderID:             orderID,
		Amount:              req.Amount.StringFixed(2),
		Currency:            req.Currency,
		CustomerID:          req.Customer.ID,
		CustomerEmail:       req.Customer.Email,
		CustomerPhone:       req.Customer.Phone,
		FirstName:           req.Customer.FirstName,
		LastName:            req.Customer.LastName,
		PaymentPageClientID: c.cfg.PaymentPageClientID,
		Action:              "paymentPage",
		ReturnURL:           returnURL,
		Description:         req.Description,
	}

	raw, err := c.do(ctx, "create session", http.MethodPost, "/session", body, req.Customer.ID, nil)
	if err != nil {
		return nil, err
	}

	var result SessionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("gateway create session unmarshal: %w", err)
	}
	if result.OrderID == "" {
		result.OrderID = orderID
	}
	result.Raw = raw

	c.logger.Info("Gateway session created",
		zap.String("order_id", result.OrderID),
		zap.String("session_id", result.ID),
		zap.String("status", result.Status))
	return &result, nil
}

// GetStatus fetches the current order state from the bank.
func (c *Client) GetStatus(ctx context.Context, q StatusQuery) (*StatusResult, error) {
	if strings.TrimSpace(q.OrderID) == "" {
		return nil, fmt.Errorf("gateway get status: order id is required")
	}

	path := "/orders/" + url.PathEscape(q.OrderID)
	raw, err := c.do(ctx, "get status", http.MethodGet, path, nil, q.CustomerID, map[string]string{
		"version": statusAPIVersion,
	})
	if err != nil {
		return nil, err
	}

	var result StatusResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("gateway get status unmarshal: %w", err)
	}
	if result.OrderID == "" {
		result.OrderID = q.OrderID
	}
	result.Raw = raw
	return &result, nil
}

type refundResponse struct {
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	Refunds   []struct {
		UniqueRequestID string          `json:"unique_request_id"`
		Status          string          `json:"status"`
		Amount          json.RawMessage `json:"amount"`
		ErrorCode       string          `json:"error_code"`
	} `json:"refunds"`
}

// ProcessRefund submits a refund under a freshly generated request id.
func (c *Client) ProcessRefund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return nil, fmt.Errorf("gateway refund: order id is required")
	}

	refundID := NewRefundReference()
	body := refundBody{
		OrderID:         req.OrderID,
		Amount:          req.Amount.StringFixed(2),
		UniqueRequestID: refundID,
		Note:            req.Note,
	}

	raw, err := c.do(ctx, "refund", http.MethodPost, "/refund", body, "", nil)
	if err != nil {
		return nil, err
	}

	var resp refundResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("gateway refund unmarshal: %w", err)
	}

	result := &RefundResult{
		OrderID:   req.OrderID,
		RefundID:  refundID,
		Status:    resp.Status,
		Amount:    req.Amount,
		ErrorCode: resp.ErrorCode,
		Raw:       raw,
	}
	for _, r := range resp.Refunds {
		if r.UniqueRequestID == refundID {
			result.Status = r.Status
			result.ErrorCode = r.ErrorCode
		}
	}
	result.Success = refundAccepted(result.Status)
	return result, nil
}

func refundAccepted(status string) bool {
	switch strings.ToUpper(status) {
	case "SUCCESS", "PENDING", "MANUAL_REVIEW", "CHARGED":
		return true
	default:
		return false
	}
}

func (c *Client) do(ctx context.Context, op, method, path string, body any, customerID string, headers map[string]string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("gateway %s marshal: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("gateway %s request build: %w", op, err)
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-merchantid", c.cfg.MerchantID)
	req.Header.Set("x-customerid", customerID)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Gateway request failed", zap.String("op", op), zap.Error(err))
		return nil, fmt.Errorf("gateway %s request: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gateway %s read body: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("Gateway returned non-2xx",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode))
		return nil, &Error{Op: op, StatusCode: resp.StatusCode, Body: respBody}
	}
	return respBody, nil
}
